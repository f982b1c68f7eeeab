package middleware

import (
	"bookmart/apperr"
	"bookmart/jwt"
	"bookmart/logger"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"io"
	"net/http"
	"strings"
)

const mysqlDuplicateEntry = 1062

// ErrorHandler turns the last error attached to the context into a JSON
// response. Handlers report failures with c.Error and return.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, body := Describe(err)
		if status >= http.StatusInternalServerError {
			logger.Ctx(c.Request.Context()).Error().Err(err).
				Str("path", c.FullPath()).
				Msg("request failed")
		}
		c.AbortWithStatusJSON(status, body)
	}
}

// Describe maps err to a status code and response body.
func Describe(err error) (int, gin.H) {
	if appErr, ok := apperr.As(err); ok {
		body := gin.H{"message": appErr.Message}
		if appErr.Err != nil && appErr.Status < http.StatusInternalServerError {
			body["error"] = appErr.Err.Error()
		}
		return appErr.Status, body
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			fields[lowerFirst(fe.Field())] = validationMessage(fe)
		}
		return http.StatusBadRequest, gin.H{"message": "validation failed", "errors": fields}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return http.StatusBadRequest, gin.H{"message": "malformed JSON body", "error": err.Error()}
	case errors.As(err, &typeErr):
		return http.StatusBadRequest, gin.H{"message": fmt.Sprintf("invalid value for field %s", typeErr.Field)}
	case errors.Is(err, io.EOF):
		return http.StatusBadRequest, gin.H{"message": "request body is empty"}
	}

	if isDuplicateKey(err) {
		return http.StatusBadRequest, gin.H{"message": "duplicate field value"}
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return http.StatusBadRequest, gin.H{"message": "referenced record does not exist"}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, gin.H{"message": "resource not found"}
	}

	if jwt.IsTokenError(err) {
		message := "invalid token"
		switch {
		case errors.Is(err, jwtlib.ErrTokenExpired):
			message = "token expired"
		case errors.Is(err, jwt.ErrTokenRevoked):
			message = "token revoked"
		}
		return http.StatusUnauthorized, gin.H{"message": message}
	}

	return http.StatusInternalServerError, gin.H{"message": "internal server error"}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
