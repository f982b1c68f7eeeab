package handlers

import (
	"bookmart/apperr"
	"bookmart/audit"
	"bookmart/cache"
	"bookmart/config"
	"bookmart/jwt"
	"bookmart/logger"
	"bookmart/mailer"
	"bookmart/metrics"
	"bookmart/middleware"
	"bookmart/models"
	"bookmart/payment"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"strconv"
	"strings"
)

const (
	defaultPageSize = 12
	maxPageSize     = 50
)

// Handler carries the dependencies shared by every endpoint.
type Handler struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Books    *cache.BookCache
	Resets   *cache.ResetTokens
	Tokens   *jwt.Manager
	Payments payment.Gateway
	Mailer   mailer.Sender
	Audit    audit.Recorder
	Metrics  *metrics.Metrics
	Config   config.Config
}

// currentUserID is only called behind CheckLoginMiddleware.
func currentUserID(c *gin.Context) (uint, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return 0, apperr.Unauthorized("not logged in")
	}
	return userID, nil
}

func isAdmin(c *gin.Context) bool {
	role, _ := c.Get(middleware.ContextRole)
	return role == models.RoleAdmin
}

func paramID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.BadRequest("invalid " + name)
	}
	return uint(id), nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern builds a case-insensitive LIKE pattern matching search
// literally. Use it with ESCAPE '!'.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

type pagination struct {
	Page  int
	Limit int
}

func (p pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

func (p pagination) meta(total int64) gin.H {
	pages := (total + int64(p.Limit) - 1) / int64(p.Limit)
	return gin.H{"page": p.Page, "limit": p.Limit, "total": total, "pages": pages}
}

func parsePagination(c *gin.Context) (pagination, error) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return pagination{}, apperr.BadRequest("invalid page")
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		return pagination{}, apperr.BadRequest("invalid limit")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return pagination{Page: page, Limit: limit}, nil
}

func (h *Handler) recordAudit(c *gin.Context, entity string, entityID uint, action string, data interface{}) {
	actorID, _ := middleware.UserID(c)
	err := h.Audit.Record(c.Request.Context(), audit.Entry{
		ActorID:  actorID,
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		Data:     data,
	})
	if err != nil {
		logger.Ctx(c.Request.Context()).Warn().Err(err).Str("entity", entity).Str("action", action).Msg("audit record failed")
	}
}
