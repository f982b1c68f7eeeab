package jwt

import (
	"bookmart/config"
	"bookmart/models"
	"crypto/rsa"
	"errors"
	"fmt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"os"
	"time"
)

var ErrTokenRevoked = errors.New("token has been revoked")

type Claims struct {
	jwt.RegisteredClaims
	UserID uint   `json:"userID"`
	Role   string `json:"role"`
}

// Manager signs and verifies login tokens. Keys are read once at startup.
type Manager struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	ttl       time.Duration
	db        *gorm.DB
}

func NewManager(cfg config.Config, db *gorm.DB) (*Manager, error) {
	if cfg.JWT.PrivateKeyPath != "" && cfg.JWT.PublicKeyPath != "" {
		privateKey, err := loadPrivateKey(cfg.JWT.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt private key: %w", err)
		}
		publicKey, err := loadPublicKey(cfg.JWT.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		return NewRSAManager(privateKey, publicKey, cfg.TokenTTL(), db), nil
	}
	return NewHMACManager([]byte(cfg.JWT.Secret), cfg.TokenTTL(), db), nil
}

func NewRSAManager(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, ttl time.Duration, db *gorm.DB) *Manager {
	return &Manager{
		method:    jwt.SigningMethodRS256,
		signKey:   privateKey,
		verifyKey: publicKey,
		ttl:       ttl,
		db:        db,
	}
}

func NewHMACManager(secret []byte, ttl time.Duration, db *gorm.DB) *Manager {
	return &Manager{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		ttl:       ttl,
		db:        db,
	}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyBytes)
}

// GenerateToken signs a token for user and stores it as a LoginToken so it
// can be revoked on logout.
func (m *Manager) GenerateToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	token := jwt.NewWithClaims(m.method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Role:   user.Role,
	})

	tokenString, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}

	loginToken := models.LoginToken{
		Token:          tokenString,
		ExpirationTime: expiresAt,
		UserID:         user.ID,
		Role:           user.Role,
	}
	if err := m.db.Create(&loginToken).Error; err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// VerifyToken checks the signature and expiry, then that the token was not
// revoked, and returns its claims.
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.verifyKey, nil
	}, jwt.WithValidMethods([]string{m.method.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}

	var loginToken models.LoginToken
	err = m.db.Where("token = ?", tokenString).First(&loginToken).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, err
	}

	// the stored role wins so a role change takes effect without re-login
	claims.Role = loginToken.Role
	return claims, nil
}

// RevokeToken deletes a single login token. It reports whether a row existed.
func (m *Manager) RevokeToken(tokenString string) (bool, error) {
	result := m.db.Unscoped().Where("token = ?", tokenString).Delete(&models.LoginToken{})
	return result.RowsAffected > 0, result.Error
}

// RevokeUserTokens signs a user out everywhere.
func (m *Manager) RevokeUserTokens(userID uint) error {
	return m.db.Unscoped().Where("user_id = ?", userID).Delete(&models.LoginToken{}).Error
}

// UpdateUserRole keeps issued tokens in line with a changed role.
func (m *Manager) UpdateUserRole(userID uint, role string) error {
	return m.db.Model(&models.LoginToken{}).Where("user_id = ?", userID).Update("role", role).Error
}

// IsTokenError reports whether err came from parsing or validating a token.
func IsTokenError(err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenUnverifiable) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims) ||
		errors.Is(err, ErrTokenRevoked)
}
