package cache

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"strconv"
	"time"
)

const resetTokenPrefix = "password_reset:"

var ErrResetTokenNotFound = errors.New("reset token is invalid or expired")

// ResetTokens stores single-use password reset tokens.
type ResetTokens struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewResetTokens(rdb *redis.Client, ttl time.Duration) *ResetTokens {
	return &ResetTokens{rdb: rdb, ttl: ttl}
}

func (r *ResetTokens) Issue(ctx context.Context, userID uint) (string, error) {
	token := uuid.NewString()
	err := r.rdb.Set(ctx, resetTokenPrefix+token, userID, r.ttl).Err()
	if err != nil {
		return "", err
	}
	return token, nil
}

// Consume returns the user the token was issued for and deletes it.
func (r *ResetTokens) Consume(ctx context.Context, token string) (uint, error) {
	value, err := r.rdb.GetDel(ctx, resetTokenPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrResetTokenNotFound
		}
		return 0, err
	}

	userID, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, ErrResetTokenNotFound
	}
	return uint(userID), nil
}
