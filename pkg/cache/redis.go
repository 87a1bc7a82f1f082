package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/tutorhub-api/pkg/config"
)

const keyPrefix = "tutorhub"

// NewRedis returns a client for the read cache once it answers a ping.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// BalanceKey caches the balance projection of an enrollment.
func BalanceKey(enrollmentID string) string {
	return fmt.Sprintf("%s:enrollment:%s:balance", keyPrefix, enrollmentID)
}

// ProgressKey caches the curriculum progress view of an enrollment.
func ProgressKey(enrollmentID string) string {
	return fmt.Sprintf("%s:enrollment:%s:progress", keyPrefix, enrollmentID)
}

// EnrollmentPattern matches every read model cached for an enrollment.
func EnrollmentPattern(enrollmentID string) string {
	return fmt.Sprintf("%s:enrollment:%s:*", keyPrefix, enrollmentID)
}

// EnrollmentGenerationKey counts committed writes that touched an enrollment's read models.
func EnrollmentGenerationKey(enrollmentID string) string {
	return fmt.Sprintf("%s:generation:enrollment:%s", keyPrefix, enrollmentID)
}

// SessionsGenerationKey counts committed writes that touched any session.
func SessionsGenerationKey() string {
	return keyPrefix + ":generation:sessions"
}

// Versioned scopes key to a generation, so values loaded before a write are never read after it.
func Versioned(key string, generation int64) string {
	return fmt.Sprintf("%s:g%d", key, generation)
}

// SessionListKey caches a session listing for a filter fingerprint.
func SessionListKey(fingerprint string) string {
	return fmt.Sprintf("%s:sessions:%s", keyPrefix, fingerprint)
}

// SessionListPattern matches every cached session listing.
func SessionListPattern() string {
	return keyPrefix + ":sessions:*"
}
