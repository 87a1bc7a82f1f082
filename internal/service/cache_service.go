package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/pkg/cache"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Generation(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) error
}

// CacheService keeps dashboard read models (balances, progress trees, session pages) in
// front of Postgres. A nil or disabled CacheService turns every call into a miss.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get loads key into dest and reports a hit. Redis failures count as misses.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores value under key. A zero ttl uses the service default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes every key matching pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// generation reads the write counter of scope. ok is false when the cache cannot be trusted.
func (s *CacheService) generation(ctx context.Context, scope string) (int64, bool) {
	if !s.Enabled() {
		return 0, false
	}
	gen, err := s.repo.Generation(ctx, scope)
	if err != nil {
		s.logger.Warn("cache generation read failed", zap.String("scope", scope), zap.Error(err))
		return 0, false
	}
	return gen, true
}

// bump moves scope to a new generation and drops the keys of the old ones.
func (s *CacheService) bump(ctx context.Context, scope, pattern string) {
	if err := s.repo.Bump(ctx, scope); err != nil {
		s.logger.Warn("cache generation bump failed", zap.String("scope", scope), zap.Error(err))
	}
	_ = s.Invalidate(ctx, pattern)
}

// InvalidateEnrollments retires the balance and progress views of each enrollment along
// with every cached session listing when sessionsChanged is set.
func (s *CacheService) InvalidateEnrollments(ctx context.Context, enrollmentIDs []string, sessionsChanged bool) {
	if !s.Enabled() {
		return
	}
	seen := make(map[string]struct{}, len(enrollmentIDs))
	for _, id := range enrollmentIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		s.bump(ctx, cache.EnrollmentGenerationKey(id), cache.EnrollmentPattern(id))
	}
	if sessionsChanged {
		s.bump(ctx, cache.SessionsGenerationKey(), cache.SessionListPattern())
	}
}

// readThrough serves key from the cache or computes it with load and stores the result.
// The stored key carries the generation of scope read before load, so a value loaded while
// a write commits lands under a generation no later reader asks for. Errors from load are
// returned untouched and never cached.
func readThrough[T any](ctx context.Context, c *CacheService, scope, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	gen, ok := c.generation(ctx, scope)
	if !ok {
		return load()
	}
	key = cache.Versioned(key, gen)

	var cached T
	if hit, _ := c.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	_ = c.Set(ctx, key, value, ttl)
	return value, nil
}
