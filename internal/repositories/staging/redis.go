package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	redisReferencePrefix = "checkout:staging:ref:"
	redisOwnerPrefix     = "checkout:staging:owner:"
)

// RedisClient is the subset of go-redis used by RedisRepository.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRepository stages checkouts in Redis. Records are stored by reference with an owner pointer
// so a new checkout for the same owner evicts the previous one; expiry is left to key TTLs.
type RedisRepository struct {
	rdb RedisClient
	ttl time.Duration
	now func() time.Time
}

// NewRedisRepository constructs a Redis backed staging repository.
func NewRedisRepository(rdb RedisClient, ttl time.Duration) (*RedisRepository, error) {
	if rdb == nil {
		return nil, errors.New("staging: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisRepository{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

// Stage implements repositories.StagingRepository.
func (r *RedisRepository) Stage(ctx context.Context, record domain.StagedCheckout) error {
	record, err := normalizeRecord(record, r.now())
	if err != nil {
		return err
	}
	previous, err := r.rdb.Get(ctx, redisOwnerPrefix+record.OwnerKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("staging: load owner pointer: %w", err)
	case previous != record.Reference:
		if err := r.rdb.Del(ctx, redisReferencePrefix+previous).Err(); err != nil {
			return fmt.Errorf("staging: evict previous record: %w", err)
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("staging: encode record: %w", err)
	}
	if err := r.rdb.Set(ctx, redisReferencePrefix+record.Reference, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("staging: save record: %w", err)
	}
	if err := r.rdb.Set(ctx, redisOwnerPrefix+record.OwnerKey, record.Reference, r.ttl).Err(); err != nil {
		return fmt.Errorf("staging: save owner pointer: %w", err)
	}
	return nil
}

// AttachSession implements repositories.StagingRepository.
func (r *RedisRepository) AttachSession(ctx context.Context, reference string, sessionID string) error {
	record, err := r.FindByReference(ctx, reference)
	if err != nil {
		return err
	}
	record.GatewaySessionID = strings.TrimSpace(sessionID)
	record.UpdatedAt = r.now().UTC()
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("staging: encode record: %w", err)
	}
	if err := r.rdb.Set(ctx, redisReferencePrefix+record.Reference, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("staging: save record: %w", err)
	}
	return nil
}

// FindByReference implements repositories.StagingRepository.
func (r *RedisRepository) FindByReference(ctx context.Context, reference string) (domain.StagedCheckout, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return domain.StagedCheckout{}, errors.New("staging: reference is required")
	}
	raw, err := r.rdb.Get(ctx, redisReferencePrefix+ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StagedCheckout{}, repositories.NewNotFoundError("staging.find", fmt.Sprintf("staged checkout %s not found", ref))
	}
	if err != nil {
		return domain.StagedCheckout{}, fmt.Errorf("staging: load record: %w", err)
	}
	var record domain.StagedCheckout
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.StagedCheckout{}, fmt.Errorf("staging: decode record: %w", err)
	}
	return record, nil
}

// Clear implements repositories.StagingRepository.
func (r *RedisRepository) Clear(ctx context.Context, reference string) error {
	record, err := r.FindByReference(ctx, reference)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	keys := []string{redisReferencePrefix + record.Reference}
	owner, err := r.rdb.Get(ctx, redisOwnerPrefix+record.OwnerKey).Result()
	if err == nil && owner == record.Reference {
		keys = append(keys, redisOwnerPrefix+record.OwnerKey)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("staging: clear record: %w", err)
	}
	return nil
}

var _ repositories.StagingRepository = (*RedisRepository)(nil)
