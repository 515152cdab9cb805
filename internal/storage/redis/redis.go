package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sealed_love_auth/internal/models"
	"sealed_love_auth/internal/storage"

	"github.com/redis/go-redis/v9"
)

// Key prefixes keep auth artifacts apart from anything else sharing the
// store. All live under the application prefix "sealed:".
const (
	codeKeyPrefix  = "sealed:verification-code:"
	tokenKeyPrefix = "sealed:token:"
	rateKeyPrefix  = "sealed:rl:"
)

type RedisRepo struct {
	client *redis.Client
}

// consumeScript deletes the stored code only if it equals the submitted
// value, making fetch-and-delete a single atomic step.
var consumeScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		redis.call('DEL', KEYS[1])
		return 1
	end
	return 0
`)

// rateScript counts a hit in a fixed window, setting the window TTL on
// the first hit only.
var rateScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

// SetCodeNX stores a verification code for an email unless one is already
// present. Returns true if this call stored the code.
func (r *RedisRepo) SetCodeNX(ctx context.Context, email, code string, ttl time.Duration) (bool, error) {
	const op = "storage.redis.SetCodeNX"

	ok, err := r.client.SetNX(ctx, codeKeyPrefix+email, code, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (r *RedisRepo) GetCode(ctx context.Context, email string) (string, error) {
	const op = "storage.redis.GetCode"

	val, err := r.client.Get(ctx, codeKeyPrefix+email).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrCodeNotFound
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return val, nil
}

// ConsumeCode atomically compares the stored code with the submitted one
// and deletes it on match. Returns true exactly once per stored code.
func (r *RedisRepo) ConsumeCode(ctx context.Context, email, code string) (bool, error) {
	const op = "storage.redis.ConsumeCode"

	res, err := consumeScript.Run(ctx, r.client, []string{codeKeyPrefix + email}, code).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return res == 1, nil
}

func (r *RedisRepo) DeleteCode(ctx context.Context, email string) error {
	const op = "storage.redis.DeleteCode"

	if err := r.client.Del(ctx, codeKeyPrefix+email).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisRepo) SetToken(ctx context.Context, token string, rec models.TokenRecord, ttl time.Duration) error {
	const op = "storage.redis.SetToken"

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.client.Set(ctx, tokenKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// GetToken returns the stored record for a token. A value that does not
// deserialize is treated as a miss, never as a fatal error.
func (r *RedisRepo) GetToken(ctx context.Context, token string) (models.TokenRecord, error) {
	const op = "storage.redis.GetToken"

	val, err := r.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.TokenRecord{}, storage.ErrTokenNotFound
		}

		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	var rec models.TokenRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return models.TokenRecord{}, storage.ErrTokenNotFound
	}

	return rec, nil
}

func (r *RedisRepo) DeleteToken(ctx context.Context, token string) error {
	const op = "storage.redis.DeleteToken"

	if err := r.client.Del(ctx, tokenKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// CountHit registers one hit against a fixed rate-limit window and
// returns the running count within it.
func (r *RedisRepo) CountHit(ctx context.Context, key string, window time.Duration) (int64, error) {
	const op = "storage.redis.CountHit"

	n, err := rateScript.Run(ctx, r.client, []string{rateKeyPrefix + key}, int64(window/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (r *RedisRepo) Close() {
	r.client.Close()
}
