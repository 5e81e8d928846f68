package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisAdapter persists the credential as plain redis strings under the accessToken and refreshToken keys
type RedisAdapter struct {
	rdb       LimitedRedisClient
	encryptor models.Encryptor
	keyPrefix string
}

func (r RedisAdapter) key(name string) string {
	return prefixedKey(r.keyPrefix, name)
}

func (r RedisAdapter) GetToken(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", gwerrors.ErrTokenNotFound
		}
		return "", err
	}
	return decryptValue(r.encryptor, val)
}

func (r RedisAdapter) SetToken(ctx context.Context, key string, value string) error {
	encValue, err := encryptValue(r.encryptor, value)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(key), encValue, 0).Err()
}

func (r RedisAdapter) RemoveToken(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

type RedisAdapterOption func(*RedisAdapter) error

func WithRedisConfig(redisConfig config.RedisConfig, persistenceType string) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		switch persistenceType {
		case config.PersistenceTypeRedis:
			if len(redisConfig.Addresses) == 0 {
				return fmt.Errorf("redis addresses are missing")
			}
			if redisConfig.IsSentinel {
				r.rdb = redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:       redisConfig.MasterName,
					SentinelAddrs:    redisConfig.Addresses,
					Password:         string(redisConfig.Password),
					DB:               redisConfig.DBIndex,
					SentinelPassword: string(redisConfig.Password),
				})
				return nil
			}
			r.rdb = redis.NewClient(&redis.Options{
				Password: string(redisConfig.Password),
				DB:       redisConfig.DBIndex,
				Addr:     redisConfig.Addresses[0],
			})
			return nil
		case config.PersistenceTypeRedisMock:
			r.rdb = NewMockRedisClient()
			return nil
		default:
			return fmt.Errorf("unrecognized persistence type %v", persistenceType)
		}
	}
}

func WithRedisClient(client LimitedRedisClient) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		r.rdb = client
		return nil
	}
}

func WithEncryption(secretKey string) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		encryptor, err := NewGCMEncryptor(secretKey)
		if err != nil {
			return err
		}
		r.encryptor = encryptor
		return nil
	}
}

func WithKeyPrefix(prefix string) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		r.keyPrefix = prefix
		return nil
	}
}

func NewRedisAdapter(options ...RedisAdapterOption) (*RedisAdapter, error) {
	db := RedisAdapter{}
	for _, opt := range options {
		err := opt(&db)
		if err != nil {
			return &RedisAdapter{}, err
		}
	}
	if db.rdb == nil {
		return &RedisAdapter{}, fmt.Errorf("redis client is not initialized")
	}
	return &db, nil
}

func prefixedKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}

func encryptValue(enc models.Encryptor, value string) (string, error) {
	if enc == nil {
		return value, nil
	}
	return enc.Encrypt(value)
}

func decryptValue(enc models.Encryptor, value string) (string, error) {
	if enc == nil {
		return value, nil
	}
	return enc.Decrypt(value)
}
