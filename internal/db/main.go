// Package db contains the persistence adapters for the credential.
package db

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
)

// NewTokenRepository picks the adapter that matches the configured persistence type
func NewTokenRepository(c config.Config) (models.TokenRepository, error) {
	switch c.Persistence.Type {
	case config.PersistenceTypeRedis, config.PersistenceTypeRedisMock:
		options := []RedisAdapterOption{
			WithRedisConfig(c.Redis, c.Persistence.Type),
			WithKeyPrefix(c.Persistence.KeyPrefix),
		}
		if c.TokenEncryption.Enabled {
			options = append(options, WithEncryption(string(c.TokenEncryption.SecretKey)))
		}
		return NewRedisAdapter(options...)
	case config.PersistenceTypeFile:
		options := []FileAdapterOption{
			WithFilePath(c.Persistence.FilePath),
			WithFileKeyPrefix(c.Persistence.KeyPrefix),
		}
		if c.TokenEncryption.Enabled {
			options = append(options, WithFileEncryption(string(c.TokenEncryption.SecretKey)))
		}
		return NewFileAdapter(options...)
	default:
		return nil, fmt.Errorf("unrecognized persistence type %v", c.Persistence.Type)
	}
}
