package config

import "fmt"

const PersistenceTypeRedis string = "redis"
const PersistenceTypeRedisMock string = "redis-mock"
const PersistenceTypeFile string = "file"

type PersistenceConfig struct {
	Type      string
	FilePath  string
	KeyPrefix string
}

func (c PersistenceConfig) Validate(e RunningEnvironment) error {
	switch c.Type {
	case PersistenceTypeRedis:
	case PersistenceTypeRedisMock:
		if e != Development {
			return fmt.Errorf("persistence type cannot be %q in production", PersistenceTypeRedisMock)
		}
	case PersistenceTypeFile:
		if c.FilePath == "" {
			return fmt.Errorf("the file persistence needs a file path")
		}
	default:
		return fmt.Errorf("unrecognized persistence type %q", c.Type)
	}
	return nil
}

type RedisConfig struct {
	Addresses  []string
	IsSentinel bool
	Password   RedactedString
	MasterName string
	DBIndex    int
}

func (c RedisConfig) Validate(e RunningEnvironment, persistenceType string) error {
	if persistenceType == PersistenceTypeRedisMock {
		return nil
	}
	if len(c.Addresses) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}
	if c.IsSentinel && c.MasterName == "" {
		return fmt.Errorf("the redis master name is required when using sentinel")
	}
	return nil
}

type TokenEncryptionConfig struct {
	Enabled   bool
	SecretKey RedactedString
}

func (c TokenEncryptionConfig) Validate() error {
	if c.Enabled && len(c.SecretKey) != 32 {
		return fmt.Errorf(
			"token encryption key has to be 32 bytes long, the provided one is %d long",
			len(c.SecretKey),
		)
	}
	return nil
}
