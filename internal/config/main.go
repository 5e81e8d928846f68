package config

import (
	"fmt"
	"strings"
)

type RunningEnvironment string

const Development RunningEnvironment = "development"
const Production RunningEnvironment = "production"

type Config struct {
	RunningEnvironment RunningEnvironment
	DebugMode          bool
	API                APIConfig
	Persistence        PersistenceConfig
	Redis              RedisConfig
	TokenEncryption    TokenEncryptionConfig
	Notifications      NotificationsConfig
	Navigation         NavigationConfig
	Refresher          RefresherConfig
	Server             ServerConfig
	Monitoring         MonitoringConfig
}

func (r RunningEnvironment) Validate() error {
	switch r {
	case Development, Production:
		return nil
	default:
		return fmt.Errorf("unknown running environment %q (must be one of %s, %s)", r, Development, Production)
	}
}

func (c *Config) Validate() error {
	c.RunningEnvironment = RunningEnvironment(strings.ToLower(string(c.RunningEnvironment)))
	err := c.RunningEnvironment.Validate()
	if err != nil {
		return err
	}
	err = c.API.Validate(c.RunningEnvironment)
	if err != nil {
		return err
	}
	err = c.Persistence.Validate(c.RunningEnvironment)
	if err != nil {
		return err
	}
	if c.Persistence.Type == PersistenceTypeRedis || c.Persistence.Type == PersistenceTypeRedisMock {
		err = c.Redis.Validate(c.RunningEnvironment, c.Persistence.Type)
		if err != nil {
			return err
		}
	}
	err = c.TokenEncryption.Validate()
	if err != nil {
		return err
	}
	err = c.Navigation.Validate()
	if err != nil {
		return err
	}
	return c.Refresher.Validate()
}
