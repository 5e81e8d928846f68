package config

import (
	"fmt"
	"strings"
	"time"
)

type NotificationsConfig struct {
	AutoDismiss time.Duration
}

type NavigationConfig struct {
	LoginPath string
	HomePath  string
}

func (c NavigationConfig) Validate() error {
	if !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.HomePath, "/") {
		return fmt.Errorf("navigation paths have to be absolute, got %q and %q", c.LoginPath, c.HomePath)
	}
	return nil
}

type RefresherConfig struct {
	Enabled      bool
	Interval     time.Duration
	ExpiryMargin time.Duration
}

func (c RefresherConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return fmt.Errorf("the refresher interval has to be positive")
	}
	return nil
}

type ServerConfig struct {
	Host        string
	Port        int
	RateLimits  RateLimits
	AllowOrigin []string
}

type RateLimits struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type SentryConfig struct {
	Enabled     bool
	Dsn         RedactedString
	Environment string
	SampleRate  float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type MonitoringConfig struct {
	Sentry     SentryConfig
	Prometheus PrometheusConfig
}
