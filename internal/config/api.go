package config

import (
	"fmt"
	"net/url"
	"time"
)

const developmentTimeout = 15 * time.Second
const productionTimeout = 30 * time.Second

type APIConfig struct {
	BaseURL *url.URL
	// Timeout of a single outbound request, when unset it depends on the running environment
	Timeout           time.Duration
	RefreshTimeout    time.Duration
	ContentType       string
	CorrelationHeader string
}

// RequestTimeout returns the configured timeout or the default for the environment.
func (c APIConfig) RequestTimeout(e RunningEnvironment) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	if e == Production {
		return productionTimeout
	}
	return developmentTimeout
}

func (c APIConfig) Validate(e RunningEnvironment) error {
	if c.BaseURL == nil || c.BaseURL.Host == "" {
		return fmt.Errorf("the api config is missing the base url")
	}
	if c.BaseURL.Scheme != "http" && c.BaseURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q for the api base url", c.BaseURL.Scheme)
	}
	if e == Production && c.BaseURL.Scheme != "https" {
		return fmt.Errorf("the api base url has to use https in production")
	}
	if c.Timeout < 0 || c.RefreshTimeout < 0 {
		return fmt.Errorf("api timeouts cannot be negative")
	}
	if c.CorrelationHeader == "" {
		return fmt.Errorf("the api correlation header cannot be empty")
	}
	return nil
}
