package config

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig(t *testing.T) Config {
	baseURL, err := url.Parse("https://api.example.org/api")
	require.NoError(t, err)
	return Config{
		RunningEnvironment: Production,
		API:                APIConfig{BaseURL: baseURL, CorrelationHeader: "X-Request-ID"},
		Persistence:        PersistenceConfig{Type: PersistenceTypeFile, FilePath: "/tmp/creds.json"},
		Navigation:         NavigationConfig{LoginPath: "/login", HomePath: "/"},
	}
}

func TestConfigValidate(t *testing.T) {
	type testCase struct {
		name   string
		modify func(*Config)
		errMsg string
	}
	testCases := []testCase{
		{"valid", func(c *Config) {}, ""},
		{"unknown environment", func(c *Config) { c.RunningEnvironment = "staging" }, "unknown running environment"},
		{"missing base url", func(c *Config) { c.API.BaseURL = nil }, "base url"},
		{"http in production", func(c *Config) { c.API.BaseURL.Scheme = "http" }, "https"},
		{"file without path", func(c *Config) { c.Persistence.FilePath = "" }, "file path"},
		{"unknown persistence", func(c *Config) { c.Persistence.Type = "sqlite" }, "unrecognized persistence"},
		{"redis without address", func(c *Config) { c.Persistence.Type = PersistenceTypeRedis }, "redis address"},
		{"short encryption key", func(c *Config) {
			c.TokenEncryption = TokenEncryptionConfig{Enabled: true, SecretKey: "short"}
		}, "32 bytes"},
		{"relative login path", func(c *Config) { c.Navigation.LoginPath = "login" }, "absolute"},
		{"refresher without interval", func(c *Config) { c.Refresher.Enabled = true }, "interval"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig(t)
			tc.modify(&c)
			err := c.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestRedactedString(t *testing.T) {
	redactedString := RedactedString("some-secret-value")

	assert.Equal(t, "<redacted-17-chars>", redactedString.String())

	result, err := redactedString.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "<redacted-17-chars>", string(result))

	result, err = json.Marshal(map[string]any{"secret": redactedString})
	require.NoError(t, err)
	assert.Equal(t, "{\"secret\":\"\\u003credacted-17-chars\\u003e\"}", string(result))
}

func TestRedactedStringYAML(t *testing.T) {
	redis := RedisConfig{Addresses: []string{"localhost:6379"}, Password: RedactedString("redis-password")}
	result, err := yaml.Marshal(redis)
	require.NoError(t, err)
	assert.Contains(t, string(result), "password: <redacted-14-chars>")
	assert.NotContains(t, string(result), "redis-password")
}
