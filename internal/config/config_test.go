package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AuthSecret:        "0123456789abcdef0123456789abcdef",
		ResultSource:      ResultSourceDirect,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		TaskBatchSize:     25,
	}
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, validate(validConfig()))
}

func TestValidate_MissingSecret(t *testing.T) {
	cfg := validConfig()
	cfg.AuthSecret = ""
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SECRET")
}

func TestValidate_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.AuthSecret = "tooshort"
	require.Error(t, validate(cfg))
}

func TestValidate_UnknownResultSource(t *testing.T) {
	cfg := validConfig()
	cfg.ResultSource = "carrier-pigeon"
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESULT_SOURCE")
}

func TestValidate_HeartbeatTimeoutMustExceedInterval(t *testing.T) {
	cfg := validConfig()
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEARTBEAT_TIMEOUT")

	cfg.HeartbeatTimeout = cfg.HeartbeatInterval + time.Second
	assert.NoError(t, validate(cfg))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("PORT", "9999")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HEARTBEAT_TIMEOUT", "25s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, ResultSourceDirect, cfg.ResultSource)
	assert.True(t, cfg.StrictRequestIDs)
}

func TestLoad_ResultDurablePerInstance(t *testing.T) {
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123456789abcdef")

	t.Run("derived from hostname when unset", func(t *testing.T) {
		t.Setenv("RESULT_DURABLE", "")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(cfg.ResultDurable, "push-results-"))
		assert.NotEqual(t, "push-results-", cfg.ResultDurable)
		assert.NotContains(t, cfg.ResultDurable, ".")
	})

	t.Run("explicit value wins", func(t *testing.T) {
		t.Setenv("RESULT_DURABLE", "push-results-pod-7")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "push-results-pod-7", cfg.ResultDurable)
	})
}

func TestSanitizeDurable(t *testing.T) {
	assert.Equal(t, "node-1-eu-west", sanitizeDurable("node-1.eu west"))
	assert.Equal(t, "plain", sanitizeDurable("plain"))
}
