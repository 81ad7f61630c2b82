package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	t.Setenv("PERP_TEST_SECRET", "s3cr3t")
	t.Setenv("PERP_TRADING_QTY", "250")

	path := writeConfig(t, `
exchange:
  testnet: false
  api_key: plain-key
  api_secret: ${PERP_TEST_SECRET}
stream:
  heartbeat_interval: 30s
trading:
  strategy: ema
  qty: 10
  cancel_orphans: true
`)

	cfg, err := Load(path, quietLogger())
	require.NoError(t, err)

	assert.False(t, cfg.Exchange.Testnet)
	assert.Equal(t, "plain-key", cfg.Exchange.APIKey)
	assert.Equal(t, "s3cr3t", cfg.Exchange.APISecret)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Stream.ReadTimeout)
	assert.Equal(t, time.Hour, cfg.Stream.BookResyncInterval)
	assert.Equal(t, "ema", cfg.Trading.Strategy)
	assert.Equal(t, int64(250), cfg.Trading.Qty)
	assert.True(t, cfg.Trading.CancelOrphans)
	assert.Equal(t, time.Second, cfg.Exchange.RequestLookahead)
	assert.Equal(t, "bybit-api-key", cfg.GCP.SecretNames.APIKey)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), quietLogger())
	assert.Error(t, err)
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("PERP_REF", "value")

	assert.Equal(t, "value", ResolveEnv("${PERP_REF}"))
	assert.Equal(t, "value", ResolveEnv("$PERP_REF"))
	assert.Equal(t, "", ResolveEnv("${PERP_UNSET_REF}"))
	assert.Equal(t, "literal", ResolveEnv("literal"))
	assert.Equal(t, "$", ResolveEnv("$"))
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
exchange:
  api_key: k
  api_secret: s
`)
	cfg, err := Load(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Exchange.APISecret = ""
	assert.ErrorContains(t, bad.Validate(), "api_secret")

	bad = *cfg
	bad.Trading.Strategy = "macd"
	assert.ErrorContains(t, bad.Validate(), "macd")

	bad = *cfg
	bad.Trading.OrderType = "Stop"
	assert.ErrorContains(t, bad.Validate(), "order_type")

	bad = *cfg
	bad.Stream.HeartbeatInterval = 0
	assert.ErrorContains(t, bad.Validate(), "stream.heartbeat_interval")

	bad = *cfg
	bad.Server.Enabled = true
	assert.ErrorContains(t, bad.Validate(), "jwt_secret")
}
