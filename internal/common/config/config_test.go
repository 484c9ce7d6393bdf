package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, "merch-settlement", cfg.Server.Name)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.5", cfg.Business.Commission.DefaultBrandRate)
	assert.Equal(t, "0.05", cfg.Business.Commission.ReferralRate)
	assert.False(t, cfg.Business.Commission.ExclusiveCarveOuts)
	assert.True(t, cfg.Business.Referral.RequireCompleted)
	assert.Equal(t, time.Duration(0), cfg.Business.Referral.Lifetime())
	assert.Equal(t, "USD", cfg.Business.Ledger.DefaultCurrency)
	assert.Equal(t, "mock", cfg.Business.Payout.Gateway)
	assert.Equal(t, 4, cfg.Business.Payout.MaxAttempts)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  mode: "release"
  port: 9000
business:
  commission:
    default_brand_rate: "0.6"
    exclusive_carve_outs: true
  referral:
    lifetime_days: 365
  payout:
    gateway: "stripe"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := load(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.IsRelease())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.6", cfg.Business.Commission.DefaultBrandRate)
	assert.True(t, cfg.Business.Commission.ExclusiveCarveOuts)
	assert.Equal(t, 365*24*time.Hour, cfg.Business.Referral.Lifetime())
	assert.Equal(t, "stripe", cfg.Business.Payout.Gateway)
	// 未覆盖的字段保持默认值
	assert.Equal(t, "0.05", cfg.Business.Commission.ReferralRate)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BUSINESS_PAYOUT_MAX_ATTEMPTS", "7")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Business.Payout.MaxAttempts)
	assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		Name: "ledger", SSLMode: "disable", Timezone: "UTC",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ledger sslmode=disable TimeZone=UTC", d.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
