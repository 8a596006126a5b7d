package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SERVER_PORT", "DATABASE_PATH", "INGRESS_RPS", "STORE_PAYLOADS", "ALERT_THRESHOLD_PERCENT", "CATALOG_SYNC_SCHEDULE", "SETTLE_TIMEOUT_SECONDS"} {
		t.Setenv(k, "")
	}

	c := Load()
	assert.Equal(t, "8000", c.ServerPort)
	assert.Equal(t, "./data/gateway.db", c.DatabasePath)
	assert.Equal(t, float64(50), c.IngressRPS)
	assert.Equal(t, 90, c.AlertThresholdPercent)
	assert.True(t, c.StorePayloads)
	assert.Empty(t, c.CatalogSyncSchedule)
	assert.Equal(t, 120, c.SettleTimeoutSeconds)
	assert.Same(t, c, Get())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("INGRESS_RPS", "2.5")
	t.Setenv("INGRESS_BURST", "not-a-number")
	t.Setenv("STORE_PAYLOADS", "off")
	t.Setenv("MAX_REQUEST_BODY_BYTES", "1024")
	t.Setenv("CATALOG_SYNC_SCHEDULE", "0 */6 * * *")
	t.Setenv("SETTLE_TIMEOUT_SECONDS", "300")

	c := Load()
	assert.Equal(t, "9090", c.ServerPort)
	assert.Equal(t, 2.5, c.IngressRPS)
	assert.Equal(t, 100, c.IngressBurst)
	assert.False(t, c.StorePayloads)
	assert.Equal(t, int64(1024), c.MaxRequestBodyBytes)
	assert.Equal(t, "0 */6 * * *", c.CatalogSyncSchedule)
	assert.Equal(t, 300, c.SettleTimeoutSeconds)
}
