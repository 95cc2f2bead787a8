package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/service"
	"payrecon.com/pkg/config"
)

func TestDefaultConfigLoads(t *testing.T) {
	var cfg Cfg
	require.NoError(t, config.LoadFile("recon-service", "../../config/recon-service.yaml", &cfg))

	assert.Equal(t, "recon-service", cfg.Name)
	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, 50, cfg.Lock.RetryTimes)
	assert.Equal(t, 20*time.Millisecond, cfg.Lock.RetryInterval)

	assert.Equal(t, 24*time.Hour, cfg.Matching.StaleAfter)
	assert.Equal(t, "0.000001", cfg.Matching.Tolerance.Methods["crypto"])
	require.NotNil(t, cfg.Matching.Reference.CaseInsensitive)
	assert.True(t, *cfg.Matching.Reference.CaseInsensitive)
	_, err := service.NewTolerance(cfg.Matching.Tolerance)
	require.NoError(t, err)

	assert.Equal(t, "https://api-m.sandbox.paypal.com", cfg.Gateway.BaseURL)
	assert.Equal(t, "USD", cfg.Gateway.Currency)
	assert.Equal(t, 30*time.Minute, cfg.Gateway.SessionTimeout)
	assert.EqualValues(t, 5, cfg.Gateway.Breaker.TripConsecutiveFailures)

	assert.Equal(t, "recon:ledger", cfg.Feed.Redis.Stream)
	assert.False(t, cfg.Feed.Nats.Enabled)
	require.Len(t, cfg.Sentinel.Flow, 1)
}
