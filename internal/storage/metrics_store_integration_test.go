//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"

	"vault-riskbot/internal/config"
	"vault-riskbot/internal/vault"
)

func TestMetricsStoreAgainstRedis(t *testing.T) {
	ctx := context.Background()

	container, err := tcRedis.Run(ctx, "redis:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, config.RedisConfig{URL: url, DialTimeout: 5 * time.Second})
	require.NoError(t, err)
	store := NewMetricsStore(client)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, risk := range []string{"Low", "Medium", "High"} {
		m := vault.VaultMetrics{
			LTV:             decimal.NewFromFloat(0.1 * float64(i+1)),
			TVL:             decimal.NewFromInt(7000),
			LiquidationRisk: risk,
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			EventID:         "evt-" + risk,
		}
		require.NoError(t, store.StoreMetrics(ctx, "v1", "eth", m))
	}

	latest, err := store.LatestMetrics(ctx, "eth", "v1")
	require.NoError(t, err)
	assert.Equal(t, "High", latest.LiquidationRisk)

	entries, err := store.History(ctx, "eth", "v1", base, base.Add(2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "evt-Low", entries[0].Metrics.EventID)
	assert.Equal(t, "evt-Medium", entries[1].Metrics.EventID)

	var ids []vault.Identity
	require.NoError(t, store.ScanHistoryKeys(ctx, func(id vault.Identity) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []vault.Identity{{Network: "eth", VaultID: "v1"}}, ids)

	require.NoError(t, store.Ping(ctx))
}
