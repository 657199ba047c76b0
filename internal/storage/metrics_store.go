package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"vault-riskbot/internal/metrics"
	"vault-riskbot/internal/vault"
)

// ErrNotFound indicates no metrics are stored for the vault.
var ErrNotFound = errors.New("storage: metrics not found")

const scanBatch = 200

// MetricsWriter persists one metrics record per processed event.
type MetricsWriter interface {
	StoreMetrics(ctx context.Context, vaultID, network string, m vault.VaultMetrics) error
}

// MetricsReader exposes the stored snapshots and history to downstream readers.
type MetricsReader interface {
	LatestMetrics(ctx context.Context, network, vaultID string) (vault.VaultMetrics, error)
	History(ctx context.Context, network, vaultID string, from, to time.Time, limit int64) ([]HistoryEntry, error)
	ScanHistoryKeys(ctx context.Context, fn func(id vault.Identity) error) error
}

// MetricsStore keeps vault metrics in Redis under a point key (latest snapshot,
// overwritten) and a history key (sorted set scored by epoch milliseconds).
// The two writes are independent: a failure between them leaves one of the
// records without its counterpart, and redelivery of the event fills the gap.
type MetricsStore struct {
	client redis.UniversalClient
}

// NewMetricsStore wraps a shared Redis client.
func NewMetricsStore(client redis.UniversalClient) *MetricsStore {
	return &MetricsStore{client: client}
}

// StoreMetrics overwrites the point key and appends to the history key, in that
// order, stopping at the first failure.
func (s *MetricsStore) StoreMetrics(ctx context.Context, vaultID, network string, m vault.VaultMetrics) error {
	if s == nil || s.client == nil {
		return &vault.StorageError{Op: "connect", Err: ErrNotConfigured}
	}

	pointKey := PointKey(vaultID, network)
	historyKey := HistoryKey(vaultID, network)

	payload, err := json.Marshal(m)
	if err != nil {
		return &vault.StorageError{Op: "encode", Key: pointKey, Err: err}
	}
	member := string(payload)

	if err := s.client.Set(ctx, pointKey, member, 0).Err(); err != nil {
		metrics.StoreWrites.WithLabelValues("point", "error").Inc()
		return &vault.StorageError{Op: "set", Key: pointKey, Err: err}
	}
	metrics.StoreWrites.WithLabelValues("point", "ok").Inc()

	score := float64(m.Timestamp.UnixMilli())
	if err := s.client.ZAdd(ctx, historyKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		metrics.StoreWrites.WithLabelValues("history", "error").Inc()
		return &vault.StorageError{Op: "zadd", Key: historyKey, Err: err}
	}
	metrics.StoreWrites.WithLabelValues("history", "ok").Inc()
	return nil
}

// LatestMetrics returns the point snapshot for a vault.
func (s *MetricsStore) LatestMetrics(ctx context.Context, network, vaultID string) (vault.VaultMetrics, error) {
	if s == nil || s.client == nil {
		return vault.VaultMetrics{}, ErrNotConfigured
	}

	key := PointKey(vaultID, network)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return vault.VaultMetrics{}, ErrNotFound
	}
	if err != nil {
		return vault.VaultMetrics{}, fmt.Errorf("get %s: %w", key, err)
	}

	var m vault.VaultMetrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return vault.VaultMetrics{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return m, nil
}

// History returns entries scored within [from, to) in ascending score order.
// A zero bound is open; limit <= 0 returns everything in the window.
func (s *MetricsStore) History(ctx context.Context, network, vaultID string, from, to time.Time, limit int64) ([]HistoryEntry, error) {
	if s == nil || s.client == nil {
		return nil, ErrNotConfigured
	}

	key := HistoryKey(vaultID, network)
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !from.IsZero() {
		rangeBy.Min = strconv.FormatInt(from.UnixMilli(), 10)
	}
	if !to.IsZero() {
		rangeBy.Max = "(" + strconv.FormatInt(to.UnixMilli(), 10)
	}
	if limit > 0 {
		rangeBy.Count = limit
	}

	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}

	entries := make([]HistoryEntry, 0, len(zs))
	for _, z := range zs {
		raw, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("history %s: unexpected member type %T", key, z.Member)
		}
		var m vault.VaultMetrics
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode history entry of %s: %w", key, err)
		}
		entries = append(entries, HistoryEntry{
			Network:  network,
			VaultID:  vaultID,
			ScoredAt: time.UnixMilli(int64(z.Score)).UTC(),
			Metrics:  m,
			Raw:      json.RawMessage(raw),
		})
	}
	return entries, nil
}

// ScanHistoryKeys walks every history key and calls fn with the vault it
// belongs to. Keys that do not parse are skipped.
func (s *MetricsStore) ScanHistoryKeys(ctx context.Context, fn func(id vault.Identity) error) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, HistoryKeyPattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan history keys: %w", err)
		}
		for _, key := range keys {
			network, vaultID, ok := ParseHistoryKey(key)
			if !ok {
				continue
			}
			if err := fn(vault.Identity{Network: network, VaultID: vaultID}); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping verifies connectivity.
func (s *MetricsStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *MetricsStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var (
	_ MetricsWriter = (*MetricsStore)(nil)
	_ MetricsReader = (*MetricsStore)(nil)
)
