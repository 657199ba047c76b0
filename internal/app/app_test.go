package app

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-riskbot/internal/storage"
	"vault-riskbot/internal/vault"
)

func historyFixture(n int) []storage.HistoryEntry {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := make([]storage.HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		score := decimal.NewFromFloat(0.1 + float64(i)*0.05)
		entries = append(entries, storage.HistoryEntry{
			Network:  "eth",
			VaultID:  "v1",
			ScoredAt: base.Add(time.Duration(i) * time.Minute),
			Metrics: vault.VaultMetrics{
				LTV:             decimal.NewFromFloat(0.2 + float64(i)*0.01),
				TVL:             decimal.NewFromInt(int64(5000 + i*250)),
				RiskScore:       &score,
				LiquidationRisk: "Low",
				Timestamp:       base.Add(time.Duration(i) * time.Minute),
				EventID:         "evt-" + string(rune('a'+i)),
			},
		})
	}
	return entries
}

func TestDownsampleEntries(t *testing.T) {
	entries := historyFixture(10)

	assert.Len(t, downsampleEntries(entries, 0), 10)
	assert.Len(t, downsampleEntries(entries, 20), 10)

	picked := downsampleEntries(entries, 4)
	require.Len(t, picked, 4)
	assert.Equal(t, entries[0].Metrics.EventID, picked[0].Metrics.EventID)
	assert.Equal(t, entries[9].Metrics.EventID, picked[3].Metrics.EventID)

	last := downsampleEntries(entries, 1)
	require.Len(t, last, 1)
	assert.Equal(t, entries[9].Metrics.EventID, last[0].Metrics.EventID)
}

func TestWriteHistoryCSV(t *testing.T) {
	entries := historyFixture(2)
	entries[1].Metrics.RiskScore = nil
	entries[1].Metrics.Timestamp = time.Time{}

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, writeHistoryCSV(path, entries))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"recorded_at", "event_id", "ltv", "tvl", "risk_score", "liquidation_risk"}, rows[0])
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "evt-a", "0.2", "5000", "0.1", "Low"}, rows[1])
	assert.Equal(t, "2024-05-01T12:01:00Z", rows[2][0], "falls back to the score timestamp")
	assert.Equal(t, "", rows[2][4])
}

func TestWriteHistoryPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, writeHistoryPNG(path, historyFixture(5)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestRenderShow(t *testing.T) {
	entries := historyFixture(3)
	latest := entries[2].Metrics
	latest.LiquidationRisk = "High"
	now := latest.Timestamp.Add(5 * time.Minute)

	var buf bytes.Buffer
	renderShow(&buf, now, latest, entries)
	out := buf.String()

	assert.Contains(t, out, "Liquidation risk: High")
	assert.Contains(t, out, "LTV:              0.2200")
	assert.Contains(t, out, "$5,500")
	assert.Contains(t, out, "5 minutes ago")
	assert.Contains(t, out, "Time (UTC)")
	assert.Equal(t, 3, strings.Count(out, "2024-05-01T12:0")-1)
}

func TestRenderShowWithoutHistory(t *testing.T) {
	latest := historyFixture(1)[0].Metrics
	latest.RiskScore = nil

	var buf bytes.Buffer
	renderShow(&buf, latest.Timestamp, latest, nil)

	assert.Contains(t, buf.String(), "Risk score:       -")
	assert.Contains(t, buf.String(), "no history in window")
}

func TestTail(t *testing.T) {
	entries := historyFixture(5)
	assert.Len(t, tail(entries, 0), 5)
	got := tail(entries, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "evt-e", got[1].Metrics.EventID)
}

func TestReadPayload(t *testing.T) {
	payload, err := readPayload(ProcessOptions{File: "-", In: strings.NewReader(`{"id":"1"}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(payload))

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"2"}`), 0o600))
	payload, err = readPayload(ProcessOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"2"}`, string(payload))

	_, err = readPayload(ProcessOptions{File: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestRenderArchived(t *testing.T) {
	score := decimal.RequireFromString("0.35")
	rows := []storage.ArchivedMetrics{
		{
			Network:         "eth",
			VaultID:         "v1",
			EventID:         "evt-1",
			LTV:             decimal.RequireFromString("0.5"),
			TVL:             decimal.NewFromInt(1234567),
			RiskScore:       &score,
			LiquidationRisk: "Medium",
			RecordedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			ArchivedAt:      time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			EventID:         "evt-2",
			LTV:             decimal.RequireFromString("0.6"),
			TVL:             decimal.NewFromInt(10),
			LiquidationRisk: "High",
			RecordedAt:      time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC),
			ArchivedAt:      time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	renderArchived(&buf, rows)
	out := buf.String()

	assert.Contains(t, out, "Recorded (UTC)")
	assert.Contains(t, out, "1,234,567")
	assert.Contains(t, out, "0.3500")
	assert.Contains(t, out, "evt-2")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}
