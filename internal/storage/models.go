package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"vault-riskbot/internal/vault"
)

// HistoryEntry is one member of a vault's history sorted set.
type HistoryEntry struct {
	Network  string
	VaultID  string
	ScoredAt time.Time
	Metrics  vault.VaultMetrics
	Raw      json.RawMessage
}

// ArchivedMetrics is a history entry copied into the archive database.
type ArchivedMetrics struct {
	Network         string
	VaultID         string
	EventID         string
	LTV             decimal.Decimal
	TVL             decimal.Decimal
	RiskScore       *decimal.Decimal
	LiquidationRisk string
	RecordedAt      time.Time
	Payload         json.RawMessage
	ArchivedAt      time.Time
}

// ArchivedFromEntry converts a history entry into its archive row.
func ArchivedFromEntry(e HistoryEntry) ArchivedMetrics {
	recorded := e.Metrics.Timestamp
	if recorded.IsZero() {
		recorded = e.ScoredAt
	}
	return ArchivedMetrics{
		Network:         e.Network,
		VaultID:         e.VaultID,
		EventID:         e.Metrics.EventID,
		LTV:             e.Metrics.LTV,
		TVL:             e.Metrics.TVL,
		RiskScore:       e.Metrics.RiskScore,
		LiquidationRisk: e.Metrics.LiquidationRisk,
		RecordedAt:      recorded.UTC(),
		Payload:         e.Raw,
	}
}
