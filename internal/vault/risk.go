package vault

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The scoring service and downstream readers expect JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// RiskPredictionRequest is the body sent to the prediction service.
type RiskPredictionRequest struct {
	VaultID    string           `json:"vaultId"`
	Network    string           `json:"network"`
	Collateral []CollateralItem `json:"collateral"`
	Debt       []DebtItem       `json:"debt"`
	Timestamp  int64            `json:"timestamp"`
}

// CollateralItem is a collateral position priced in USD.
type CollateralItem struct {
	AssetID              string          `json:"assetId"`
	Amount               decimal.Decimal `json:"amount"`
	ValueUSD             decimal.Decimal `json:"valueUsd"`
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
}

// DebtItem is a debt position priced in USD.
type DebtItem struct {
	AssetID      string          `json:"assetId"`
	Amount       decimal.Decimal `json:"amount"`
	ValueUSD     decimal.Decimal `json:"valueUsd"`
	InterestRate decimal.Decimal `json:"interestRate"`
}

// RiskPrediction is the scoring service response.
type RiskPrediction struct {
	LTV             decimal.Decimal  `json:"ltv"`
	TVL             decimal.Decimal  `json:"tvl"`
	RiskScore       *decimal.Decimal `json:"riskScore"`
	LiquidationRisk string           `json:"liquidationRisk"`
}

// VaultMetrics is the persisted record, one per processed event. EventID is the
// idempotency key downstream consumers dedup on.
type VaultMetrics struct {
	LTV             decimal.Decimal  `json:"ltv"`
	TVL             decimal.Decimal  `json:"tvl"`
	RiskScore       *decimal.Decimal `json:"riskScore"`
	LiquidationRisk string           `json:"liquidationRisk"`
	Timestamp       time.Time        `json:"timestamp"`
	EventID         string           `json:"eventId"`
}

// Identity is the composite key of a vault.
type Identity struct {
	Network string
	VaultID string
}
