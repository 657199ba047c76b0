// Package mapper converts blockchain events into scoring requests and scoring
// results into persisted metrics. Everything here is pure and deterministic.
package mapper

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"vault-riskbot/internal/vault"
)

// Sanitize returns 0 for NaN or infinite values and clamps everything else into
// [minValue, maxValue].
func Sanitize(value, minValue, maxValue float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

// SanitizeDefault applies Sanitize with the monetary bounds [0, +Inf).
func SanitizeDefault(value float64) float64 {
	return Sanitize(value, 0, math.Inf(1))
}

// finite zeroes non-finite values without clamping. Thresholds and rates are
// passed through unchanged otherwise.
func finite(value float64) float64 {
	return Sanitize(value, math.Inf(-1), math.Inf(1))
}

// Map builds the scoring request for an event. Amounts and prices are
// sanitized before valueUsd = amount * price is computed.
func Map(event vault.BlockchainEvent) vault.RiskPredictionRequest {
	collateral := make([]vault.CollateralItem, 0, len(event.CollateralAssets))
	for _, asset := range event.CollateralAssets {
		amount := decimal.NewFromFloat(SanitizeDefault(asset.Amount.Float()))
		price := decimal.NewFromFloat(SanitizeDefault(asset.Price.Float()))
		collateral = append(collateral, vault.CollateralItem{
			AssetID:              asset.AssetID,
			Amount:               amount,
			ValueUSD:             amount.Mul(price),
			LiquidationThreshold: decimal.NewFromFloat(finite(asset.LiquidationThreshold.Float())),
		})
	}

	debt := make([]vault.DebtItem, 0, len(event.DebtAssets))
	for _, asset := range event.DebtAssets {
		amount := decimal.NewFromFloat(SanitizeDefault(asset.Amount.Float()))
		price := decimal.NewFromFloat(SanitizeDefault(asset.Price.Float()))
		debt = append(debt, vault.DebtItem{
			AssetID:      asset.AssetID,
			Amount:       amount,
			ValueUSD:     amount.Mul(price),
			InterestRate: decimal.NewFromFloat(finite(asset.InterestRate.Float())),
		})
	}

	return vault.RiskPredictionRequest{
		VaultID:    event.VaultID,
		Network:    event.Network,
		Collateral: collateral,
		Debt:       debt,
		Timestamp:  unixSeconds(event.Timestamp.Time),
	}
}

// NewMetrics builds the record persisted for one processed event.
func NewMetrics(prediction vault.RiskPrediction, eventID string, now time.Time) vault.VaultMetrics {
	var score *decimal.Decimal
	if prediction.RiskScore != nil {
		v := *prediction.RiskScore
		score = &v
	}
	return vault.VaultMetrics{
		LTV:             prediction.LTV,
		TVL:             prediction.TVL,
		RiskScore:       score,
		LiquidationRisk: prediction.LiquidationRisk,
		Timestamp:       now.UTC(),
		EventID:         eventID,
	}
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
