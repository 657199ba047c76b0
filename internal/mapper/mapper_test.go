package mapper

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vault-riskbot/internal/vault"
)

func TestSanitizeNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := Sanitize(v, 0, 10); got != 0 {
			t.Fatalf("Sanitize(%v) = %v, want 0", v, got)
		}
		if got := SanitizeDefault(v); got != 0 {
			t.Fatalf("SanitizeDefault(%v) = %v, want 0", v, got)
		}
	}
}

func TestSanitizeBoundaries(t *testing.T) {
	const (
		lo  = 1.0
		hi  = 5.0
		eps = 1e-9
	)
	cases := []struct {
		in, want float64
	}{
		{lo, lo},
		{hi, hi},
		{lo - eps, lo},
		{hi + eps, hi},
		{3, 3},
		{-100, lo},
		{100, hi},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in, lo, hi); got != tc.want {
			t.Fatalf("Sanitize(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeDefaultBounds(t *testing.T) {
	if got := SanitizeDefault(-0.5); got != 0 {
		t.Fatalf("negative should clamp to 0, got %v", got)
	}
	if got := SanitizeDefault(math.MaxFloat64); got != math.MaxFloat64 {
		t.Fatalf("upper bound is unbounded, got %v", got)
	}
}

func scenarioEvent() vault.BlockchainEvent {
	return vault.BlockchainEvent{
		VaultID:   "v1",
		Network:   "eth",
		EventType: "Deposit",
		Timestamp: vault.Timestamp{Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		CollateralAssets: []vault.CollateralAsset{
			{AssetID: "ETH", Amount: 2, Price: 3000, LiquidationThreshold: 0.8},
		},
		DebtAssets: []vault.DebtAsset{
			{AssetID: "DAI", Amount: 1000, Price: 1, InterestRate: 0.05},
		},
	}
}

func TestMapComputesValueUSD(t *testing.T) {
	req := Map(scenarioEvent())

	if req.VaultID != "v1" || req.Network != "eth" {
		t.Fatalf("identity not carried: %+v", req)
	}
	if req.Timestamp != 1714564800 {
		t.Fatalf("unexpected unix timestamp %d", req.Timestamp)
	}
	if len(req.Collateral) != 1 || len(req.Debt) != 1 {
		t.Fatalf("unexpected item counts: %+v", req)
	}
	if !req.Collateral[0].ValueUSD.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("collateral valueUsd = %s, want 6000", req.Collateral[0].ValueUSD)
	}
	if !req.Collateral[0].LiquidationThreshold.Equal(decimal.RequireFromString("0.8")) {
		t.Fatalf("liquidation threshold altered: %s", req.Collateral[0].LiquidationThreshold)
	}
	if !req.Debt[0].ValueUSD.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("debt valueUsd = %s, want 1000", req.Debt[0].ValueUSD)
	}
	if !req.Debt[0].InterestRate.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("interest rate altered: %s", req.Debt[0].InterestRate)
	}
}

func TestMapIsDeterministic(t *testing.T) {
	ev := scenarioEvent()
	first, err := json.Marshal(Map(ev))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(Map(ev))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("mapping not deterministic:\n%s\n%s", first, second)
	}
}

func TestMapSanitizesUntrustedFields(t *testing.T) {
	ev := scenarioEvent()
	ev.CollateralAssets = append(ev.CollateralAssets, vault.CollateralAsset{
		AssetID:              "WBTC",
		Amount:               vault.Number(math.NaN()),
		Price:                60000,
		LiquidationThreshold: vault.Number(math.Inf(1)),
	})
	ev.DebtAssets = append(ev.DebtAssets, vault.DebtAsset{
		AssetID: "USDC",
		Amount:  -5,
		Price:   1,
	})

	req := Map(ev)
	if !req.Collateral[1].ValueUSD.IsZero() || !req.Collateral[1].Amount.IsZero() {
		t.Fatalf("NaN amount should sanitize to zero: %+v", req.Collateral[1])
	}
	if !req.Collateral[1].LiquidationThreshold.IsZero() {
		t.Fatalf("infinite threshold should sanitize to zero: %s", req.Collateral[1].LiquidationThreshold)
	}
	if !req.Debt[1].Amount.IsZero() {
		t.Fatalf("negative amount should clamp to zero: %s", req.Debt[1].Amount)
	}
	if _, err := json.Marshal(req); err != nil {
		t.Fatalf("sanitized request must marshal: %v", err)
	}
}

func TestMapEmptyAssetsProducesEmptyLists(t *testing.T) {
	req := Map(vault.BlockchainEvent{VaultID: "v1", Network: "eth"})
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(payload, []byte(`"collateral":[]`)) || !bytes.Contains(payload, []byte(`"debt":[]`)) {
		t.Fatalf("expected empty arrays, got %s", payload)
	}
	if req.Timestamp != 0 {
		t.Fatalf("zero time should map to 0, got %d", req.Timestamp)
	}
}

func TestNewMetrics(t *testing.T) {
	score := decimal.RequireFromString("0.2")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	m := NewMetrics(vault.RiskPrediction{
		LTV:             decimal.RequireFromString("0.5"),
		TVL:             decimal.NewFromInt(7000),
		RiskScore:       &score,
		LiquidationRisk: "Low",
	}, "evt-1", now)

	if m.EventID != "evt-1" || m.LiquidationRisk != "Low" {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.RiskScore == nil || !m.RiskScore.Equal(score) {
		t.Fatalf("risk score not copied")
	}
	if m.Timestamp.Location() != time.UTC || !m.Timestamp.Equal(now) {
		t.Fatalf("timestamp should be the UTC write time, got %v", m.Timestamp)
	}
}
