package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Envelope is the delivery wrapper around a BlockchainEvent. The shape follows
// the EventGrid event schema used by the upstream indexer webhook.
type Envelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	Subject     string          `json:"subject,omitempty"`
	EventTime   Timestamp       `json:"eventTime"`
	DataVersion string          `json:"dataVersion,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// BlockchainEvent is a vault state change emitted by the indexer.
type BlockchainEvent struct {
	VaultID          string            `json:"vaultId"`
	Network          string            `json:"network"`
	EventType        string            `json:"eventType"`
	Timestamp        Timestamp         `json:"timestamp"`
	CollateralAssets []CollateralAsset `json:"collateralAssets"`
	DebtAssets       []DebtAsset       `json:"debtAssets"`
	TransactionHash  string            `json:"transactionHash"`
}

// CollateralAsset holds raw per-asset collateral figures. Amount and Price are
// not pre-multiplied.
type CollateralAsset struct {
	AssetID              string `json:"assetId"`
	Amount               Number `json:"amount"`
	Price                Number `json:"price"`
	LiquidationThreshold Number `json:"liquidationThreshold"`
}

// DebtAsset holds raw per-asset debt figures.
type DebtAsset struct {
	AssetID      string `json:"assetId"`
	Amount       Number `json:"amount"`
	Price        Number `json:"price"`
	InterestRate Number `json:"interestRate"`
}

// timestampLayouts are tried in order. Layouts without a zone read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamp is an instant read from event data. Besides RFC3339 it accepts
// ISO forms without a zone, which are taken as UTC, and unix seconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if b[0] != '"' {
		secs, err := strconv.ParseFloat(string(b), 64)
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return fmt.Errorf("invalid timestamp %s", b)
		}
		whole, frac := math.Modf(secs)
		t.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", b, err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// Number is a numeric field read from untrusted event data. It accepts JSON
// numbers and numeric strings, including "NaN" and "Infinity". Literals that
// cannot be parsed decode as NaN so the mapper can zero them instead of
// rejecting the whole event.
type Number float64

// Float returns the raw value, which may be NaN or infinite.
func (n Number) Float() float64 { return float64(n) }

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}

	literal := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = Number(math.NaN())
			return nil
		}
		literal = strings.TrimSpace(s)
	}

	v, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		// ParseFloat reports overflow with ±Inf and a range error; keep the Inf.
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			*n = Number(v)
			return nil
		}
		*n = Number(math.NaN())
		return nil
	}
	*n = Number(v)
	return nil
}

// MarshalJSON writes non-finite values as strings so that a round trip through
// JSON does not fail.
func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
}
