package vault

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestNumberUnmarshal(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantNaN bool
		wantInf int
	}{
		{in: `2`, want: 2},
		{in: `0.05`, want: 0.05},
		{in: `"3000"`, want: 3000},
		{in: `" 1.5 "`, want: 1.5},
		{in: `null`, want: 0},
		{in: `"NaN"`, wantNaN: true},
		{in: `"Infinity"`, wantInf: 1},
		{in: `"-Infinity"`, wantInf: -1},
		{in: `1e400`, wantInf: 1},
		{in: `"abc"`, wantNaN: true},
		{in: `"12abc"`, wantNaN: true},
	}

	for _, tc := range cases {
		var n Number
		if err := json.Unmarshal([]byte(tc.in), &n); err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		v := n.Float()
		switch {
		case tc.wantNaN:
			if !math.IsNaN(v) {
				t.Fatalf("%s: expected NaN, got %v", tc.in, v)
			}
		case tc.wantInf != 0:
			if !math.IsInf(v, tc.wantInf) {
				t.Fatalf("%s: expected Inf(%d), got %v", tc.in, tc.wantInf, v)
			}
		default:
			if v != tc.want {
				t.Fatalf("%s: expected %v, got %v", tc.in, tc.want, v)
			}
		}
	}
}

func TestNumberMarshalNonFinite(t *testing.T) {
	payload, err := json.Marshal([]Number{Number(math.NaN()), Number(math.Inf(1)), 1.25})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `["NaN","Infinity",1.25]` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestBlockchainEventDecode(t *testing.T) {
	raw := `{"vaultId":"v1","network":"eth","eventType":"Deposit","timestamp":"2024-05-01T12:00:00Z",
		"collateralAssets":[{"assetId":"ETH","amount":2,"price":"3000","liquidationThreshold":0.8}],
		"debtAssets":[{"assetId":"DAI","amount":1000,"price":1,"interestRate":0.05}],
		"transactionHash":"0xabc"}`

	var ev BlockchainEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.VaultID != "v1" || ev.Network != "eth" {
		t.Fatalf("identity not decoded: %+v", ev)
	}
	if len(ev.CollateralAssets) != 1 || ev.CollateralAssets[0].Price != 3000 {
		t.Fatalf("collateral not decoded: %+v", ev.CollateralAssets)
	}
	if ev.Timestamp.Unix() != 1714564800 {
		t.Fatalf("timestamp not decoded: %v", ev.Timestamp)
	}
}

func TestTimestampUnmarshal(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		`"2024-05-01T12:00:00Z"`:      want,
		`"2024-05-01T14:00:00+02:00"`: want,
		`"2024-05-01T12:00:00"`:       want,
		`"2024-05-01T12:00:00.250"`:   want.Add(250 * time.Millisecond),
		`"2024-05-01 12:00:00"`:       want,
		`"2024-05-01"`:                time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		`1714564800`:                  want,
		`1714564800.5`:                want.Add(500 * time.Millisecond),
		`null`:                        {},
		`""`:                          {},
	}
	for in, expected := range cases {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Fatalf("%s: unexpected error %v", in, err)
		}
		if !ts.Equal(expected) {
			t.Fatalf("%s: expected %v, got %v", in, expected, ts.Time)
		}
	}
}

func TestTimestampUnmarshalRejectsGarbage(t *testing.T) {
	for _, in := range []string{`"yesterday"`, `"2024-13-01T00:00:00"`, `true`} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err == nil {
			t.Fatalf("%s: expected error, got %v", in, ts.Time)
		}
	}
}

func TestTimestampMarshalsAsRFC3339(t *testing.T) {
	payload, err := json.Marshal(Timestamp{Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `"2024-05-01T12:00:00Z"` {
		t.Fatalf("unexpected payload %s", payload)
	}
}
