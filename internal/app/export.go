package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"vault-riskbot/internal/storage"
)

const defaultExportWindow = 24 * time.Hour

// Export renders a vault's metrics history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Network == "" || opts.VaultID == "" {
		return errors.New("--network and --vault are required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, err := a.openMetricsStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.History(ctx, opts.Network, opts.VaultID, from, to, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Str("vault_id", opts.VaultID).Str("network", opts.Network).Msg("no history found for export window")
		return nil
	}

	downsampled := downsampleEntries(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEntries(entries []storage.HistoryEntry, max int) []storage.HistoryEntry {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	if max == 1 {
		return entries[len(entries)-1:]
	}

	result := make([]storage.HistoryEntry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func recordedAt(e storage.HistoryEntry) time.Time {
	if !e.Metrics.Timestamp.IsZero() {
		return e.Metrics.Timestamp.UTC()
	}
	return e.ScoredAt.UTC()
}

func writeHistoryCSV(path string, entries []storage.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"recorded_at", "event_id", "ltv", "tvl", "risk_score", "liquidation_risk"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		score := ""
		if e.Metrics.RiskScore != nil {
			score = e.Metrics.RiskScore.String()
		}
		record := []string{
			recordedAt(e).Format(time.RFC3339),
			e.Metrics.EventID,
			e.Metrics.LTV.String(),
			e.Metrics.TVL.String(),
			score,
			e.Metrics.LiquidationRisk,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, entries []storage.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(entries))
	ltv := make([]float64, len(entries))
	score := make([]float64, len(entries))
	tvl := make([]float64, len(entries))

	for i, e := range entries {
		x[i] = recordedAt(e)
		ltv[i] = e.Metrics.LTV.InexactFloat64()
		tvl[i] = e.Metrics.TVL.InexactFloat64()
		if e.Metrics.RiskScore != nil {
			score[i] = e.Metrics.RiskScore.InexactFloat64()
		}
	}

	ratioFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Ratio",
			ValueFormatter: ratioFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "TVL (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "LTV",
				XValues: x,
				YValues: ltv,
			},
			chart.TimeSeries{
				Name:    "Risk score",
				XValues: x,
				YValues: score,
			},
			chart.TimeSeries{
				Name:    "TVL",
				XValues: x,
				YValues: tvl,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
