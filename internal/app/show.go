package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"vault-riskbot/internal/storage"
	"vault-riskbot/internal/vault"
)

const defaultShowWindow = 24 * time.Hour

// Show prints the latest metrics of a vault followed by its recent history.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Network == "" || opts.VaultID == "" {
		return errors.New("--network and --vault are required")
	}
	if opts.Since <= 0 {
		opts.Since = defaultShowWindow
	}
	if opts.Archived {
		return a.showArchived(ctx, opts)
	}

	store, err := a.openMetricsStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	latest, err := store.LatestMetrics(ctx, opts.Network, opts.VaultID)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(a.Out, "no metrics stored for vault %s on %s\n", opts.VaultID, opts.Network)
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	history, err := store.History(ctx, opts.Network, opts.VaultID, now.Add(-opts.Since), now.Add(time.Second), 0)
	if err != nil {
		return err
	}

	renderShow(a.Out, now, latest, tail(history, opts.Limit))
	return nil
}

func (a *App) showArchived(ctx context.Context, opts ShowOptions) error {
	archive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("database not configured; cannot show archived metrics")
	}
	defer archive.Close()

	now := time.Now().UTC()
	rows, err := archive.ListArchived(ctx, opts.Network, opts.VaultID, now.Add(-opts.Since), now.Add(time.Second), 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(a.Out, "no archived metrics for vault %s on %s\n", opts.VaultID, opts.Network)
		return nil
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[len(rows)-opts.Limit:]
	}

	renderArchived(a.Out, rows)
	return nil
}

func renderArchived(out io.Writer, rows []storage.ArchivedMetrics) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recorded (UTC)\tLTV\tTVL\tScore\tRisk\tEvent\tArchived")
	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.RecordedAt.UTC().Format(time.RFC3339),
			formatDecimal(row.LTV, 4),
			humanize.CommafWithDigits(row.TVL.InexactFloat64(), 2),
			formatScore(row.RiskScore),
			row.LiquidationRisk,
			sanitizeInline(row.EventID),
			row.ArchivedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}

func tail(entries []storage.HistoryEntry, limit int) []storage.HistoryEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

func renderShow(out io.Writer, now time.Time, latest vault.VaultMetrics, history []storage.HistoryEntry) {
	fmt.Fprintf(out, "Liquidation risk: %s\n", latest.LiquidationRisk)
	fmt.Fprintf(out, "LTV:              %s\n", formatDecimal(latest.LTV, 4))
	fmt.Fprintf(out, "TVL:              $%s\n", humanize.CommafWithDigits(latest.TVL.InexactFloat64(), 2))
	fmt.Fprintf(out, "Risk score:       %s\n", formatScore(latest.RiskScore))
	fmt.Fprintf(out, "Updated:          %s (%s)\n", latest.Timestamp.UTC().Format(time.RFC3339), humanize.RelTime(latest.Timestamp, now, "ago", "from now"))
	fmt.Fprintf(out, "Event:            %s\n", sanitizeInline(latest.EventID))

	if len(history) == 0 {
		fmt.Fprintln(out, "\nno history in window")
		return
	}

	fmt.Fprintln(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tLTV\tTVL\tScore\tRisk\tEvent")
	for _, e := range history {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			recordedAt(e).Format(time.RFC3339),
			formatDecimal(e.Metrics.LTV, 4),
			humanize.CommafWithDigits(e.Metrics.TVL.InexactFloat64(), 2),
			formatScore(e.Metrics.RiskScore),
			e.Metrics.LiquidationRisk,
			sanitizeInline(e.Metrics.EventID),
		)
	}
	writer.Flush()
}

func formatScore(score *decimal.Decimal) string {
	if score == nil {
		return "-"
	}
	return formatDecimal(*score, 4)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
