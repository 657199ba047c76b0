package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vault-riskbot/internal/app"
)

var (
	archiveFrom string
	archiveTo   string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy one window of metrics history into the archive database",
	Long:  "Copy one window of metrics history into the archive database. Without flags the window is the configured archive lookback ending now.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		to := time.Now().UTC()
		if archiveTo != "" {
			parsed, err := time.Parse(time.RFC3339, archiveTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			to = parsed
		}

		lookback := a.Config.Archive.Lookback
		if lookback <= 0 {
			lookback = a.Config.Archive.Interval
		}
		from := to.Add(-lookback)
		if archiveFrom != "" {
			parsed, err := time.Parse(time.RFC3339, archiveFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			from = parsed
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		return a.Archive(cmd.Context(), app.ArchiveOptions{From: from, To: to})
	},
}

func init() {
	archiveCmd.Flags().StringVar(&archiveFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	archiveCmd.Flags().StringVar(&archiveTo, "to", "", "End timestamp (RFC3339, exclusive)")
}
