package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vault-riskbot/internal/app"
)

var (
	showNetwork  string
	showVault    string
	showSince    time.Duration
	showLimit    int
	showArchived bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest metrics and recent history of a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Network:  showNetwork,
			VaultID:  showVault,
			Since:    showSince,
			Limit:    showLimit,
			Archived: showArchived,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showNetwork, "network", "", "Vault network")
	showCmd.Flags().StringVar(&showVault, "vault", "", "Vault id")
	showCmd.Flags().DurationVar(&showSince, "since", 24*time.Hour, "History window to display")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of history entries to display")
	showCmd.Flags().BoolVar(&showArchived, "archived", false, "Read the Postgres archive instead of Redis")
	_ = showCmd.MarkFlagRequired("network")
	_ = showCmd.MarkFlagRequired("vault")
}
