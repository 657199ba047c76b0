package cli

import (
	"github.com/spf13/cobra"

	"vault-riskbot/internal/app"
)

var (
	processFile  string
	processMsgID string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a single event envelope through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Process(cmd.Context(), app.ProcessOptions{
			File:  processFile,
			In:    cmd.InOrStdin(),
			MsgID: processMsgID,
		})
	},
}

func init() {
	processCmd.Flags().StringVarP(&processFile, "file", "f", "-", "Envelope JSON file, - for stdin")
	processCmd.Flags().StringVar(&processMsgID, "id", "", "Transport message id used when the envelope has none")
}
