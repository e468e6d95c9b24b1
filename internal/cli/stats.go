package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ledger usage statistics",
		Long:  "Show a sampled approximation of owned memories and their total size on the ledger.",
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	body, status, err := callAPI(http.MethodGet, "/api/stats", nil)
	if err != nil {
		exitErr("stats", err)
	}
	printResult(body, status)
}
