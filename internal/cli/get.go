package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}
	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	body, status, err := callAPI(http.MethodGet, "/api/memories/"+args[0], nil)
	if err != nil {
		exitErr("get", err)
	}
	printResult(body, status)
}
