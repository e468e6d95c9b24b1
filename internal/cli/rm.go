package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}
	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	body, status, err := callAPI(http.MethodDelete, "/api/memories/"+args[0], nil)
	if err != nil {
		exitErr("rm", err)
	}
	printResult(body, status)
}
