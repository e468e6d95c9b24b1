package cli

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	grant := &cobra.Command{
		Use:   "grant <id> <agent-id>",
		Short: "Grant an agent access to a memory",
		Args:  cobra.ExactArgs(2),
		Run:   runGrant,
	}
	grant.Flags().StringP("actions", "a", "read", "Comma-separated actions: read, write, delete")

	revoke := &cobra.Command{
		Use:   "revoke <id> <agent-id>",
		Short: "Revoke an agent's access to a memory",
		Args:  cobra.ExactArgs(2),
		Run:   runRevoke,
	}

	perms := &cobra.Command{
		Use:   "perms <id>",
		Short: "List permissions on a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runPerms,
	}

	RootCmd.AddCommand(grant, revoke, perms)
}

func runGrant(cmd *cobra.Command, args []string) {
	actionsStr, _ := cmd.Flags().GetString("actions")
	var actions []string
	for _, a := range strings.Split(actionsStr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}

	body, status, err := callAPI(http.MethodPost, "/api/memories/"+args[0]+"/permissions", map[string]interface{}{
		"agentId": args[1],
		"actions": actions,
	})
	if err != nil {
		exitErr("grant", err)
	}
	printResult(body, status)
}

func runRevoke(cmd *cobra.Command, args []string) {
	body, status, err := callAPI(http.MethodDelete, "/api/memories/"+args[0]+"/permissions/"+args[1], nil)
	if err != nil {
		exitErr("revoke", err)
	}
	printResult(body, status)
}

func runPerms(cmd *cobra.Command, args []string) {
	body, status, err := callAPI(http.MethodGet, "/api/memories/"+args[0]+"/permissions", nil)
	if err != nil {
		exitErr("perms", err)
	}
	printResult(body, status)
}
