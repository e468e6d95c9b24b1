package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a memory",
		Long:  "Update the content, type, category or tags of a stored memory. Unset flags leave the field unchanged.",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("content", "", "New content")
	cmd.Flags().StringP("type", "t", "", "New memory type")
	cmd.Flags().StringP("category", "c", "", "New category")
	cmd.Flags().String("tags", "", "Comma-separated replacement tags")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	payload := map[string]interface{}{}
	if cmd.Flags().Changed("content") {
		v, _ := cmd.Flags().GetString("content")
		payload["content"] = v
	}
	if cmd.Flags().Changed("type") {
		v, _ := cmd.Flags().GetString("type")
		payload["type"] = v
	}
	if cmd.Flags().Changed("category") {
		v, _ := cmd.Flags().GetString("category")
		payload["category"] = v
	}
	if cmd.Flags().Changed("tags") {
		v, _ := cmd.Flags().GetString("tags")
		payload["tags"] = splitTags(v)
	}

	body, status, err := callAPI(http.MethodPut, "/api/memories/"+args[0], payload)
	if err != nil {
		exitErr("update", err)
	}
	printResult(body, status)
}
