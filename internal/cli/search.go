package cli

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long:  "Search memory content, tags and categories for matching text. Encrypted memories are decrypted server-side before matching.",
		Run:   runSearch,
	}

	cmd.Flags().StringP("type", "t", "", "Filter by memory type")
	cmd.Flags().StringP("category", "c", "", "Filter by category")
	cmd.Flags().String("tags", "", "Comma-separated tag filter")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Int("offset", 0, "Pagination offset")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	body, status, err := callAPI(http.MethodPost, "/api/memories/search", map[string]interface{}{
		"text":     strings.Join(args, " "),
		"type":     memType,
		"category": category,
		"tags":     splitTags(tagsStr),
		"limit":    limit,
		"offset":   offset,
	})
	if err != nil {
		exitErr("search", err)
	}
	printResult(body, status)
}
