package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create [content]",
		Short: "Store a memory",
		Long:  "Store a memory on the ledger. Content can be a positional arg or piped via stdin.",
		Run:   runCreate,
	}

	cmd.Flags().StringP("type", "t", "conversation", "Memory type: conversation, learned_fact, user_preference, task_outcome, multimedia, workflow, agent_share, profile_data")
	cmd.Flags().StringP("category", "c", "", "Category label")
	cmd.Flags().String("tags", "", "Comma-separated tags")
	cmd.Flags().Bool("plaintext", false, "Store without encryption")

	RootCmd.AddCommand(cmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	plaintext, _ := cmd.Flags().GetBool("plaintext")

	// Content: positional arg first, then stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("create", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	encrypted := !plaintext
	body, status, err := callAPI(http.MethodPost, "/api/memories", map[string]interface{}{
		"content":   strings.TrimSpace(content),
		"type":      memType,
		"category":  category,
		"tags":      splitTags(tagsStr),
		"encrypted": encrypted,
	})
	if err != nil {
		exitErr("create", err)
	}
	printResult(body, status)
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
