// Package cli implements the vaultctl commands.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Encrypted agent memory on Golem Base",
	Long:  "vaultctl talks to a running vault server. Unlock a session, then create, search and share encrypted memories.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Vault server URL (default: $VAULT_API or http://localhost:8080)")
}

func apiURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("VAULT_API"); env != "" {
		return env
	}
	return "http://localhost:8080"
}

// callAPI sends a JSON request and returns the raw response body.
func callAPI(method, path string, payload interface{}) ([]byte, int, error) {
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequest(method, apiURL()+path, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// printResult pretty-prints a JSON response body, or fails on non-2xx.
func printResult(body []byte, status int) {
	if status >= 300 {
		var e map[string]string
		if json.Unmarshal(body, &e) == nil && e["error"] != "" {
			exitErr(fmt.Sprintf("server returned %d", status), fmt.Errorf("%s", e["error"]))
		}
		exitErr(fmt.Sprintf("server returned %d", status), fmt.Errorf("%s", body))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(body))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
