package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the encryption session",
		Long:  "Derive the session master secret from a password. Reads the password from $VAULT_PASSWORD or prompts for it.",
		Run:   runUnlock,
	}
	lock := &cobra.Command{
		Use:   "lock",
		Short: "Lock the session and wipe cached keys",
		Run:   runLock,
	}
	RootCmd.AddCommand(unlock, lock)
}

func runUnlock(cmd *cobra.Command, args []string) {
	password := os.Getenv("VAULT_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			exitErr("read password", err)
		}
		password = strings.TrimSpace(string(raw))
	}
	if password == "" {
		exitErr("unlock", fmt.Errorf("password is required"))
	}

	body, status, err := callAPI(http.MethodPost, "/api/session/unlock", map[string]string{"password": password})
	if err != nil {
		exitErr("unlock", err)
	}
	printResult(body, status)
}

func runLock(cmd *cobra.Command, args []string) {
	body, status, err := callAPI(http.MethodPost, "/api/session/lock", nil)
	if err != nil {
		exitErr("lock", err)
	}
	printResult(body, status)
}
