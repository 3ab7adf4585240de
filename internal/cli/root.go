// Package cli implements the propledger command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/propledger/propledger/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "propledger",
	Short: "Reconcile bank transactions against rent payments",
	Long: `propledger matches inbound bank transactions to outstanding rent payments.
Confident matches are committed automatically; the rest wait in a review
queue for a person to match or discard.

Data lives in $PROPLEDGER_HOME (default ~/.propledger).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config.toml (default $PROPLEDGER_HOME/config.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "Print machine-readable JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// openDaemon loads the configuration named by --config and opens the store.
func openDaemon(cmd *cobra.Command) (*daemon.Daemon, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := daemon.Load(path)
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requiredString reads a string flag that must be non-empty.
func requiredString(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

// defaultUser is the acting user when --user is omitted.
func defaultUser() string {
	if u := os.Getenv("PROPLEDGER_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}
