// Command netctl is the operator tool for the network control plane: it mints
// bearer and approval tokens for governance principals and verifies the stored
// audit chain out of band.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "netctl",
		Short:         "Operator tools for the validator network control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newTokenCmd(), newApprovalCmd(), newAuditCmd())
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
