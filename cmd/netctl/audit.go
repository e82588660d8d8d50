package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trustnet/internal/auditchain"
	"trustnet/internal/platform/postgres"
)

// errChainBroken makes `audit verify` exit non-zero so it can gate scripts.
var errChainBroken = errors.New("audit chain is broken")

func newAuditCmd() *cobra.Command {
	var dsn string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Replay the stored audit chain and report the first broken link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return errors.New("--dsn or $DATABASE_URL is required")
			}
			ctx := cmd.Context()
			pool, err := postgres.OpenPool(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()

			entries, err := auditchain.NewPostgresStore(pool).All(ctx)
			if err != nil {
				return fmt.Errorf("load audit entries: %w", err)
			}
			v := auditchain.VerifyEntries(entries)
			if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			if !v.ChainValid {
				return errChainBroken
			}
			return nil
		},
	}
	verify.Flags().StringVar(&dsn, "dsn", envOr("DATABASE_URL", ""), "Postgres connection string")

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit chain tools",
	}
	cmd.AddCommand(verify)
	return cmd
}
