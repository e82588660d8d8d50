package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trustnet/internal/constitution"
	jwttoken "trustnet/internal/jwt_token"
)

type principalFlags struct {
	subject  string
	role     string
	entityID string
	ttl      time.Duration
	key      string
	issuer   string
}

func (f *principalFlags) bind(cmd *cobra.Command, keyEnv, keyDefault string) {
	cmd.Flags().StringVar(&f.subject, "subject", "", "Principal id")
	cmd.Flags().StringVar(&f.role, "role", "", "Governance role of the principal")
	cmd.Flags().StringVar(&f.entityID, "entity", "", "Entity the principal belongs to")
	cmd.Flags().StringVar(&f.key, "key", envOr(keyEnv, keyDefault), "Signing key (defaults to $"+keyEnv+")")
	cmd.Flags().StringVar(&f.issuer, "issuer", envOr("JWT_ISSUER", "trustnet"), "Token issuer")
}

func (f *principalFlags) validate() error {
	if f.subject == "" {
		return errors.New("--subject is required")
	}
	if !constitution.IsKnownRole(constitution.Role(f.role)) {
		return fmt.Errorf("unknown role %q", f.role)
	}
	if f.ttl <= 0 {
		return errors.New("--ttl must be positive")
	}
	return nil
}

func newTokenCmd() *cobra.Command {
	var (
		flags    principalFlags
		audience string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Mint a bearer token for a governance principal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			svc := jwttoken.NewJWTService(flags.key, flags.issuer, audience)
			token, err := svc.GenerateAccessToken(flags.subject, flags.role, flags.entityID, flags.ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"subject":    flags.subject,
				"role":       flags.role,
				"expires_in": flags.ttl.String(),
			})
		},
	}
	flags.bind(issue, "JWT_SIGNING_KEY", "dev-secret-key-change-in-production")
	issue.Flags().DurationVar(&flags.ttl, "ttl", time.Hour, "Token lifetime")
	issue.Flags().StringVar(&audience, "audience", envOr("JWT_AUDIENCE", "trustnet-network"), "Token audience")

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token tools",
	}
	cmd.AddCommand(issue)
	return cmd
}

func newApprovalCmd() *cobra.Command {
	var (
		flags  principalFlags
		action string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a second approver's consent to one governed action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			if action == "" {
				return errors.New("--action is required")
			}
			if _, ok := constitution.MustDefault().Lookup(action); !ok {
				return fmt.Errorf("unknown action %q", action)
			}
			svc := jwttoken.NewApprovalService(flags.key, flags.issuer)
			token, err := svc.GenerateApprovalToken(flags.subject, flags.role, flags.entityID, action, flags.ttl)
			if err != nil {
				return fmt.Errorf("sign approval: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"approval_token": token,
				"approver":       flags.subject,
				"role":           flags.role,
				"action":         action,
				"expires_in":     flags.ttl.String(),
			})
		},
	}
	flags.bind(issue, "APPROVAL_SIGNING_KEY", "dev-approval-key-change-in-production")
	issue.Flags().DurationVar(&flags.ttl, "ttl", jwttoken.DefaultApprovalTTL, "Approval lifetime")
	issue.Flags().StringVar(&action, "action", "", "Constitutional action being approved")

	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Second-approver token tools",
	}
	cmd.AddCommand(issue)
	return cmd
}
