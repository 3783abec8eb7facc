package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/student-support/internal/auth"
	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/domain"
)

type tokenOutput struct {
	Token      string    `json:"token"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Department string    `json:"department,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func newTokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		userID     string
		role       string
		department string
		ttl        int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user, role and department",
		Long: `Mint a signed bearer token using AUTH_JWT_SECRET.

Example usage:
  supportctl token --user s-42 --role student
  supportctl token --user d-7 --role department --department Finance --ttl 120`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsedRole, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			if parsedRole == domain.RoleDepartment && department == "" {
				return fmt.Errorf("--department is required for the department role")
			}
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.AccessTokenTTLMinutes
			}

			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl)
			token, expiresAt, err := tokens.GenerateToken(userID, parsedRole, department)
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			out := tokenOutput{Token: token, UserID: userID, Role: string(parsedRole), Department: department, ExpiresAt: expiresAt.UTC()}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id carried in the token subject (required)")
	cmd.Flags().StringVar(&role, "role", "", "student, department, manager or leadership (required)")
	cmd.Flags().StringVar(&department, "department", "", "department name for department staff")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lifetime in minutes (default AUTH_TOKEN_TTL_MINUTES)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print token details as JSON")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
