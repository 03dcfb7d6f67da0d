package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"learngraph/pkg/auth"
)

func tokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a development backend",
		Long: `Issue a bearer token signed with $JWT_SECRET, or with the development
secret the API server falls back to when JWT_SECRET is unset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			user, err := requireUser(cfg)
			if err != nil {
				return err
			}
			secret := cfg.JWTSecret
			if secret == "" {
				if cfg.IsProduction() {
					return fmt.Errorf("JWT_SECRET is required in production")
				}
				secret = auth.DevelopmentSecret
			}
			tokens, err := auth.NewJWTService(secret, cfg.JWTIssuer, ttl)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateToken(user, email, nil)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
