package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-procurement-cases/internal/app"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, closeFn, err := rootOpts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()
			return rootOpts.print(cmd.OutOrStdout(), map[string]bool{"migrated": true}, "Schema up to date")
		},
	}
}

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	app.SeedOptions
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo users, suppliers and cases",
		Long: `Populate an empty database with one admin, two buyers and demo suppliers.

Nothing is written when any user already exists.

Examples:
  prctl seed
  prctl seed --admin-email ops@example.com --demo-cases 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := app.Seed(cmd.Context(), svc, opts.SeedOptions)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("Seeded %d users, %d suppliers and %d cases", len(res.UserIDs), res.Suppliers, len(res.Cases))
			if res.Skipped {
				text = "Users already exist, nothing seeded"
			}
			return opts.print(cmd.OutOrStdout(), res, text)
		},
	}

	cmd.Flags().StringVar(&opts.AdminName, "admin-name", "Procurement Admin", "admin display name")
	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "admin@local", "admin login email")
	cmd.Flags().StringVar(&opts.Password, "password", app.DefaultSeedPassword, "password for every seeded user")
	cmd.Flags().IntVar(&opts.Suppliers, "suppliers", 10, "number of suppliers")
	cmd.Flags().IntVar(&opts.DemoCases, "demo-cases", 0, "number of assigned sample cases")

	return cmd
}

// NewBackfillCommand creates the backfill-ready-for-review command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-ready-for-review",
		Short: "Advance open cases that already meet the review gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := rootOpts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.Workflow.BackfillReadyForReview(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), res,
				fmt.Sprintf("Scanned %d cases, advanced %d", res.Scanned, res.Advanced))
		},
	}
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var email string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			if ttl > 0 {
				rootOpts.cfg.Auth.TokenTTL = ttl
			}
			svc, closeFn, err := rootOpts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			user, err := findUser(cmd, svc, email)
			if err != nil {
				return err
			}
			token, err := svc.Users.IssueToken(user, time.Now().UTC())
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]string{"userId": user.ID, "token": token}, token)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "email of the user (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to the configured TTL)")

	return cmd
}

// NewMFACommand creates the mfa command.
func NewMFACommand(rootOpts *RootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Record a completed MFA challenge for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := rootOpts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			user, err := findUser(cmd, svc, email)
			if err != nil {
				return err
			}
			if err := svc.Users.RecordMFA(cmd.Context(), user.ID); err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]string{"userId": user.ID}, "MFA recorded for "+user.Email)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "email of the user (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func findUser(cmd *cobra.Command, svc *app.Services, email string) (*repository.User, error) {
	return svc.Users.FindByEmail(cmd.Context(), strings.TrimSpace(email))
}
