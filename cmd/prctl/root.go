package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-procurement-cases/internal/app"
	"github.com/pesio-ai/be-procurement-cases/internal/common/config"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	JSON    bool

	cfg *config.Config
	log *logger.Logger
}

// NewRootCommand creates the prctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "prctl",
		Short:         "Procurement cases maintenance",
		Long:          "Schema, seed data, backfills and tokens for the procurement case service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Database.Backend != config.BackendPostgres {
				return fmt.Errorf("prctl needs the %s backend, got %q", config.BackendPostgres, cfg.Database.Backend)
			}
			level := cfg.Service.LogLevel
			if opts.Verbose {
				level = "debug"
			}
			opts.cfg = cfg
			opts.log = logger.New(logger.Config{
				Level:       level,
				Environment: cfg.Environment(),
				ServiceName: "prctl",
				Version:     cfg.Service.Version,
				Output:      cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewMFACommand(opts))

	return cmd
}

// open connects to the database, applying the schema when migrate is set,
// and builds the service graph. The returned func releases the pool.
func (o *RootOptions) open(ctx context.Context, migrate bool) (*app.Services, func(), error) {
	storage, err := app.OpenStorage(ctx, o.cfg, migrate, o.log)
	if err != nil {
		return nil, nil, err
	}
	return app.NewServices(o.cfg, storage.Store, nil, o.log), storage.Close, nil
}

// print writes v as indented JSON when --json is set and as text otherwise.
func (o *RootOptions) print(w io.Writer, v interface{}, text string) error {
	if !o.JSON {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
