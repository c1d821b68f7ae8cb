package main

import (
	"github.com/spf13/cobra"

	"github.com/scrypster/memkeep/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	backend    string
	dsn        string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "memkeep",
		Short:        "Provenance-gated memory store with hybrid retrieval",
		Long:         longRoot,
		SilenceUsage: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (MEMKEEP_* env vars override it)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.backend, "backend", "", "storage backend: memory, sqlite, postgres")
	flags.StringVar(&opts.dsn, "dsn", "", "sqlite path or postgres DSN")

	cmd.AddCommand(
		newIngestCmd(opts),
		newQueryCmd(opts),
		newReviewCmd(opts),
		newJanitorCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// loadConfig resolves the configuration; flags take precedence over the
// file and the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.backend != "" {
		cfg.Storage.Backend = o.backend
	}
	if o.dsn != "" {
		cfg.Storage.DSN = o.dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp loads the configuration, builds the app, runs fn and closes the
// app afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

var longRoot = `
memkeep stores short textual memories (facts, preferences, decisions) and
answers retrieval queries with relevant, non-stale, non-duplicated results.

Examples:
  # Ingest a statement for user alice.
  memkeep ingest --user alice --type preference "I prefer dark mode"

  # Query alice's memories.
  memkeep query --user alice "editor theme"

  # Run the janitor once for every user.
  memkeep janitor run
`
