package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/memkeep/pkg/types"
)

func newJanitorCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Deduplicate, resolve contradictions and expire memories",
	}

	var user string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the janitor once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(a *app) error {
				var stats types.JanitorRunStats
				if user != "" {
					stats = a.runner.Run(cmd.Context(), user)
				} else {
					var err error
					if stats, err = a.runner.RunAll(cmd.Context()); err != nil {
						return err
					}
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	run.Flags().StringVar(&user, "user", "", "only process this user")
	cmd.AddCommand(run)
	return cmd
}

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the janitor scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(a *app) error {
				a.logger.Info("serving", "backend", a.cfg.Storage.Backend, "interval", a.cfg.Janitor.Interval)
				// Settle the store once at startup, then follow the schedule.
				if _, err := a.scheduler.RunNow(cmd.Context(), "startup"); err != nil {
					a.logger.Warn("startup janitor run failed", "err", err)
				}
				err := a.scheduler.Start(cmd.Context())
				if errors.Is(err, context.Canceled) {
					a.logger.Info("shutting down", "metrics", a.recorder.Snapshot())
					return nil
				}
				return err
			})
		},
	}
}

func printStats(w io.Writer, s types.JanitorRunStats) {
	for _, t := range s.Tasks {
		user := ""
		if s.UserID != "" {
			user = s.UserID + " "
		}
		fmt.Fprintf(w, "%s%-13s processed=%d removed=%d resolved=%d errors=%d (%s)\n",
			user, t.Task, t.Processed, t.Removed, t.Resolved, t.Errors, t.Duration)
	}
	fmt.Fprintf(w, "total processed=%d removed=%d resolved=%d errors=%d in %s\n",
		s.Processed, s.Removed, s.Resolved, s.Errors, s.Duration)
	if s.Cancelled {
		fmt.Fprintln(w, "run was cancelled before finishing")
	}
}
