package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/memkeep/internal/retrieval"
)

func newQueryCmd(root *rootOptions) *cobra.Command {
	var q retrieval.Query
	cmd := &cobra.Command{
		Use:   "query [flags] <text>",
		Short: "Retrieve ranked memories for a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Text = strings.Join(args, " ")
			return root.withApp(cmd, func(a *app) error {
				res, err := a.ranker.Retrieve(cmd.Context(), q)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if res.Partial {
					fmt.Fprintln(w, "# partial results: a retrieval channel degraded")
				}
				for i, r := range res.Memories {
					fmt.Fprintf(w, "%d. [%s] %.3f %s (%s)\n",
						i+1, r.Memory.Scope, r.Relevance, r.Memory.Content, r.Memory.ID)
				}
				if len(res.Memories) == 0 {
					fmt.Fprintln(w, "no memories found")
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.UserID, "user", "", "reader (required)")
	f.StringVar(&q.ProjectID, "project", "", "project whose project-scope memories are visible")
	f.IntVarP(&q.K, "limit", "k", 0, "number of results (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
