package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReviewCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and resolve memories waiting for review",
	}

	var (
		user  string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending memories, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(a *app) error {
				pending, err := a.reviewer.List(cmd.Context(), user, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, p := range pending {
					fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", p.ID, p.Memory.UserID, p.Result.Confidence, p.Memory.Content)
				}
				if len(pending) == 0 {
					fmt.Fprintln(w, "review queue is empty")
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&user, "user", "", "only list this user's memories")
	list.Flags().IntVar(&limit, "limit", 50, "maximum entries to list")

	var reviewer string
	approve := &cobra.Command{
		Use:   "approve <pending-id>",
		Short: "Promote a pending memory into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd, func(a *app) error {
				id, err := a.reviewer.Approve(cmd.Context(), args[0], reviewer)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored: %s\n", id)
				return nil
			})
		},
	}
	reject := &cobra.Command{
		Use:   "reject <pending-id>",
		Short: "Discard a pending memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd, func(a *app) error {
				if err := a.reviewer.Reject(cmd.Context(), args[0], reviewer); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", args[0])
				return nil
			})
		},
	}
	for _, c := range []*cobra.Command{approve, reject} {
		c.Flags().StringVar(&reviewer, "reviewer", "cli", "name recorded on the decision")
	}

	cmd.AddCommand(list, approve, reject)
	return cmd
}
