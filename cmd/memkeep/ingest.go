package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memkeep/internal/ingest"
	"github.com/scrypster/memkeep/pkg/types"
)

func newIngestCmd(root *rootOptions) *cobra.Command {
	var (
		c         ingest.Candidate
		scope     string
		subject   string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest [flags] <content>",
		Short: "Validate a candidate memory and store, queue or block it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.Content = strings.Join(args, " ")
			c.Scope = types.Scope(scope)
			if subject != "" {
				c.Metadata = map[string]interface{}{types.MetaSubject: subject}
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				c.ExpiresAt = &at
			}
			return root.withApp(cmd, func(a *app) error {
				out, err := a.validator.Ingest(cmd.Context(), c)
				if err != nil && !errors.Is(err, ingest.ErrValidationUnavailable) {
					return err
				}
				printOutcome(cmd, out)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.UserID, "user", "", "owner of the memory (required)")
	f.StringVar(&c.MemoryType, "type", types.MemoryTypeFact, "memory type: preference, fact, decision")
	f.StringVar(&c.SourceText, "source", "", "source text the content was extracted from (defaults to the content)")
	f.Float64Var(&c.BaseConfidence, "confidence", 0, "base confidence (0 uses the configured default)")
	f.StringVar(&scope, "scope", string(types.ScopeUser), "scope: user, project, global")
	f.StringVar(&c.ProjectID, "project", "", "project id for project scope")
	f.StringVar(&subject, "subject", "", "explicit subject used for contradiction detection")
	f.DurationVar(&expiresIn, "expires-in", 0, "expire the memory after this duration")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printOutcome(cmd *cobra.Command, out ingest.Outcome) {
	w := cmd.OutOrStdout()
	res := out.Result
	fmt.Fprintf(w, "tier: %d (%s)\n", int(res.Tier), res.Tier)
	fmt.Fprintf(w, "confidence: %.2f\n", res.Confidence)
	switch {
	case out.MemoryID != "":
		fmt.Fprintf(w, "stored: %s\n", out.MemoryID)
	case out.PendingID != "":
		fmt.Fprintf(w, "queued: %s\n", out.PendingID)
	}
	if res.Duplicate {
		fmt.Fprintf(w, "duplicate of: %s\n", res.DuplicateOf)
	}
	for _, cit := range res.Citations {
		fmt.Fprintf(w, "citation: %s %q\n", cit.Type, cit.Span)
	}
	for _, r := range res.Reasons {
		fmt.Fprintf(w, "reason: %s\n", r)
	}
}
