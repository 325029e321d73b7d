package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/agenttrace/pkg/engine"
)

var backfillAnchor bool

var BackfillCmd = &cobra.Command{
	Use:   "backfill <rev>...",
	Short: "Seal trace records for existing commits",
	Long: `Extract the inserted line ranges of each commit, attribute them to the
configured agent, seal the record and write <revision>.json.

Commits already recorded are skipped unless --overwrite is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if backfillAnchor {
				if eng.Anchor == nil {
					return fmt.Errorf("--anchor needs anchor.base_url to be configured")
				}
				eng.EnableAnchorOnWrite()
			}
			rep, err := eng.Backfill(ctx, args)
			if rep != nil {
				printReport(rep)
			}
			return err
		})
	},
}

func init() {
	BackfillCmd.Flags().Bool("overwrite", false, "Replace records that already exist")
	BackfillCmd.Flags().Bool("pow", false, "Seal records with a proof of work")
	BackfillCmd.Flags().Int("difficulty", 4, "Proof-of-work difficulty (leading zero hex digits, max 8)")
	BackfillCmd.Flags().BoolVar(&backfillAnchor, "anchor", false, "Anchor each new record after it is written")
	bind(BackfillCmd.Flags(), map[string]string{
		"overwrite":      "overwrite",
		"pow.enabled":    "pow",
		"pow.difficulty": "difficulty",
	})
}

func printReport(rep *engine.Report) {
	for _, c := range rep.Commits {
		rev := c.Revision
		if rev == "" {
			rev = c.Ref
		}
		switch c.Outcome {
		case engine.OutcomeWritten:
			fmt.Printf("%s %s -> %s\n", okStyle.Render("[SEALED] "), short(rev), c.Key)
			fmt.Println(dimStyle.Render("          trace_hash " + c.TraceHash))
		case engine.OutcomeExists:
			fmt.Printf("%s %s already recorded (%s)\n", warnStyle.Render("[SKIP]   "), short(rev), c.Key)
		case engine.OutcomeNoChanges:
			fmt.Printf("%s %s has no qualifying changes\n", warnStyle.Render("[SKIP]   "), short(rev))
		default:
			fmt.Printf("%s %s: %v\n", errStyle.Render("[FAILED] "), short(rev), c.Err)
		}
		for _, s := range c.Skipped {
			fmt.Println(dimStyle.Render(fmt.Sprintf("          skipped %s (%s)", s.Path, s.Reason)))
		}
	}
	for _, a := range rep.Anchors {
		if a.Err != nil {
			fmt.Printf("%s %s: %v\n", errStyle.Render("[ANCHOR] "), a.Job.Key, a.Err)
			continue
		}
		fmt.Printf("%s %s %s\n", okStyle.Render("[ANCHOR] "), a.Job.Key, a.Status.Reference)
	}
	fmt.Printf("\n%d sealed, %d skipped, %d failed\n",
		rep.Count(engine.OutcomeWritten),
		rep.Count(engine.OutcomeExists)+rep.Count(engine.OutcomeNoChanges),
		rep.Count(engine.OutcomeFailed))
}

func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
