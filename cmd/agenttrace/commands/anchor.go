package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/agenttrace/pkg/engine"
)

var AnchorCmd = &cobra.Command{
	Use:   "anchor [rev...]",
	Short: "Submit unanchored trace hashes to the anchoring service",
	Long: `Submit the trace hash of each given revision, or of every record not yet
anchored, and record the service reference in anchor_status.

Configure anchor.base_url, anchor.user and anchor.token (or
AGENTTRACE_ANCHOR_TOKEN).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			results, err := eng.AnchorPending(ctx, args)
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s %s: %v\n", errStyle.Render("[FAILED]  "), r.Job.Key, r.Err)
					continue
				}
				fmt.Printf("%s %s %s\n", okStyle.Render("[ANCHORED]"), r.Job.Key, r.Status.Reference)
			}
			if len(results) == 0 && err == nil {
				fmt.Println(dimStyle.Render("Nothing to anchor."))
			}
			return err
		})
	},
}

func init() {
	AnchorCmd.Flags().String("base-url", "", "Anchoring service base URL")
	AnchorCmd.Flags().String("user", "", "Wallet user")
	AnchorCmd.Flags().String("action", "", "Wallet action (default memo)")
	bind(AnchorCmd.Flags(), map[string]string{
		"anchor.base_url": "base-url",
		"anchor.user":     "user",
		"anchor.action":   "action",
	})
}
