package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/agenttrace/pkg/engine"
	"github.com/DrSkyle/agenttrace/pkg/tui"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored trace records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			sums, stats, err := eng.List(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s  %-20s  %5s  %-16s  %-9s  %s\n", "COMMIT", "TIMESTAMP", "FILES", "TRACE HASH", "ANCHOR", "REFERENCE")
			for _, s := range sums {
				hash := s.TraceHash
				if len(hash) > 16 {
					hash = hash[:16]
				}
				status := s.AnchorStatus
				if status == "" {
					status = "-"
				}
				fmt.Printf("%-12s  %-20s  %5d  %-16s  %-9s  %s\n", short(s.Revision), s.Timestamp, s.Files, hash, status, s.AnchorReference)
			}
			fmt.Println()
			fmt.Printf("%d records: %s, %s\n", stats.Total,
				okStyle.Render(fmt.Sprintf("%d anchored", stats.Anchored)),
				warnStyle.Render(fmt.Sprintf("%d unanchored", stats.Unanchored)))
			return nil
		})
	},
}

var BrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Interactive browser over stored trace records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			sums, _, err := eng.List(ctx)
			if err != nil {
				return err
			}
			return tui.Run(sums, eng.Store.Load)
		})
	},
}
