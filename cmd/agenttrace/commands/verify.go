package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/agenttrace/pkg/engine"
)

var VerifyCmd = &cobra.Command{
	Use:   "verify <rev|file.json>",
	Short: "Recompute a record's hash and proof of work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			v, err := eng.Verify(ctx, args[0])
			if v == nil {
				return err
			}
			printVerification(v)
			return err
		})
	},
}

func printVerification(v *engine.Verification) {
	fmt.Println(titleStyle.Render("VERIFY " + v.Source))
	fmt.Printf("  revision    %s\n", v.Revision)
	fmt.Printf("  stored      %s\n", v.TraceHash)
	fmt.Printf("  computed    %s\n", v.Computed)

	hash := errStyle.Render("MISMATCH")
	if v.HashOK {
		hash = okStyle.Render("OK")
	}
	fmt.Printf("  hash        %s\n", hash)
	fmt.Printf("  pow         %s\n", v.PoW)
	if v.Anchor != "" {
		fmt.Printf("  anchor      %s\n", v.Anchor)
	}
	for _, p := range v.Problems {
		fmt.Println(errStyle.Render("  ✗ " + p))
	}
	if v.OK() {
		fmt.Println(okStyle.Render("  ✓ record is intact"))
	}
}
