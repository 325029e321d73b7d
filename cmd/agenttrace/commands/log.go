package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/agenttrace/pkg/config"
	"github.com/DrSkyle/agenttrace/pkg/engine"
	"github.com/DrSkyle/agenttrace/pkg/extract"
	"github.com/DrSkyle/agenttrace/pkg/store"
)

var (
	logRef    string
	logAnchor bool
)

var LogCmd = &cobra.Command{
	Use:   "log",
	Short: "Record the current commit as a live trace",
	Long: `Record a commit with the current time, a proof of work and the trace ids
of the running agent session.

Environment:
  TRACE_ID      session trace id (default manual-test-trace)
  PARENT_TRACE  parent session trace id
  MODEL_NAME    model credited for the lines (default custom-logger/1.0)
  POW           proof-of-work difficulty (default 4)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := config.ParseLiveEnv()
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if logAnchor && eng.Anchor != nil {
				eng.EnableAnchorOnWrite()
			}
			res, err := eng.Log(ctx, engine.LiveInput{Ref: logRef, Env: env})
			switch {
			case errors.Is(err, store.ErrAlreadyExists):
				fmt.Printf("%s a trace was already written this second (%s)\n", warnStyle.Render("[SKIP]"), res.Key)
				return nil
			case errors.Is(err, extract.ErrNoQualifyingChanges):
				fmt.Printf("%s %s has no qualifying changes\n", warnStyle.Render("[SKIP]"), short(res.Revision))
				return nil
			case err != nil:
				return err
			}
			fmt.Printf("wrote trace: %s\n", artifactPath(cfg.StoreTarget(), res.Key))
			fmt.Println(dimStyle.Render("trace_hash " + res.TraceHash))
			return nil
		})
	},
}

func init() {
	LogCmd.Flags().StringVar(&logRef, "rev", "HEAD", "Commit to record")
	LogCmd.Flags().BoolVar(&logAnchor, "anchor", false, "Anchor the record after it is written")
}

// artifactPath locates a stored record under the store target: a file path
// for local stores, an object URL for S3.
func artifactPath(target, key string) string {
	if strings.HasPrefix(target, "s3://") {
		return strings.TrimSuffix(target, "/") + "/" + key
	}
	return filepath.Join(target, key)
}
