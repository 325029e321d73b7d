package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSkyle/agenttrace/pkg/anchor"
	"github.com/DrSkyle/agenttrace/pkg/config"
	"github.com/DrSkyle/agenttrace/pkg/engine"
	"github.com/DrSkyle/agenttrace/pkg/extract"
	"github.com/DrSkyle/agenttrace/pkg/policy"
	"github.com/DrSkyle/agenttrace/pkg/storage"
	"github.com/DrSkyle/agenttrace/pkg/store"
	"github.com/DrSkyle/agenttrace/pkg/version"
)

var (
	cfgFile string
	cfg     config.Config
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).MarginBottom(1)
	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0055")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))
)

var rootCmd = &cobra.Command{
	Use:   "agenttrace",
	Short: "Tamper-evident provenance ledger for AI-written code",
	Long: `agenttrace - AI Code Attribution Ledger

Record which lines an agent wrote, seal them, anchor them.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("[ERROR] ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.agenttrace.yaml)")
	pf.String("trace-dir", config.DefaultTraceDir, "Trace directory, relative to the repository root")
	pf.String("store", "", "Record destination: directory or s3://bucket/prefix (default: trace dir)")
	pf.String("rules", "", "YAML file of CEL path exclusion rules")
	pf.String("log-format", config.DefaultLogFormat, "Log format: json or text")
	pf.BoolP("verbose", "v", false, "Debug logging")
	pf.String("otel-endpoint", "", "OTLP HTTP endpoint for pipeline spans")

	bind(pf, map[string]string{
		"trace_dir":     "trace-dir",
		"store":         "store",
		"rules_file":    "rules",
		"log_format":    "log-format",
		"verbose":       "verbose",
		"otel_endpoint": "otel-endpoint",
	})

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	rootCmd.AddCommand(BackfillCmd, LogCmd, VerifyCmd, AnchorCmd, ListCmd, BrowseCmd)
}

// bind maps config keys to flag names on the global viper instance.
func bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.SetConfigFile(filepath.Join(home, ".agenttrace.yaml"))
			viper.SetConfigType("yaml")
		}
	}
}

// newEngine wires the pipeline from the resolved configuration.
func newEngine(ctx context.Context) (*engine.Engine, error) {
	logger := engine.NewLogger(os.Stderr, cfg.LogFormat, cfg.Verbose)

	x := extract.NewExtractor(extract.NewGit("."), cfg.TraceDir)
	x.Logger = logger
	if cfg.RulesFile != "" {
		rules, err := policy.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		x.Filter = rules
	}

	backend, err := storage.Open(ctx, cfg.StoreTarget())
	if err != nil {
		return nil, err
	}
	onExisting := store.SkipExisting
	if cfg.Overwrite {
		onExisting = store.Overwrite
	}
	st, err := store.New(store.Config{Backend: backend, OnExisting: onExisting, Logger: logger})
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithConfig(engine.Config{
			PoW:           cfg.PoW.Enabled,
			Search:        cfg.SearchOptions(),
			AnchorWorkers: cfg.Anchor.Workers,
			OtelEndpoint:  cfg.OTelEndpoint,
			Logger:        logger,
		}),
		engine.WithExtractor(x),
		engine.WithStore(st),
		engine.WithIdentity(cfg.TraceIdentity()),
	}
	if client := anchorClient(); client != nil {
		opts = append(opts, engine.WithAnchor(client))
	}
	return engine.New(ctx, opts...)
}

// anchorClient returns nil when no anchoring service is configured.
func anchorClient() anchor.Client {
	if cfg.Anchor.BaseURL == "" {
		return nil
	}
	c := anchor.NewHTTPClient(cfg.Anchor.BaseURL, cfg.Anchor.User, cfg.Anchor.Token)
	if cfg.Anchor.Action != "" {
		c.Action = cfg.Anchor.Action
	}
	return c
}

// withEngine runs fn against a configured engine and flushes telemetry after.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())
	return fn(ctx, eng)
}

func renderHelp(cmd *cobra.Command) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("AGENTTRACE %s", version.Current)))
	fmt.Println("Tamper-evident provenance ledger for AI-written code.")
	fmt.Println()

	fmt.Println(titleStyle.Render("USAGE"))
	fmt.Printf("  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Println(titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Printf("  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Println()

		fmt.Println(titleStyle.Render("EXAMPLES"))
		fmt.Println("  agenttrace backfill HEAD~3 HEAD~2 HEAD~1   # Seal past commits")
		fmt.Println("  TRACE_ID=run-1 POW=5 agenttrace log        # Record the current commit")
		fmt.Println("  agenttrace verify 2d7b4c0                  # Recompute hash and proof")
		fmt.Println()
	}

	fmt.Println(titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		output := fmt.Sprintf("  --%-15s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			output += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Println(flagStyle.Render(output))
	})
	fmt.Println()
}
