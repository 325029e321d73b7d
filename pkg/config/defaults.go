// Package config defines default configuration and loads it from file,
// flags and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/trace"
)

// Defaults.
const (
	DefaultTraceDir   = ".agent-trace"
	DefaultLogFormat  = "json"
	DefaultDifficulty = seal.DefaultDifficulty
	EnvPrefix         = "AGENTTRACE"
)

// DefaultMaxIterations bounds the nonce search.
const DefaultMaxIterations uint64 = seal.DefaultMaxIterations

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved tool configuration.
type Config struct {
	// TraceDir is the repository-relative directory holding trace files.
	// Changes under it are never attributed.
	TraceDir string `mapstructure:"trace_dir"`
	// Store overrides where records are written: a directory or s3://bucket/prefix.
	Store     string `mapstructure:"store"`
	Overwrite bool   `mapstructure:"overwrite"`
	RulesFile string `mapstructure:"rules_file"`
	LogFormat string `mapstructure:"log_format"`
	Verbose   bool   `mapstructure:"verbose"`

	OTelEndpoint string `mapstructure:"otel_endpoint"`

	Identity IdentityConfig `mapstructure:"identity"`
	PoW      PoWConfig      `mapstructure:"pow"`
	Anchor   AnchorConfig   `mapstructure:"anchor"`
}

type IdentityConfig struct {
	ContributorType string `mapstructure:"contributor_type"`
	ModelID         string `mapstructure:"model_id"`
	ToolName        string `mapstructure:"tool_name"`
	ToolVersion     string `mapstructure:"tool_version"`
}

type PoWConfig struct {
	// Enabled seals backfilled records with a proof of work. Live records
	// always carry one.
	Enabled       bool   `mapstructure:"enabled"`
	Difficulty    int    `mapstructure:"difficulty"`
	MaxIterations uint64 `mapstructure:"max_iterations"`
	Workers       int    `mapstructure:"workers"`
}

type AnchorConfig struct {
	BaseURL string `mapstructure:"base_url"`
	User    string `mapstructure:"user"`
	Token   string `mapstructure:"token"`
	Action  string `mapstructure:"action"`
	Workers int    `mapstructure:"workers"`
}

// Default returns the built-in configuration.
func Default() Config {
	id := trace.DefaultIdentity()
	return Config{
		TraceDir:  DefaultTraceDir,
		LogFormat: DefaultLogFormat,
		Identity: IdentityConfig{
			ContributorType: id.ContributorType,
			ModelID:         id.ModelID,
			ToolName:        id.ToolName,
			ToolVersion:     id.ToolVersion,
		},
		PoW: PoWConfig{
			Difficulty:    DefaultDifficulty,
			MaxIterations: DefaultMaxIterations,
			Workers:       1,
		},
		Anchor: AnchorConfig{
			Action:  "memo",
			Workers: 2,
		},
	}
}

// SetDefaults registers every key with v so that environment overrides
// resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("trace_dir", d.TraceDir)
	v.SetDefault("store", d.Store)
	v.SetDefault("overwrite", d.Overwrite)
	v.SetDefault("rules_file", d.RulesFile)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("otel_endpoint", d.OTelEndpoint)
	v.SetDefault("identity.contributor_type", d.Identity.ContributorType)
	v.SetDefault("identity.model_id", d.Identity.ModelID)
	v.SetDefault("identity.tool_name", d.Identity.ToolName)
	v.SetDefault("identity.tool_version", d.Identity.ToolVersion)
	v.SetDefault("pow.enabled", d.PoW.Enabled)
	v.SetDefault("pow.difficulty", d.PoW.Difficulty)
	v.SetDefault("pow.max_iterations", d.PoW.MaxIterations)
	v.SetDefault("pow.workers", d.PoW.Workers)
	v.SetDefault("anchor.base_url", d.Anchor.BaseURL)
	v.SetDefault("anchor.user", d.Anchor.User)
	v.SetDefault("anchor.token", d.Anchor.Token)
	v.SetDefault("anchor.action", d.Anchor.Action)
	v.SetDefault("anchor.workers", d.Anchor.Workers)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load resolves the configuration from v. A missing config file is not an error.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges that would otherwise fail late.
func (c Config) Validate() error {
	if c.TraceDir == "" {
		return fmt.Errorf("%w: trace_dir is empty", ErrInvalidConfig)
	}
	if c.PoW.Difficulty < 0 || c.PoW.Difficulty > seal.MaxDifficulty {
		return fmt.Errorf("%w: pow.difficulty must be between 0 and %d", ErrInvalidConfig, seal.MaxDifficulty)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// StoreTarget is where records are persisted.
func (c Config) StoreTarget() string {
	if c.Store != "" {
		return c.Store
	}
	return c.TraceDir
}

// TraceIdentity converts the identity section.
func (c Config) TraceIdentity() trace.Identity {
	return trace.Identity{
		ContributorType: c.Identity.ContributorType,
		ModelID:         c.Identity.ModelID,
		ToolName:        c.Identity.ToolName,
		ToolVersion:     c.Identity.ToolVersion,
	}
}

// SearchOptions converts the pow section.
func (c Config) SearchOptions() seal.SearchOptions {
	return seal.SearchOptions{
		Difficulty:    c.PoW.Difficulty,
		MaxIterations: c.PoW.MaxIterations,
		Workers:       c.PoW.Workers,
	}
}

// LiveEnv is the environment read by live logging.
type LiveEnv struct {
	TraceID     string `env:"TRACE_ID"     envDefault:"manual-test-trace"`
	ModelName   string `env:"MODEL_NAME"   envDefault:"custom-logger/1.0"`
	ParentTrace string `env:"PARENT_TRACE"`
	PoW         int    `env:"POW"          envDefault:"4"`
}

// ParseLiveEnv reads LiveEnv from the process environment.
func ParseLiveEnv() (LiveEnv, error) {
	var e LiveEnv
	if err := env.Parse(&e); err != nil {
		return LiveEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return e, e.validate()
}

// ParseLiveEnvFrom reads LiveEnv from an explicit environment map.
func ParseLiveEnvFrom(environ map[string]string) (LiveEnv, error) {
	var e LiveEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return LiveEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return e, e.validate()
}

func (e LiveEnv) validate() error {
	if e.PoW < 0 || e.PoW > seal.MaxDifficulty {
		return fmt.Errorf("%w: POW must be between 0 and %d", ErrInvalidConfig, seal.MaxDifficulty)
	}
	return nil
}
