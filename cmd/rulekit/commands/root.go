package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/rulekit/internal/cli"
	"github.com/TimurManjosov/rulekit/internal/client"
	"github.com/TimurManjosov/rulekit/internal/logging"
	"github.com/TimurManjosov/rulekit/internal/session"
)

var (
	// Global flags
	engineURL  string
	profile    string
	timeout    time.Duration
	format     string
	configFile string
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rulekit",
	Short: "CLI tool for authoring and evaluating eligibility rules",
	Long: `Rulekit is a command-line client for a rule engine service.

It validates rule strings such as "age > 30 AND department = 'Sales'",
combines them into a single rule and evaluates the combined rule against
a record of user attributes. Parsing, combination and evaluation are done
by the engine; rulekit owns the ordered rule set.

Examples:
  rulekit validate "age > 30"
  rulekit check rules.yaml
  rulekit combine "age > 30" "department = 'Sales'"
  rulekit evaluate --file rules.yaml --age 35 --salary 50000 --experience 5 --department Sales
  rulekit shell --profile staging`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.ParseFormat(format); err != nil {
			return err
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&engineURL, "engine-url", "", "Base URL of the rule engine (overrides profile and "+cli.EngineURLEnv+")")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Config profile (default: default_profile from config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Timeout for each engine call (default: profile timeout or 10s)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.rulekit/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

func outputFormat() cli.OutputFormat {
	return cli.OutputFormat(format)
}

func loadConfig() (*cli.Config, error) {
	if configFile != "" {
		return cli.LoadConfigFrom(configFile)
	}
	return cli.LoadConfig()
}

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return cli.GetConfigPath()
}

// newLogger logs to stderr; --verbose enables engine call tracing.
func newLogger() zerolog.Logger {
	level := "warn"
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	return logging.New(os.Stderr, level, logging.FormatConsole)
}

// newEngineClient resolves the profile and builds the engine client.
func newEngineClient(logger zerolog.Logger) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	p, name, err := cfg.ResolveProfile(profile, engineURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	d, _ := p.TimeoutDuration()

	logger.Debug().Str("profile", name).Str("engine", p.EngineURL).Dur("timeout", d).Msg("engine configured")
	return client.NewClient(p.EngineURL, client.WithTimeout(d), client.WithLogger(logger)), nil
}

// newSession builds a fresh session against the configured engine.
func newSession() (*session.Session, error) {
	logger := newLogger()
	c, err := newEngineClient(logger)
	if err != nil {
		return nil, err
	}
	return session.New(c, session.WithLogger(logger)), nil
}
