package main

import (
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"

	"bilregistret/internal/config"
	"bilregistret/internal/engine"
	"bilregistret/internal/logging"
	"bilregistret/internal/version"
)

var (
	// configFlag is the CLI --config flag value
	configFlag string
	// logLevelFlag overrides logging.level from config
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "bilregistret",
	Short: "Bilregistret - vehicle data lookups",
	Long: `Bilregistret looks up a registration plate in two vehicle data sources
at once and reconciles their answers into one record, publishing progress
as each source responds.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("bilregistret version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Config file (default: .bilregistret/config.json in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn or error")
}

// loadConfig resolves configuration: --config file, else the working
// directory's .bilregistret/config.json over defaults.
func loadConfig() (string, *config.Config, error) {
	root, err := os.Getwd()
	if err != nil {
		return "", nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to resolve working directory").
			WithCause(err)
	}

	var cfg *config.Config
	if configFlag != "" {
		cfg, err = config.LoadConfigFile(configFlag)
	} else {
		cfg, err = config.LoadConfig(root)
	}
	if err != nil {
		return "", nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config").
			WithCause(err)
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid config").
			WithCause(err)
	}
	return root, cfg, nil
}

// newLogger writes to stderr so stdout carries only command output
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: os.Stderr,
	})
}

// openEngine loads config and builds an engine from it
func openEngine() (*engine.Engine, *config.Config, *logging.Logger, error) {
	root, cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg)
	eng, err := engine.NewEngine(root, cfg, logger)
	if err != nil {
		return nil, nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("failed to start engine").
			WithCause(err)
	}
	return eng, cfg, logger, nil
}
