package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blsdp/pkg/config"
)

// configureLogger creates a logger with the appropriate log level.
// Precedence: --log-level, then --verbose, then log_level from an explicit
// --config file. Without any of them the logger is silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config, verboseFlagName string) (*logrus.Logger, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool(verboseFlagName)

	switch {
	case logLevelStr != "":
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	case verbose:
		logLevel = logrus.DebugLevel
	case configPath != "":
		logLevel = cfg.Level()
	}

	logger := cfg.NewLogger()
	logger.SetLevel(logLevel)
	logger.SetOutput(cmd.ErrOrStderr())

	return logger, nil
}
