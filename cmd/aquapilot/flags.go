package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("AQUAPILOT_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: AQUAPILOT_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("AQUAPILOT_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: AQUAPILOT_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("AQUAPILOT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: AQUAPILOT_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("AQUAPILOT_LOG_FORMAT", "json"),
		"Log format: json, text (env: AQUAPILOT_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("AQUAPILOT_DEBUG", false),
		"Enable debug logging (env: AQUAPILOT_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("AQUAPILOT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: AQUAPILOT_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `%s %s - autonomic control loop for water distribution networks

Usage:
  %s [flags]

Flags:
`, appName, Version, appName)
	flag.PrintDefaults()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
