// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads the httpsync command configuration from the
// environment and command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the httpsync command configuration. Environment
// variables are read first, then flags override them.
type Config struct {
	Scenario     string        `env:"HTTPSYNC_SCENARIO"`
	Timeout      time.Duration `env:"HTTPSYNC_TIMEOUT"        envDefault:"30s"`
	MaxTimeout   time.Duration `env:"HTTPSYNC_MAX_TIMEOUT"    envDefault:"5m"`
	AwaitTimeout time.Duration `env:"HTTPSYNC_AWAIT_TIMEOUT"  envDefault:"1m"`
	Cooldown     time.Duration `env:"HTTPSYNC_COOLDOWN"`
	LogLevel     string        `env:"HTTPSYNC_LOG_LEVEL"      envDefault:"info"`
	LogFormat    string        `env:"HTTPSYNC_LOG_FORMAT"     envDefault:"console"`
	LogFile      string        `env:"HTTPSYNC_LOG_FILE"`
	LogMaxSizeMB int           `env:"HTTPSYNC_LOG_MAX_SIZE_MB" envDefault:"10"`
	OTelEndpoint string        `env:"HTTPSYNC_OTEL_ENDPOINT"`
}

// Parse loads the environment into a Config and then parses args with
// fs, whose flags default to the environment values.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to the scenario YAML file")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout for requests that set none")
	fs.DurationVar(&cfg.MaxTimeout, "max-timeout", cfg.MaxTimeout, "upper bound on any request timeout")
	fs.DurationVar(&cfg.AwaitTimeout, "await-timeout", cfg.AwaitTimeout, "how long a step may wait for awaited trackers")
	fs.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "default rate limit cooldown for every tracker")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console or json)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to a rotating file instead of stderr")
	fs.IntVar(&cfg.LogMaxSizeMB, "log-max-size", cfg.LogMaxSizeMB, "log file size in megabytes before rotation")
	fs.StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "OTLP/HTTP trace endpoint URL (tracing is off if empty)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Scenario == "" && fs.NArg() > 0 {
		cfg.Scenario = fs.Arg(0)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the command cannot use.
func (c Config) Validate() error {
	if c.Scenario == "" {
		return errors.New("scenario path is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxTimeout <= 0 {
		return fmt.Errorf("max timeout must be positive, got %s", c.MaxTimeout)
	}
	if c.AwaitTimeout <= 0 {
		return fmt.Errorf("await timeout must be positive, got %s", c.AwaitTimeout)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
