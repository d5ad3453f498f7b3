package main

import (
	"flag"
	"fmt"

	"go.uber.org/multierr"

	"github.com/KilimcininKorOglu/cowdb/internal/config"
	"github.com/KilimcininKorOglu/cowdb/internal/logging"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/env"
)

// envFlags are the flags shared by commands that open an environment.
type envFlags struct {
	configFile *string
	dir        *string
	logLevel   *string
}

func addEnvFlags(fs *flag.FlagSet) envFlags {
	return envFlags{
		configFile: fs.String("config", "", "Path to configuration file"),
		dir:        fs.String("dir", "", "Environment directory (overrides config)"),
		logLevel:   fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)"),
	}
}

// load returns the effective configuration.
func (f envFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *f.configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*f.configFile); err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if *f.dir != "" {
		cfg.Dir = *f.dir
	}
	if *f.logLevel != "" {
		cfg.Logging.Level = *f.logLevel
	}
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", multierr.Combine(errs...))
	}
	return cfg, nil
}

// open opens the environment described by the flags.
func (f envFlags) open(readOnly bool) (*env.Environment, *config.Config, logging.Logger, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.NewLogger()
	e, err := env.Open(cfg.Dir, cfg.EnvOptions(logger).WithReadOnly(readOnly))
	if err != nil {
		return nil, nil, nil, err
	}
	return e, cfg, logger, nil
}
