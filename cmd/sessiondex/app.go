package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/sessiondex"
	"github.com/fyrsmithlabs/sessiondex/internal/config"
	"github.com/fyrsmithlabs/sessiondex/internal/logging"
)

// openApp loads config.yaml plus environment overrides, applies the
// --data-dir flag if set, and opens a sessiondex.App against the result. It
// also returns the logger the App was built with, so the caller can build a
// correlated context via commandContext.
func openApp() (*sessiondex.App, *logging.Logger, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logCfg := logging.NewDefaultConfig()
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	app, err := sessiondex.Open(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sessiondex: %w", err)
	}
	return app, log, nil
}

// commandContext tags ctx with a fresh per-invocation request id and the
// process logger, so every log line a command's underlying connectors,
// indexer, or query client emit can be correlated back to this run.
func commandContext(log *logging.Logger) context.Context {
	ctx := logging.WithLogger(context.Background(), log)
	return logging.WithRequestID(ctx, uuid.NewString())
}
