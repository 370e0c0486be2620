package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"folio/internal/app"
	"folio/internal/config"
	"folio/internal/domain"
	"folio/internal/httpapi"
	"folio/internal/util"
	"folio/pkg/folio"
)

// openApp loads configuration and opens the local database. Logs go to
// stderr so command output stays clean.
func openApp() (*app.App, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger := util.NewLoggerTo(os.Stderr, level, "text")
	util.SetDefault(logger)
	return app.New(cfg, logger)
}

// remote returns an API client when -server is set.
func remote() *folio.Client {
	if *serverURL == "" {
		return nil
	}
	return folio.NewClient(*serverURL)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// decodeHoldings accepts either a bare JSON array of holdings or an object
// with a "holdings" array.
func decodeHoldings(data []byte) ([]domain.Holding, error) {
	var holdings []domain.Holding
	if err := json.Unmarshal(data, &holdings); err == nil {
		return holdings, nil
	}
	var req httpapi.ImportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding holdings: %w", err)
	}
	if req.Holdings == nil {
		return nil, errors.New("decoding holdings: no \"holdings\" array")
	}
	return req.Holdings, nil
}
