package config

import (
	"errors"
	"fmt"
	"time"
)

var logLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

// Validate checks the structural validity of a Config. All problems
// are collected and reported together.
func Validate(cfg *Config) error {
	var errs []error

	if _, ok := logLevels[cfg.Logging.Level]; !ok {
		errs = append(errs, fmt.Errorf("config: invalid logging level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("config: invalid logging format %q (want text or json)", cfg.Logging.Format))
	}

	if !cfg.Embedding.Mock && cfg.Embedding.APIKey == "" {
		errs = append(errs, errors.New("config: embedding.api_key is required unless embedding.mock is set"))
	}
	if cfg.Rerank.Enabled && cfg.Rerank.Endpoint == "" {
		errs = append(errs, errors.New("config: rerank.endpoint is required when rerank is enabled"))
	}

	for _, w := range []struct {
		name  string
		value float64
	}{
		{"fusion.weights.conversation", cfg.Fusion.Weights.Conversation},
		{"fusion.weights.private", cfg.Fusion.Weights.Private},
		{"fusion.weights.public", cfg.Fusion.Weights.Public},
	} {
		if w.value <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive, got %v", w.name, w.value))
		}
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"fusion.timeout", cfg.Fusion.Timeout},
		{"ingest.stuck_age", cfg.Ingest.StuckAge},
		{"registry.max_idle", cfg.Registry.MaxIdle},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("config: invalid %s %q: %w", d.name, d.value, err))
		}
	}

	return errors.Join(errs...)
}
