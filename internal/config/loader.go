package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty config: everything defaults.
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Scoring.MoveWindow < 0 {
		errs = append(errs, fmt.Errorf("scoring.move_window %d must not be negative", cfg.Scoring.MoveWindow))
	}
	if cfg.Scoring.HighThreshold != 0 && cfg.Scoring.AcceptableThreshold != 0 &&
		cfg.Scoring.HighThreshold >= cfg.Scoring.AcceptableThreshold {
		errs = append(errs, fmt.Errorf("scoring.high_threshold %.1f must be below scoring.acceptable_threshold %.1f",
			cfg.Scoring.HighThreshold, cfg.Scoring.AcceptableThreshold))
	}
	if t := cfg.Scoring.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("scoring.phonetic_threshold %.2f is out of range [0, 1]", t))
	}

	if cfg.Aggregation.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("aggregation.window_size %d must not be negative", cfg.Aggregation.WindowSize))
	}
	if cfg.Aggregation.TrendDelta < 0 {
		errs = append(errs, fmt.Errorf("aggregation.trend_delta %.1f must not be negative", cfg.Aggregation.TrendDelta))
	}

	if c := cfg.Classifier; c.NoTouchMax != 0 || c.LowTouchMax != 0 || c.MediumTouchMax != 0 {
		if !(c.NoTouchMax < c.LowTouchMax && c.LowTouchMax < c.MediumTouchMax) {
			errs = append(errs, fmt.Errorf("classifier thresholds must be strictly increasing: no_touch_max %.1f, low_touch_max %.1f, medium_touch_max %.1f",
				c.NoTouchMax, c.LowTouchMax, c.MediumTouchMax))
		}
	}
	if cfg.Classifier.MinSampleSize < 0 {
		errs = append(errs, fmt.Errorf("classifier.min_sample_size %d must not be negative", cfg.Classifier.MinSampleSize))
	}

	if c := cfg.Workflow.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("workflow.min_confidence %.2f is out of range [0, 1]", c))
	}
	if c := cfg.Workflow.AutoApproveThreshold; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("workflow.auto_approve_threshold %.2f is out of range [0, 1]", c))
	}
	if cfg.Workflow.AutoApprove && cfg.Workflow.AutoApproveThreshold != 0 &&
		cfg.Workflow.AutoApproveThreshold < cfg.Workflow.MinConfidence {
		errs = append(errs, fmt.Errorf("workflow.auto_approve_threshold %.2f must not be below workflow.min_confidence %.2f",
			cfg.Workflow.AutoApproveThreshold, cfg.Workflow.MinConfidence))
	}

	return errors.Join(errs...)
}
