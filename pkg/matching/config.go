package matching

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config carries the tuning knobs for the classifier. It is passed in
// explicitly so thresholds are overridable per deployment and per test.
type Config struct {
	AutoConfirmMin          float64 `yaml:"auto_confirm_min" json:"auto_confirm_min"`
	SuggestMin              float64 `yaml:"suggest_min" json:"suggest_min"`
	MinEventsForAutoConfirm int     `yaml:"min_events_for_auto_confirm" json:"min_events_for_auto_confirm"`
	MatcherID               string  `yaml:"matcher_id" json:"matcher_id"`
	MatcherVersion          string  `yaml:"matcher_version" json:"matcher_version"`
	Workers                 int     `yaml:"workers" json:"workers"`
}

func DefaultConfig() Config {
	return Config{
		AutoConfirmMin:          0.95,
		SuggestMin:              0.85,
		MinEventsForAutoConfirm: 2,
		MatcherID:               "name-matcher",
		MatcherVersion:          "v1",
		Workers:                 8,
	}
}

// LoadConfig reads a yaml tuning file, falling back to defaults when no
// path is configured. Missing fields keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.AutoConfirmMin < c.SuggestMin {
		return fmt.Errorf("auto_confirm_min %.2f below suggest_min %.2f", c.AutoConfirmMin, c.SuggestMin)
	}
	if c.SuggestMin <= 0 || c.AutoConfirmMin > 1 {
		return fmt.Errorf("thresholds must lie in (0,1]")
	}
	if c.MinEventsForAutoConfirm < 1 {
		return fmt.Errorf("min_events_for_auto_confirm must be at least 1")
	}
	return nil
}
