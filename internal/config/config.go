// Package config loads and validates service configuration.
//
// Configuration comes from a YAML file with environment variables expanded
// (e.g. ${DATABASE_URL}). Matching parameters are validated once at load;
// an invalid matching configuration blocks startup rather than substituting
// defaults at runtime.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Journal  JournalConfig  `yaml:"journal"`
	Matching MatchingConfig `yaml:"matching"`
}

// JournalConfig points at the external journal entry generator. An empty URL
// falls back to the logging poster.
type JournalConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScorerWeights are the relative weights of the seven matching layers.
// They must sum to 1.0.
type ScorerWeights struct {
	Amount     float64 `yaml:"amount"`
	Temporal   float64 `yaml:"temporal"`
	Reference  float64 `yaml:"reference"`
	Party      float64 `yaml:"party"`
	Semantic   float64 `yaml:"semantic"`
	Behavioral float64 `yaml:"behavioral"`
	Contextual float64 `yaml:"contextual"`
}

// Sum returns the total of all seven weights.
func (w ScorerWeights) Sum() float64 {
	return w.Amount + w.Temporal + w.Reference + w.Party + w.Semantic + w.Behavioral + w.Contextual
}

// BandBoundaries are the inclusive lower bounds of the confidence bands on
// the 0-100 scale. Anything below Low is unmatched.
type BandBoundaries struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MatchingConfig holds every tunable of the matching engine and workbench.
type MatchingConfig struct {
	Weights          ScorerWeights  `yaml:"weights"`
	AutoMatchFloor   float64        `yaml:"auto_match_floor"`  // 0-100
	ReviewMinimum    float64        `yaml:"review_minimum"`    // 0-100
	DateWindowDays   int            `yaml:"date_window_days"`  // candidate prefilter
	AmountTolerance  float64        `yaml:"amount_tolerance"`  // relative, e.g. 0.005 = 0.5%
	Bands            BandBoundaries `yaml:"bands"`
	ReviewCandidates int            `yaml:"review_candidates"` // top-N kept for review
	PostingRetries   int            `yaml:"posting_retries"`
	PostingBackoff   Duration       `yaml:"posting_backoff"`
}

const weightEpsilon = 1e-9

// Load reads and parses the config file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the documented starting configuration. It is the file
// template, not a runtime fallback: Load still validates whatever the file
// ends up containing.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Matching: MatchingConfig{
			Weights: ScorerWeights{
				Amount:     0.30,
				Temporal:   0.15,
				Reference:  0.20,
				Party:      0.15,
				Semantic:   0.08,
				Behavioral: 0.07,
				Contextual: 0.05,
			},
			AutoMatchFloor:   90,
			ReviewMinimum:    50,
			DateWindowDays:   30,
			AmountTolerance:  0.005,
			Bands:            BandBoundaries{High: 90, Medium: 70, Low: 50},
			ReviewCandidates: 5,
			PostingRetries:   3,
			PostingBackoff:   Duration(500 * time.Millisecond),
		},
	}
}

// Validate checks the whole configuration. Any error here is fatal at
// startup; no matching run may proceed with an invalid configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return c.Matching.Validate()
}

// Validate checks the matching parameters.
func (m *MatchingConfig) Validate() error {
	w := m.Weights
	for name, v := range map[string]float64{
		"amount":     w.Amount,
		"temporal":   w.Temporal,
		"reference":  w.Reference,
		"party":      w.Party,
		"semantic":   w.Semantic,
		"behavioral": w.Behavioral,
		"contextual": w.Contextual,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("matching.weights.%s: %v outside [0,1]", name, v)
		}
	}
	if diff := math.Abs(w.Sum() - 1.0); diff > weightEpsilon {
		return fmt.Errorf("matching.weights must sum to 1.0, got %v", w.Sum())
	}

	if m.AutoMatchFloor <= 0 || m.AutoMatchFloor > 100 {
		return fmt.Errorf("matching.auto_match_floor: %v outside (0,100]", m.AutoMatchFloor)
	}
	if m.ReviewMinimum < 0 || m.ReviewMinimum >= m.AutoMatchFloor {
		return fmt.Errorf("matching.review_minimum %v must be in [0, auto_match_floor %v)",
			m.ReviewMinimum, m.AutoMatchFloor)
	}

	b := m.Bands
	if !(b.High > b.Medium && b.Medium > b.Low && b.Low > 0 && b.High <= 100) {
		return fmt.Errorf("matching.bands must satisfy 0 < low < medium < high <= 100, got %+v", b)
	}

	if m.DateWindowDays <= 0 {
		return fmt.Errorf("matching.date_window_days must be positive, got %d", m.DateWindowDays)
	}
	if m.AmountTolerance <= 0 || m.AmountTolerance >= 1 {
		return fmt.Errorf("matching.amount_tolerance %v outside (0,1)", m.AmountTolerance)
	}
	if m.ReviewCandidates < 1 {
		return fmt.Errorf("matching.review_candidates must be at least 1, got %d", m.ReviewCandidates)
	}
	if m.PostingRetries < 1 {
		return fmt.Errorf("matching.posting_retries must be at least 1, got %d", m.PostingRetries)
	}
	if m.PostingBackoff <= 0 {
		return fmt.Errorf("matching.posting_backoff must be positive, got %v", m.PostingBackoff.Std())
	}
	return nil
}
