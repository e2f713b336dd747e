package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// Config is the operator-facing session configuration.
// A Config is treated as immutable once it is stored; changes are made by
// building a new Config and replacing the stored one.
type Config struct {
	Exposure        time.Duration `yaml:"exposure"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	SaveDirectory   string        `yaml:"save_directory"`
	PhotoFilename   string        `yaml:"photo_filename"`
	MovieFilename   string        `yaml:"movie_filename"`
	WaterfallDepth  int           `yaml:"waterfall_depth"`
	Region          types.Region  `yaml:"region"`
	User            string        `yaml:"user"`

	// QueueCapacityHint is the queue size reported as 100% occupancy.
	// It is advisory: the queue itself is unbounded.
	QueueCapacityHint int           `yaml:"queue_capacity_hint"`
	FlushEvery        int           `yaml:"flush_every"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	LogHistory        int           `yaml:"log_history"`
}

// DefaultConfig returns a config matching the defaults of the acquisition GUI.
func DefaultConfig() Config {
	return Config{
		Exposure:          10 * time.Millisecond,
		RefreshInterval:   50 * time.Millisecond,
		SaveDirectory:     filepath.Clean("./data"),
		PhotoFilename:     "photo",
		MovieFilename:     "movie",
		WaterfallDepth:    200,
		User:              "unknown",
		QueueCapacityHint: 200,
		FlushEvery:        50,
		FlushInterval:     time.Second,
		LogHistory:        100,
	}
}

// Load reads a YAML file and overlays it on DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	var errs []error
	if c.Exposure < 0 {
		errs = append(errs, fmt.Errorf("exposure must not be negative: %s", c.Exposure))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must be positive: %s", c.RefreshInterval))
	}
	if c.PhotoFilename == "" {
		errs = append(errs, errors.New("photo_filename is empty"))
	}
	if c.MovieFilename == "" {
		errs = append(errs, errors.New("movie_filename is empty"))
	}
	if c.WaterfallDepth <= 0 {
		errs = append(errs, fmt.Errorf("waterfall_depth must be positive: %d", c.WaterfallDepth))
	}
	if c.QueueCapacityHint <= 0 {
		errs = append(errs, fmt.Errorf("queue_capacity_hint must be positive: %d", c.QueueCapacityHint))
	}
	if c.FlushEvery <= 0 {
		errs = append(errs, fmt.Errorf("flush_every must be positive: %d", c.FlushEvery))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be positive: %s", c.FlushInterval))
	}
	if c.LogHistory <= 0 {
		errs = append(errs, fmt.Errorf("log_history must be positive: %d", c.LogHistory))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
