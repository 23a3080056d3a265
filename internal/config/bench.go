package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical bench defaults file.
const DefaultConfigPath = "config/bench.defaults.json"

// BenchConfig is the root configuration for the bench. Fields are pointers so
// partial config files are safe: anything omitted keeps its default through
// the Get* accessors.
type BenchConfig struct {
	// Supervisor params
	TimeoutTier         *string  `json:"timeout_tier,omitempty"` // low | medium | high | max
	MaxContexts         *int     `json:"max_contexts,omitempty"`
	InitGraceMultiplier *float64 `json:"init_grace_multiplier,omitempty"`
	TapBudget           *string  `json:"tap_budget,omitempty"` // duration string like "1s"

	// Frame loop params
	MaxFPS      *float64 `json:"max_fps,omitempty"`
	FrameWidth  *int     `json:"frame_width,omitempty"`
	FrameHeight *int     `json:"frame_height,omitempty"`

	// Run recording params
	DBPath        *string `json:"db_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`
}

// EmptyBenchConfig returns a BenchConfig with all fields unset.
func EmptyBenchConfig() *BenchConfig {
	return &BenchConfig{}
}

// LoadBenchConfig loads a BenchConfig from a JSON file. The path must have a
// .json extension and be under the max file size. Fields omitted from the
// file retain their defaults.
func LoadBenchConfig(path string) (*BenchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBenchConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are sane.
func (c *BenchConfig) Validate() error {
	if c.TimeoutTier != nil {
		switch *c.TimeoutTier {
		case "low", "medium", "high", "max":
		default:
			return fmt.Errorf("timeout_tier must be one of low/medium/high/max, got %q", *c.TimeoutTier)
		}
	}
	if c.MaxContexts != nil && *c.MaxContexts < 1 {
		return fmt.Errorf("max_contexts must be at least 1, got %d", *c.MaxContexts)
	}
	if c.InitGraceMultiplier != nil && *c.InitGraceMultiplier < 1 {
		return fmt.Errorf("init_grace_multiplier must be >= 1, got %f", *c.InitGraceMultiplier)
	}
	if c.TapBudget != nil && *c.TapBudget != "" {
		if _, err := time.ParseDuration(*c.TapBudget); err != nil {
			return fmt.Errorf("invalid tap_budget '%s': %w", *c.TapBudget, err)
		}
	}
	if c.MaxFPS != nil && *c.MaxFPS <= 0 {
		return fmt.Errorf("max_fps must be positive, got %f", *c.MaxFPS)
	}
	if c.FrameWidth != nil && *c.FrameWidth < 1 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight < 1 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	return nil
}

// GetTimeoutTier returns the timeout_tier value or the default.
func (c *BenchConfig) GetTimeoutTier() string {
	if c.TimeoutTier == nil {
		return "medium"
	}
	return *c.TimeoutTier
}

// GetMaxContexts returns the max_contexts value or the default.
func (c *BenchConfig) GetMaxContexts() int {
	if c.MaxContexts == nil {
		return 5
	}
	return *c.MaxContexts
}

// GetInitGraceMultiplier returns the init_grace_multiplier value or the default.
func (c *BenchConfig) GetInitGraceMultiplier() float64 {
	if c.InitGraceMultiplier == nil {
		return 1.8
	}
	return *c.InitGraceMultiplier
}

// GetTapBudget parses and returns the tap_budget as a time.Duration.
func (c *BenchConfig) GetTapBudget() time.Duration {
	if c.TapBudget == nil || *c.TapBudget == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.TapBudget)
	if err != nil {
		return time.Second
	}
	return d
}

// GetMaxFPS returns the max_fps value or the default.
func (c *BenchConfig) GetMaxFPS() float64 {
	if c.MaxFPS == nil {
		return 30
	}
	return *c.MaxFPS
}

// GetFrameWidth returns the frame_width value or the default.
func (c *BenchConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 320
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame_height value or the default.
func (c *BenchConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 240
	}
	return *c.FrameHeight
}

// GetDBPath returns the db_path value or the default.
func (c *BenchConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "bench.db"
	}
	return *c.DBPath
}

// GetMigrationsDir returns the migrations_dir value or the default.
func (c *BenchConfig) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "migrations"
	}
	return *c.MigrationsDir
}
