// Package config loads runtime configuration from environment variables
// with an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the runtime service.
type Config struct {
	EngineName string `yaml:"engine_name"`
	EnginePath string `yaml:"engine_path"` // serialized engine file; empty builds the demo pipeline

	HTTPPort int `yaml:"http_port"`

	MaxBatchSize int           `yaml:"max_batch_size"`
	MinBatchSize int           `yaml:"min_batch_size"`
	MaxWaitTime  time.Duration `yaml:"max_wait_ms"`

	SampleInterval time.Duration `yaml:"sample_interval_ms"`

	InputDims   []int32 `yaml:"input_dims"`
	ScaleFactor float32 `yaml:"scale_factor"`

	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	c := &Config{
		EngineName:     envStr("ENGINE_NAME", "demo"),
		EnginePath:     envStr("ENGINE_PATH", ""),
		HTTPPort:       envInt("RUNTIME_HTTP_PORT", 8080),
		MaxBatchSize:   envInt("MAX_BATCH_SIZE", 32),
		MinBatchSize:   envInt("MIN_BATCH_SIZE", 1),
		MaxWaitTime:    time.Duration(envInt("MAX_WAIT_MS", 50)) * time.Millisecond,
		SampleInterval: time.Duration(envInt("SAMPLE_INTERVAL_MS", 500)) * time.Millisecond,
		InputDims:      envDims("INPUT_DIMS", []int32{3, 224, 224}),
		ScaleFactor:    envFloat32("SCALE_FACTOR", 0.5),
		LogLevel:       envStr("LOG_LEVEL", "info"),
	}
	return c
}

// yamlConfig mirrors Config with duration fields in milliseconds, matching
// the env variable units.
type yamlConfig struct {
	EngineName     *string  `yaml:"engine_name"`
	EnginePath     *string  `yaml:"engine_path"`
	HTTPPort       *int     `yaml:"http_port"`
	MaxBatchSize   *int     `yaml:"max_batch_size"`
	MinBatchSize   *int     `yaml:"min_batch_size"`
	MaxWaitMs      *int     `yaml:"max_wait_ms"`
	SampleMs       *int     `yaml:"sample_interval_ms"`
	InputDims      []int32  `yaml:"input_dims"`
	ScaleFactor    *float32 `yaml:"scale_factor"`
	LogLevel       *string  `yaml:"log_level"`
}

// ApplyFile overlays values from a YAML file onto the config. Fields absent
// from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if y.EngineName != nil {
		c.EngineName = *y.EngineName
	}
	if y.EnginePath != nil {
		c.EnginePath = *y.EnginePath
	}
	if y.HTTPPort != nil {
		c.HTTPPort = *y.HTTPPort
	}
	if y.MaxBatchSize != nil {
		c.MaxBatchSize = *y.MaxBatchSize
	}
	if y.MinBatchSize != nil {
		c.MinBatchSize = *y.MinBatchSize
	}
	if y.MaxWaitMs != nil {
		c.MaxWaitTime = time.Duration(*y.MaxWaitMs) * time.Millisecond
	}
	if y.SampleMs != nil {
		c.SampleInterval = time.Duration(*y.SampleMs) * time.Millisecond
	}
	if len(y.InputDims) > 0 {
		c.InputDims = y.InputDims
	}
	if y.ScaleFactor != nil {
		c.ScaleFactor = *y.ScaleFactor
	}
	if y.LogLevel != nil {
		c.LogLevel = *y.LogLevel
	}
	return nil
}

// Validate checks for values that would break the runtime at startup.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1, got %d", c.MaxBatchSize)
	}
	if c.MinBatchSize < 1 || c.MinBatchSize > c.MaxBatchSize {
		return fmt.Errorf("min_batch_size %d must be in [1, %d]", c.MinBatchSize, c.MaxBatchSize)
	}
	if c.MaxWaitTime <= 0 {
		return fmt.Errorf("max_wait_ms must be positive, got %s", c.MaxWaitTime)
	}
	if len(c.InputDims) == 0 {
		return fmt.Errorf("input_dims must not be empty")
	}
	for _, d := range c.InputDims {
		if d <= 0 {
			return fmt.Errorf("input_dims must be positive, got %v", c.InputDims)
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// envDims parses a comma-separated dimension list: "3,224,224".
func envDims(key string, fallback []int32) []int32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	dims := make([]int32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		dims = append(dims, int32(n))
	}
	return dims
}
