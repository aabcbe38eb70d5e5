package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultTolerance is the embedding distance at or below which two faces
// are considered the same person. Matches the upstream dlib default.
const DefaultTolerance = 0.6

type Config struct {
	Face     FaceConfig     `yaml:"face"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
}

type FaceConfig struct {
	URL          string  `yaml:"url"`            // embedding server base URL, defaults to http://localhost:8000
	Model        string  `yaml:"model"`          // model name for reference only
	Tolerance    float64 `yaml:"tolerance"`      // match tolerance, defaults to 0.6
	MaxImageSize int     `yaml:"max_image_size"` // max width/height before downscaling, 0 disables
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL; empty disables the audit log
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func defaults() *Config {
	return &Config{
		Face: FaceConfig{
			URL:          "http://localhost:8000",
			Model:        "insightface",
			Tolerance:    DefaultTolerance,
			MaxImageSize: 1600,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (DOORBELL_CONFIG), and environment variables. Environment variables win.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("DOORBELL_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.Face.URL = envString("FACE_SERVER_URL", cfg.Face.URL)
	cfg.Face.Model = envString("FACE_MODEL", cfg.Face.Model)
	cfg.Face.Tolerance = envFloat("FACE_TOLERANCE", cfg.Face.Tolerance)
	cfg.Face.MaxImageSize = envInt("FACE_MAX_IMAGE_SIZE", cfg.Face.MaxImageSize)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	return cfg, nil
}

// loadFile overlays values from a YAML config file onto cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Face.URL == "" {
		return fmt.Errorf("face server URL is required")
	}
	if c.Face.Tolerance <= 0 || c.Face.Tolerance > 2 {
		return fmt.Errorf("tolerance must be in (0, 2], got %f", c.Face.Tolerance)
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	return nil
}
