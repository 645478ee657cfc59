package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Root holds the blob directory and the metadata index.
	Root           string        `yaml:"root"`
	Port           uint32        `yaml:"port"`
	Workers        int           `yaml:"workers"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	WebPQuality    int           `yaml:"webp_quality"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
	Watch          bool          `yaml:"watch"`
}

func DefaultConfig() *Config {
	return &Config{
		Root:           "data",
		Port:           8080,
		Workers:        0,
		JPEGQuality:    90,
		WebPQuality:    75,
		MaxUploadBytes: 32 << 20,
		ConvertTimeout: 30 * time.Second,
		Watch:          true,
	}
}

// ReadConfig loads a YAML config file over the defaults. An empty path
// yields the defaults.
func ReadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		contents, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, readErr
		}
		if unmarshalErr := yaml.Unmarshal(contents, config); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, unmarshalErr)
		}
	}

	if validateErr := config.Validate(); validateErr != nil {
		return nil, fmt.Errorf("failed to read config: %w", validateErr)
	}
	return config, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is not set"))
	}
	if c.Port == 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be within 1..100, got %d", c.JPEGQuality))
	}
	if c.WebPQuality < 1 || c.WebPQuality > 100 {
		errs = append(errs, fmt.Errorf("webp_quality must be within 1..100, got %d", c.WebPQuality))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.ConvertTimeout <= 0 {
		errs = append(errs, errors.New("convert_timeout must be positive"))
	}
	return errors.Join(errs...)
}
