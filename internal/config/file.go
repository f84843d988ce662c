package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional yaml layer, e.g. ~/.config/dietsync/config.yaml:
//
//	api_url: https://api.example.com/api
//	poll_interval: 30s
//	reconnect_max: 1m
type File struct {
	APIURL        string `yaml:"api_url"`
	Home          string `yaml:"home"`
	KeyringSecret string `yaml:"keyring_secret"`
	LogLevel      string `yaml:"log_level"`
	Env           string `yaml:"env"`
	MockAddr      string `yaml:"mock_addr"`

	RequestTimeout         time.Duration `yaml:"request_timeout"`
	RenewalTimeout         time.Duration `yaml:"renewal_timeout"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	BackgroundPollInterval time.Duration `yaml:"background_poll_interval"`
	ReconnectBase          time.Duration `yaml:"reconnect_base"`
	ReconnectMax           time.Duration `yaml:"reconnect_max"`
}

// DefaultFilePath returns ~/.config/dietsync/config.yaml.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "dietsync", "config.yaml"), nil
}

func readFile(path string) (*File, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultFilePath()
		if err != nil {
			return nil, nil
		}
		path = p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &f, nil
}

func (f *File) str(get func(*File) string, defaultValue string) string {
	if f == nil {
		return defaultValue
	}
	if v := get(f); v != "" {
		return v
	}
	return defaultValue
}

func (f *File) dur(get func(*File) time.Duration, defaultValue time.Duration) time.Duration {
	if f == nil {
		return defaultValue
	}
	if v := get(f); v > 0 {
		return v
	}
	return defaultValue
}
