package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	apiURLEnvVar   = "DIETSYNC_API_URL"
	homeEnvVar     = "DIETSYNC_HOME"
	keyringEnvVar  = "DIETSYNC_KEYRING_SECRET"
	logLevelEnvVar = "DIETSYNC_LOG_LEVEL"
	portEnvVar     = "PORT"

	defaultAPIURL = "http://127.0.0.1:8000/api"
)

type EnvVars struct {
	file *File
}

var _ EnvConfig = EnvVars{}

// GetAPIBaseURL returns the REST base URL, e.g. "http://127.0.0.1:8000/api".
func (e EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiURLEnvVar, e.file.str(func(f *File) string { return f.APIURL }, defaultAPIURL)), "/")
}

// GetWebSocketURL derives the message channel base from the API base URL.
// The access token is appended as the final path segment by the channel.
func (e EnvVars) GetWebSocketURL() string {
	base := e.GetAPIBaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/messages/ws"
}

func (e EnvVars) GetHomeDir() string {
	home := GetEnv(homeEnvVar, e.file.str(func(f *File) string { return f.Home }, ""))
	if home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".dietsync"
	}
	return filepath.Join(dir, ".dietsync")
}

// GetKeyringSecret returns the secret sealing the credential file. Empty means
// the per-device key file in the home directory is used.
func (e EnvVars) GetKeyringSecret() string {
	return GetEnv(keyringEnvVar, e.file.str(func(f *File) string { return f.KeyringSecret }, ""))
}

func (e EnvVars) GetLogLevel() string {
	return GetEnv(logLevelEnvVar, e.file.str(func(f *File) string { return f.LogLevel }, "info"))
}

func (e EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return e.file.str(func(f *File) string { return f.Env }, "DEV")
	}
	return env
}

// GetMockAddr is the listen address of the fake backend.
func (e EnvVars) GetMockAddr() string {
	addr := GetEnv(portEnvVar, e.file.str(func(f *File) string { return f.MockAddr }, "8000"))
	if addr != "" && addr[0] != ':' && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDuration parses envVar as a time.Duration, returning defaultValue when
// unset or malformed.
func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
