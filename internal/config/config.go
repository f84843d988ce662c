package config

import "time"

type Config interface {
	EnvConfig
	SyncConfig
}

type EnvConfig interface {
	GetAPIBaseURL() string
	GetWebSocketURL() string
	GetHomeDir() string
	GetKeyringSecret() string
	GetLogLevel() string
	GetEnv() string
	GetMockAddr() string
}

type SyncConfig interface {
	GetRequestTimeout() time.Duration
	GetRenewalTimeout() time.Duration
	GetForegroundPollInterval() time.Duration
	GetBackgroundPollInterval() time.Duration
	GetReconnectBaseDelay() time.Duration
	GetReconnectMaxDelay() time.Duration
}

type mainConfig struct {
	EnvVars
	Sync
}

// New returns a Config resolved from environment variables and defaults only.
func New() Config {
	return mainConfig{}
}

// Load layers the yaml file at path under the environment. An empty path
// falls back to the default location; a missing file is not an error.
func Load(path string) (Config, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return mainConfig{
		EnvVars: EnvVars{file: f},
		Sync:    Sync{file: f},
	}, nil
}
