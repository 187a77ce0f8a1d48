package config

import "time"

type Config interface {
	EnvConfig
	AuthConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type AuthConfig interface {
	GetAuthAPIURL() string
	GetHTTPTimeout() time.Duration
	GetRefreshLeeway() time.Duration
}

type StorageConfig interface {
	GetOrigin() string
	GetChannelName() string
	GetStorageBackend() StorageBackend
	GetRedisURL() string
	GetSyncCleanupDelay() time.Duration
}

type mainConfig struct {
	EnvVars
	Auth
	Storage
}

func New() Config {
	return mainConfig{}
}
