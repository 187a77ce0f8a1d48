package config

import (
	"strings"
	"time"
)

type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageRedis  StorageBackend = "redis"
)

type Storage struct{}

var _ StorageConfig = Storage{}

// GetOrigin names the durable key space shared by every console instance.
func (Storage) GetOrigin() string {
	return GetEnv("AUTH_ORIGIN", "billing-console")
}

func (s Storage) GetChannelName() string {
	return GetEnv("AUTH_CHANNEL", s.GetOrigin()+"-auth")
}

func (Storage) GetStorageBackend() StorageBackend {
	switch strings.ToLower(GetEnv("AUTH_STORAGE", string(StorageMemory))) {
	case string(StorageRedis):
		return StorageRedis
	default:
		return StorageMemory
	}
}

func (Storage) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

func (Storage) GetSyncCleanupDelay() time.Duration {
	return GetDuration("AUTH_SYNC_CLEANUP_DELAY", 100*time.Millisecond)
}
