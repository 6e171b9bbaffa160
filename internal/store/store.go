// Package store provides origin-scoped persistent key/value storage for the
// client session. It plays the part browser localStorage plays for the web
// app: synchronous string get/set/remove that survives restarts.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/booktracker/booktracker/internal/config"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store: closed")

// Store is a synchronous string key/value store scoped to one origin.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key.
	Set(key, value string) error
	// Remove deletes the given keys. Missing keys are not an error.
	Remove(keys ...string) error
}

// BatchSetter is implemented by stores that can write several keys in one
// all-or-nothing step.
type BatchSetter interface {
	SetAll(values map[string]string) error
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}

// Open builds the store selected by cfg, scoped to origin.
func Open(cfg config.StoreConfig, origin string) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreFile:
		return OpenFile(cfg.Path, origin)
	case config.StoreSQLite:
		return OpenSQLite(cfg.Path, origin)
	case config.StoreRedis:
		opts, err := redisOptions(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(redis.NewClient(opts), origin), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// Close releases resources held by s, if any.
func Close(s Store) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}

// redisOptions accepts either a redis:// URL or a bare host:port address.
func redisOptions(addr string) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("store: parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}
