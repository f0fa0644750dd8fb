// Package storage persists the alert deduplication state, the alert history
// and the run lock that serialises overlapping passes.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/almacross/internal/models"
)

// ErrLocked is returned by Lock when another pass holds the run lock.
var ErrLocked = errors.New("run lock held by another pass")

// ErrEmptyState is returned by Save for a state that records no alert. The
// stored state is only ever overwritten, never cleared.
var ErrEmptyState = errors.New("alert state has no alerted candle")

// Store is implemented by every backend.
type Store interface {
	// Lock acquires the run lock for ttl. The returned func releases it.
	Lock(ctx context.Context, ttl time.Duration) (func(), error)
	// Load never fails: missing or unreadable state is returned as empty.
	Load(ctx context.Context) models.AlertState
	Save(ctx context.Context, state models.AlertState) error
	AddAlert(ctx context.Context, alert *models.Alert) error
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend       string // "sqlite" or "redis"
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Open creates the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	case "", "sqlite":
		return NewSQLiteStore(cfg.DBPath)
	default:
		return nil, errors.New("unknown storage backend: " + cfg.Backend)
	}
}

const defaultLockTTL = 2 * time.Minute
