package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/rewired-gh/almacross/internal/logger"
	"github.com/rewired-gh/almacross/internal/models"
)

const maxRedisAlerts = 500

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Key      string // key prefix, e.g. "almacross"
}

// RedisStore keeps the alert state in Redis so that several hosts can share one
// deployment slot.
type RedisStore struct {
	client *goredis.Client
	prefix string
}

// release deletes the lock only if it still belongs to the caller.
var release = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisState struct {
	LastAlertedCandle int64 `json:"last_alerted_candle"`
	UpdatedAt         int64 `json:"updated_at"`
}

type redisAlert struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	Interval    string  `json:"interval"`
	Direction   string  `json:"direction"`
	CandleTime  int64   `json:"candle_time"`
	Close       float64 `json:"close"`
	ShortWindow int     `json:"short_window"`
	LongWindow  int     `json:"long_window"`
	ShortALMA   float64 `json:"short_alma"`
	LongALMA    float64 `json:"long_alma"`
	DetectedAt  int64   `json:"detected_at"`
}

// NewRedisStore connects to Redis and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Key
	if prefix == "" {
		prefix = "almacross"
	}
	logger.Debug("Connected to redis at %s (prefix %s)", cfg.Addr, prefix)
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) stateKey() string  { return s.prefix + ":state" }
func (s *RedisStore) lockKey() string   { return s.prefix + ":lock" }
func (s *RedisStore) alertsKey() string { return s.prefix + ":alerts" }

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Lock sets the lock key with NX and a TTL, owned by a random token.
func (s *RedisStore) Lock(ctx context.Context, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	owner := uuid.New().String()
	ok, err := s.client.SetNX(ctx, s.lockKey(), owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release.Run(ctx, s.client, []string{s.lockKey()}, owner).Err(); err != nil {
			logger.Warn("Failed to release run lock: %v", err)
		}
	}, nil
}

// Load returns the stored state, or the empty state when the key is missing
// or does not decode.
func (s *RedisStore) Load(ctx context.Context) models.AlertState {
	raw, err := s.client.Get(ctx, s.stateKey()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.AlertState{}
	}
	if err != nil {
		logger.Warn("Alert state unreadable, treating as empty: %v", err)
		return models.AlertState{}
	}

	var st redisState
	if err := json.Unmarshal(raw, &st); err != nil {
		logger.Warn("Alert state corrupt, treating as empty: %v", err)
		return models.AlertState{}
	}
	return models.AlertState{
		LastAlertedCandle: st.LastAlertedCandle,
		HasAlerted:        true,
		UpdatedAt:         time.Unix(0, st.UpdatedAt),
	}
}

// Save overwrites the stored state.
func (s *RedisStore) Save(ctx context.Context, state models.AlertState) error {
	if !state.HasAlerted {
		return ErrEmptyState
	}
	raw, err := json.Marshal(redisState{
		LastAlertedCandle: state.LastAlertedCandle,
		UpdatedAt:         state.UpdatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.stateKey(), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// AddAlert pushes the alert onto a capped history list.
func (s *RedisStore) AddAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	raw, err := json.Marshal(redisAlert{
		ID:          alert.ID,
		Symbol:      alert.Symbol,
		Interval:    alert.Interval,
		Direction:   alert.Event.String(),
		CandleTime:  alert.CandleTime,
		Close:       alert.Close,
		ShortWindow: alert.ShortWindow,
		LongWindow:  alert.LongWindow,
		ShortALMA:   alert.ShortALMA,
		LongALMA:    alert.LongALMA,
		DetectedAt:  alert.DetectedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.alertsKey(), raw)
	pipe.LTrim(ctx, s.alertsKey(), 0, maxRedisAlerts-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *RedisStore) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		return []models.Alert{}, nil
	}
	items, err := s.client.LRange(ctx, s.alertsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	alerts := make([]models.Alert, 0, len(items))
	for _, item := range items {
		var ra redisAlert
		if err := json.Unmarshal([]byte(item), &ra); err != nil {
			logger.Warn("Skipping undecodable alert record: %v", err)
			continue
		}
		alerts = append(alerts, models.Alert{
			ID:          ra.ID,
			Symbol:      ra.Symbol,
			Interval:    ra.Interval,
			Event:       parseDirection(ra.Direction),
			CandleTime:  ra.CandleTime,
			Close:       ra.Close,
			ShortWindow: ra.ShortWindow,
			LongWindow:  ra.LongWindow,
			ShortALMA:   ra.ShortALMA,
			LongALMA:    ra.LongALMA,
			DetectedAt:  time.Unix(0, ra.DetectedAt),
		})
	}
	return alerts, nil
}
