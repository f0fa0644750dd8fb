// Package monitor runs a single alerting pass: fetch, compute, detect,
// dedup, notify and persist.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/almacross/internal/indicator"
	"github.com/rewired-gh/almacross/internal/logger"
	"github.com/rewired-gh/almacross/internal/metrics"
	"github.com/rewired-gh/almacross/internal/models"
	"github.com/rewired-gh/almacross/internal/storage"
)

// Config is the immutable pass configuration.
type Config struct {
	Symbol      string
	Interval    string
	Limit       int
	ShortWindow int
	LongWindow  int
	Offset      float64
	Sigma       float64

	// ClosedCandleLag is the number of newest candles excluded as unclosed.
	ClosedCandleLag int
	// PersistOnNotifyFailure advances the dedup state even when delivery
	// failed. The candle is then never retried.
	PersistOnNotifyFailure bool
	LockTTL                time.Duration
}

// Stage is a step of the pass state machine.
type Stage int

const (
	StageFetching Stage = iota
	StageComputing
	StageDetecting
	StageDeduping
	StageNotifying
	StagePersisting
	StageDone
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageFetching:
		return "fetching"
	case StageComputing:
		return "computing"
	case StageDetecting:
		return "detecting"
	case StageDeduping:
		return "deduping"
	case StageNotifying:
		return "notifying"
	case StagePersisting:
		return "persisting"
	case StageDone:
		return "done"
	case StageAborted:
		return "aborted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Abort reasons.
const (
	ReasonLocked          = "locked"
	ReasonDataUnavailable = "data_unavailable"
	ReasonNoCross         = "no_cross"
	ReasonDuplicate       = "duplicate"
)

// Outcome summarises a finished pass.
type Outcome struct {
	Stage     Stage
	AbortedAt Stage // meaningful when Stage == StageAborted
	Reason    string
	Event     models.CrossEvent
	Alert     *models.Alert
	Notified  bool
	Persisted bool
	NotifyErr error
}

// Label is the outcome used for metrics and logs.
func (o Outcome) Label() string {
	switch {
	case o.Stage == StageAborted:
		return o.Reason
	case o.Notified:
		return "alerted"
	case o.Alert != nil:
		return "notify_failed"
	default:
		return o.Stage.String()
	}
}

// SeriesFetcher supplies candles.
type SeriesFetcher interface {
	Fetch(ctx context.Context, symbol, interval string, limit int) (models.Series, error)
}

// Notifier delivers alerts.
type Notifier interface {
	SendAlert(alert models.Alert) error
}

// StateStore is the subset of storage.Store used by a pass.
type StateStore interface {
	Lock(ctx context.Context, ttl time.Duration) (func(), error)
	Load(ctx context.Context) models.AlertState
	Save(ctx context.Context, state models.AlertState) error
	AddAlert(ctx context.Context, alert *models.Alert) error
}

// Monitor executes passes.
type Monitor struct {
	fetcher  SeriesFetcher
	notifier Notifier
	store    StateStore
	config   Config
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a monitor. m may be nil.
func New(f SeriesFetcher, n Notifier, s StateStore, config Config, m *metrics.Metrics) *Monitor {
	if config.Offset == 0 {
		config.Offset = indicator.DefaultOffset
	}
	if config.Sigma == 0 {
		config.Sigma = indicator.DefaultSigma
	}
	return &Monitor{
		fetcher:  f,
		notifier: n,
		store:    s,
		config:   config,
		metrics:  m,
		now:      time.Now,
	}
}

// RunOnce performs one pass. Quiet endings (no cross, duplicate, locked) are
// returned as an aborted Outcome with a nil error. A fetch failure or a
// failed state write is returned as an error.
func (m *Monitor) RunOnce(ctx context.Context) (out Outcome, err error) {
	started := m.now()
	defer func() {
		label := out.Label()
		if err != nil && out.Stage != StageAborted {
			label = "error"
		}
		m.metrics.ObservePass(label, started)
		logger.Info("Pass finished: outcome=%s in %v", label, time.Since(started))
	}()

	unlock, lockErr := m.store.Lock(ctx, m.config.LockTTL)
	switch {
	case errors.Is(lockErr, storage.ErrLocked):
		logger.Info("Another pass holds the run lock, skipping")
		return aborted(StageFetching, ReasonLocked), nil
	case lockErr != nil:
		logger.Warn("Run lock unavailable, continuing without it: %v", lockErr)
	default:
		defer unlock()
	}

	state := m.store.Load(ctx)

	cfg := m.config
	logger.Debug("Fetching %d %s candles for %s", cfg.Limit, cfg.Interval, cfg.Symbol)
	series, err := m.fetcher.Fetch(ctx, cfg.Symbol, cfg.Interval, cfg.Limit)
	if err != nil {
		return aborted(StageFetching, ReasonDataUnavailable), err
	}

	closes := series.Closes()
	short := indicator.ALMA(closes, cfg.ShortWindow, cfg.Offset, cfg.Sigma)
	long := indicator.ALMA(closes, cfg.LongWindow, cfg.Offset, cfg.Sigma)

	event, p := indicator.Detect(short, long, cfg.ClosedCandleLag)
	if event == models.CrossNone {
		logger.Debug("No cross on %d candles", len(series))
		return aborted(StageDetecting, ReasonNoCross), nil
	}

	candle := series[p]
	if ShouldSuppress(candle.CloseTime, state) {
		logger.Info("Already alerted %s cross on candle %d, suppressing", event, candle.CloseTime)
		out = aborted(StageDeduping, ReasonDuplicate)
		out.Event = event
		return out, nil
	}

	alert := models.Alert{
		Symbol:      cfg.Symbol,
		Interval:    cfg.Interval,
		Event:       event,
		CandleTime:  candle.CloseTime,
		Close:       candle.Close,
		ShortWindow: cfg.ShortWindow,
		LongWindow:  cfg.LongWindow,
		ShortALMA:   short[p].Value,
		LongALMA:    long[p].Value,
		DetectedAt:  m.now(),
	}
	out = Outcome{Stage: StageNotifying, Event: event, Alert: &alert}
	logger.Info("Detected %s cross on %s %s at candle %d (close %v)", event, cfg.Symbol, cfg.Interval, candle.CloseTime, candle.Close)

	if sendErr := m.notifier.SendAlert(alert); sendErr != nil {
		logger.Error("Failed to deliver alert: %v", sendErr)
		out.NotifyErr = sendErr
	} else {
		out.Notified = true
	}
	m.metrics.ObserveNotification(out.Notified)

	out.Stage = StagePersisting
	if out.Notified || cfg.PersistOnNotifyFailure {
		if saveErr := m.store.Save(ctx, Record(candle.CloseTime, m.now())); saveErr != nil {
			return out, fmt.Errorf("failed to persist alert state: %w", saveErr)
		}
		out.Persisted = true
	} else {
		logger.Warn("Alert state not advanced, candle %d will be retried next pass", candle.CloseTime)
	}

	if out.Notified {
		if histErr := m.store.AddAlert(ctx, &alert); histErr != nil {
			logger.Warn("Failed to record alert history: %v", histErr)
		}
	}

	out.Stage = StageDone
	return out, nil
}

func aborted(at Stage, reason string) Outcome {
	return Outcome{Stage: StageAborted, AbortedAt: at, Reason: reason}
}
