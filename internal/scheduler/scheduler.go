// Package scheduler triggers alert passes on a cron schedule when the binary
// runs as a daemon.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/rewired-gh/almacross/internal/logger"
)

// Scheduler runs a single job on a cron spec. A run that is still in
// progress when the next one is due causes that tick to be skipped.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// New parses spec (standard five-field or descriptors like "@every 1m") and
// registers job.
func New(spec string, job func()) (*Scheduler, error) {
	l := cronLogger{}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	logger.Info("Scheduler started (%s)", s.spec)
	s.cron.Start()
}

// Stop prevents new runs and returns a context done once the running job
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts cron's key/value logger to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: %s%s", msg, formatKV(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: %s: %v%s", msg, err, formatKV(keysAndValues))
}

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
