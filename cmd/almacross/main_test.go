package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rewired-gh/almacross/internal/config"
	"github.com/rewired-gh/almacross/internal/market"
	"github.com/rewired-gh/almacross/internal/models"
	"github.com/rewired-gh/almacross/internal/monitor"
)

type stubRunner struct {
	out monitor.Outcome
	err error
}

func (r stubRunner) RunOnce(context.Context) (monitor.Outcome, error) { return r.out, r.err }

type recordingNotifier struct {
	err  error
	sent []error
}

func (n *recordingNotifier) SendError(err error) error {
	n.sent = append(n.sent, err)
	return n.err
}

func abortedAt(stage monitor.Stage, reason string) monitor.Outcome {
	return monitor.Outcome{Stage: monitor.StageAborted, AbortedAt: stage, Reason: reason}
}

func TestRunPass_ExitCodes(t *testing.T) {
	dataUnavailable := &market.DataUnavailableError{Symbol: "BTCUSDT", Interval: "1m", Cause: errors.New("timeout")}
	alert := &models.Alert{Symbol: "BTCUSDT", Interval: "1m", Event: models.CrossBullish}

	tests := []struct {
		name string
		out  monitor.Outcome
		err  error
		want int
	}{
		{"alerted", monitor.Outcome{Stage: monitor.StageDone, Alert: alert, Notified: true, Persisted: true}, nil, exitOK},
		{"no cross", abortedAt(monitor.StageDetecting, monitor.ReasonNoCross), nil, exitOK},
		{"duplicate", abortedAt(monitor.StageDeduping, monitor.ReasonDuplicate), nil, exitOK},
		{"locked", abortedAt(monitor.StageFetching, monitor.ReasonLocked), nil, exitOK},
		{"notify failed", monitor.Outcome{Stage: monitor.StageDone, Alert: alert, NotifyErr: errors.New("notification failed")}, nil, exitOK},
		{"data unavailable", abortedAt(monitor.StageFetching, monitor.ReasonDataUnavailable), dataUnavailable, exitFailed},
		{"state save failed", monitor.Outcome{Stage: monitor.StagePersisting, Alert: alert, Notified: true}, errors.New("failed to persist alert state: disk full"), exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			got := runPass(context.Background(), stubRunner{out: tt.out, err: tt.err}, notifier, false)
			if got != tt.want {
				t.Errorf("runPass() = %d, want %d", got, tt.want)
			}
			if len(notifier.sent) != 0 {
				t.Errorf("error notification sent with notify_errors off")
			}
		})
	}
}

func TestRunPass_ErrorNotification(t *testing.T) {
	dataUnavailable := &market.DataUnavailableError{Symbol: "BTCUSDT", Interval: "1m", Cause: errors.New("timeout")}

	tests := []struct {
		name     string
		err      error
		sendErr  error
		wantSent int
		wantCode int
	}{
		{"data unavailable is reported", dataUnavailable, nil, 1, exitFailed},
		{"send failure keeps exit code", dataUnavailable, errors.New("telegram down"), 1, exitFailed},
		{"other errors are not reported", errors.New("failed to persist alert state"), nil, 0, exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{err: tt.sendErr}
			out := abortedAt(monitor.StageFetching, monitor.ReasonDataUnavailable)

			got := runPass(context.Background(), stubRunner{out: out, err: tt.err}, notifier, true)
			if got != tt.wantCode {
				t.Errorf("runPass() = %d, want %d", got, tt.wantCode)
			}
			if len(notifier.sent) != tt.wantSent {
				t.Fatalf("sent %d error notifications, want %d", len(notifier.sent), tt.wantSent)
			}
			if tt.wantSent > 0 && !errors.Is(notifier.sent[0], market.ErrDataUnavailable) {
				t.Errorf("reported error = %v", notifier.sent[0])
			}
		})
	}
}

func setFlags(t *testing.T, cfgPath, env string) {
	t.Helper()
	oldCfg, oldEnv, oldCron := *configPath, *envFile, *cronSpec
	*configPath, *envFile, *cronSpec = cfgPath, env, ""
	t.Cleanup(func() { *configPath, *envFile, *cronSpec = oldCfg, oldEnv, oldCron })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_ConfigurationErrors(t *testing.T) {
	valid := "detector:\n  closed_candle_lag: 1\n"

	tests := []struct {
		name   string
		config string // empty means the file is missing
		token  string
		chatID string
	}{
		{"missing config file", "", "123:abc", "42"},
		{"lag not set", "market:\n  symbol: BTCUSDT\n", "123:abc", "42"},
		{"invalid config", "detector:\n  closed_candle_lag: 1\nmarket:\n  limit: 10\n", "123:abc", "42"},
		{"missing bot token", valid, "", "42"},
		{"missing chat id", valid, "123:abc", ""},
		{"bad chat id", valid, "123:abc", "not-a-number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "absent.yaml")
			if tt.config != "" {
				cfgPath = writeFile(t, "config.yaml", tt.config)
			}
			setFlags(t, cfgPath, filepath.Join(t.TempDir(), "absent.env"))
			t.Setenv(config.EnvBotToken, tt.token)
			t.Setenv(config.EnvChatID, tt.chatID)

			if got := run(); got != exitConfig {
				t.Errorf("run() = %d, want %d", got, exitConfig)
			}
		})
	}
}
