// Package notify carries user-visible notices from the booking core to the agent's screen.
package notify

import (
	"log/slog"
	"sync"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notice struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(Notice)
}

// Func adapts a plain function to a Notifier.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a slog logger. It is the fallback when no screen is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch n.Level {
	case LevelError:
		logger.Error(n.Message)
	case LevelWarning:
		logger.Warn(n.Message)
	default:
		logger.Info(n.Message)
	}
}

// Recorder keeps every notice; used by the CLI summary and in tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
