package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a short user-facing message, the server-side equivalent
// of a dashboard toast.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier delivers notifications. Implementations must not block for long
// and must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Error sends an error-level notification.
func Error(ctx context.Context, n Notifier, msg string) {
	send(ctx, n, LevelError, msg)
}

// Success sends a success-level notification.
func Success(ctx context.Context, n Notifier, msg string) {
	send(ctx, n, LevelSuccess, msg)
}

// Warn sends a warning-level notification.
func Warn(ctx context.Context, n Notifier, msg string) {
	send(ctx, n, LevelWarning, msg)
}

func send(ctx context.Context, n Notifier, level Level, msg string) {
	if n == nil {
		return
	}
	n.Notify(ctx, Notification{Level: level, Message: msg, Time: time.Now().UTC()})
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	logger.Log(ctx, level, "notification", "level", string(n.Level), "message", n.Message)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Close flushes every member that holds background work.
func (m Multi) Close() error {
	var errs []error
	for _, nt := range m {
		if c, ok := nt.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps the most recent notifications in memory so the dashboard
// can show them.
type Recorder struct {
	mu    sync.Mutex
	buf   []Notification
	next  int
	full  bool
	limit int
}

const defaultHistory = 50

// NewRecorder creates a Recorder holding up to limit notifications.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &Recorder{buf: make([]Notification, limit), limit: limit}
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = n
	r.next = (r.next + 1) % r.limit
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the recorded notifications, oldest first.
func (r *Recorder) Recent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Notification, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Notification, 0, r.limit)
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
