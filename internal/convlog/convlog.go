// Package convlog records full conversation transcripts as per-session
// NDJSON files, one line per turn event. Writing is asynchronous so a slow
// disk never stalls a turn.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config controls transcript recording.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one transcript line. Route names the dispatcher path that
// produced the turn; transcripts are operator-facing, so unlike user
// replies they may say which path ran.
type Event struct {
	Timestamp time.Time `json:"ts"`
	TurnID    string    `json:"turn_id,omitempty"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Route     string    `json:"route,omitempty"`
	Content   string    `json:"content"`
}

// Logger appends events to <dir>/<user>/<session>.ndjson via a single
// writer goroutine. A disabled logger accepts events and drops them.
type Logger struct {
	cfg    Config
	logger *slog.Logger

	ch   chan Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
	files  map[string]*os.File
}

// New creates a transcript logger. With Enabled false it returns a no-op
// logger so callers never need a nil check.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript dir not set")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	l.ch = make(chan Event, size)
	go l.run()
	return l, nil
}

// Log enqueues an event. It never blocks: when the queue is full the event
// is dropped and counted against the operator log instead.
func (l *Logger) Log(event Event) {
	if !l.cfg.Enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// The closed check and the send stay under one lock so Log never races
	// a concurrent Close into a send on a closed channel.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- event:
	default:
		l.logger.Warn("transcript queue full, event dropped",
			"user_id", event.UserID,
			"session_id", event.SessionID,
		)
	}
}

// Close drains the queue, flushes, and closes all transcript files.
func (l *Logger) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.ch)
	<-l.done

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.ch {
		if err := l.write(event); err != nil {
			l.logger.Error("transcript write failed",
				"user_id", event.UserID,
				"session_id", event.SessionID,
				"error", err,
			)
		}
	}
}

func (l *Logger) write(event Event) error {
	f, err := l.file(event.UserID, event.SessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode transcript event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript line: %w", err)
	}
	return nil
}

func (l *Logger) file(userID, sessionID string) (*os.File, error) {
	key := userID + "/" + sessionID
	if f, ok := l.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(l.cfg.Dir, sanitizePathComponent(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create user transcript dir: %w", err)
	}
	path := filepath.Join(dir, sanitizePathComponent(sessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	l.files[key] = f
	return f, nil
}

// sanitizePathComponent keeps externally supplied ids from escaping the
// transcript directory.
func sanitizePathComponent(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if strings.Trim(out, "._") == "" {
		return "_"
	}
	return out
}
