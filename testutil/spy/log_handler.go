package spy

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogHandler is a slog.Handler that captures records for testing.
type LogHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

// NewLogHandler creates a new LogHandler.
func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

// Logger returns a slog.Logger writing into the spy.
func (s *LogHandler) Logger() *slog.Logger {
	return slog.New(s)
}

func (s *LogHandler) Handle(_ context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record.Clone())

	return nil
}

func (s *LogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (s *LogHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

func (s *LogHandler) WithGroup(_ string) slog.Handler {
	return s
}

// HasMessage reports whether a record at level contains msg as a substring.
func (s *LogHandler) HasMessage(level slog.Level, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.Level == level && strings.Contains(record.Message, msg) {
			return true
		}
	}

	return false
}

// Count returns the number of captured records.
func (s *LogHandler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}
