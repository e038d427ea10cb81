package harness

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

// StepLogger writes numbered test steps through charmbracelet/log to the
// test log and, when set, a LogBuffer.
type StepLogger struct {
	t      testing.TB
	logger *log.Logger
	start  time.Time
}

// NewStepLogger returns a logger bound to t. Extra writers receive a copy of
// every line.
func NewStepLogger(t testing.TB, extra ...io.Writer) *StepLogger {
	t.Helper()
	writers := append([]io.Writer{testWriter{t: t}}, extra...)
	logger := log.NewWithOptions(io.MultiWriter(writers...), log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Prefix:          "e2e",
	})
	return &StepLogger{t: t, logger: logger, start: time.Now()}
}

// Logger exposes the underlying logger so harness components log to the
// same sink.
func (l *StepLogger) Logger() *log.Logger { return l.logger }

// Step logs the start of step n.
func (l *StepLogger) Step(n int, format string, args ...any) {
	l.t.Helper()
	l.logger.Info(fmt.Sprintf("[STEP %d] "+format, append([]any{n}, args...)...))
}

// Result logs the outcome of the current step.
func (l *StepLogger) Result(format string, args ...any) {
	l.t.Helper()
	l.logger.Info("  -> " + fmt.Sprintf(format, args...))
}

// Info logs a free-form message.
func (l *StepLogger) Info(format string, args ...any) {
	l.t.Helper()
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Error logs a failure without failing the test.
func (l *StepLogger) Error(format string, args ...any) {
	l.t.Helper()
	l.logger.Error(fmt.Sprintf(format, args...))
}

// TimerState logs the persisted timer count.
func (l *StepLogger) TimerState(count int) {
	l.t.Helper()
	l.logger.Info("timer table", "rows", count)
}

// Expected logs a comparison.
func (l *StepLogger) Expected(what string, want, got any, ok bool) {
	l.t.Helper()
	if ok {
		l.logger.Info("check passed", "what", what, "want", want, "got", got)
		return
	}
	l.logger.Error("check failed", "what", what, "want", want, "got", got)
}

// Elapsed logs the time since the logger was created.
func (l *StepLogger) Elapsed() {
	l.t.Helper()
	l.logger.Info("elapsed", "duration", time.Since(l.start).Round(time.Millisecond))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// LogBuffer keeps every write as one entry. It is safe for concurrent use.
type LogBuffer struct {
	mu      sync.Mutex
	entries []string
}

// NewLogBuffer returns an empty buffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, string(p))
	return len(p), nil
}

// Entries returns a copy of the recorded entries.
func (b *LogBuffer) Entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.entries...)
}

// Contains reports whether any entry contains s.
func (b *LogBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

// Clear drops all entries.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}
