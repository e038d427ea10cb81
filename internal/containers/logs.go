package containers

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/testcontainers/testcontainers-go"
)

// LogForwarder relays container output to a prefixed logger.
type LogForwarder struct {
	logger *log.Logger
}

// NewLogForwarder returns a consumer that logs each line under label.
func NewLogForwarder(logger *log.Logger, label string) *LogForwarder {
	if logger == nil {
		logger = log.Default()
	}
	return &LogForwarder{logger: logger.WithPrefix(label)}
}

// Accept implements testcontainers.LogConsumer.
func (f *LogForwarder) Accept(l testcontainers.Log) {
	for _, line := range strings.Split(strings.TrimRight(string(l.Content), "\n"), "\n") {
		if line == "" {
			continue
		}
		if l.LogType == testcontainers.StderrLog {
			f.logger.Warn(line)
			continue
		}
		f.logger.Debug(line)
	}
}
