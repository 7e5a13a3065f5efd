package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal loggers into the pterm logger.
// pion is chatty at info level, so everything below warn is demoted to debug.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l *pionLogger) line(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

func (l *pionLogger) Trace(string)                  {}
func (l *pionLogger) Tracef(string, ...interface{}) {}

func (l *pionLogger) Debug(msg string) { LogDebug("%s", l.line(msg)) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	LogDebug("%s", l.line(fmt.Sprintf(format, args...)))
}

func (l *pionLogger) Info(msg string) { LogDebug("%s", l.line(msg)) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	LogDebug("%s", l.line(fmt.Sprintf(format, args...)))
}

func (l *pionLogger) Warn(msg string) { LogDebug("%s", l.line(msg)) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	LogDebug("%s", l.line(fmt.Sprintf(format, args...)))
}

func (l *pionLogger) Error(msg string) { LogWarning("%s", l.line(msg)) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	LogWarning("%s", l.line(fmt.Sprintf(format, args...)))
}
