package util

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// logLevels are the names accepted by the log_level setting.
var logLevels = map[string]pterm.LogLevel{
	"debug":   pterm.LogLevelDebug,
	"info":    pterm.LogLevelInfo,
	"warn":    pterm.LogLevelWarn,
	"warning": pterm.LogLevelWarn,
	"error":   pterm.LogLevelError,
}

// ParseLevel maps a log_level name onto a pterm level. Names are case
// insensitive.
func ParseLevel(name string) (pterm.LogLevel, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return pterm.LogLevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
	}
	return level, nil
}

// SetLevel applies a log_level name to the process logger.
func SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	pterm.DefaultLogger.Level = level
	return nil
}

// Leveled logging functions backed by the pterm logger, writing to stderr.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess is logged at info level; pterm's logger has no success level.
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}
