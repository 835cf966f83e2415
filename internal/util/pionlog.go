package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP, ...)
// through the pterm logger. Trace output is dropped; info is demoted to
// debug because pion is chatty at that level.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) line(format string, args ...interface{}) string {
	return "pion/" + l.scope + ": " + fmt.Sprintf(format, args...)
}

func (l pionLogger) Trace(string)                  {}
func (l pionLogger) Tracef(string, ...interface{}) {}

func (l pionLogger) Debug(msg string) { LogDebug("%s", l.line("%s", msg)) }
func (l pionLogger) Info(msg string)  { LogDebug("%s", l.line("%s", msg)) }
func (l pionLogger) Warn(msg string)  { LogWarning("%s", l.line("%s", msg)) }
func (l pionLogger) Error(msg string) { LogError("%s", l.line("%s", msg)) }

func (l pionLogger) Debugf(format string, args ...interface{}) {
	LogDebug("%s", l.line(format, args...))
}

func (l pionLogger) Infof(format string, args ...interface{}) {
	LogDebug("%s", l.line(format, args...))
}

func (l pionLogger) Warnf(format string, args ...interface{}) {
	LogWarning("%s", l.line(format, args...))
}

func (l pionLogger) Errorf(format string, args ...interface{}) {
	LogError("%s", l.line(format, args...))
}
