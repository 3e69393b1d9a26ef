// Package gonelog adapts a github.com/One-com/gone/log Logger to the
// stream-client logging interface, so applications already wired for
// gonelog can route library output into their existing log setup.
package gonelog

import (
	golog "github.com/One-com/gone/log"
	"github.com/One-com/gone/log/syslog"

	"github.com/Tinkoff/stream-client/log"
)

// Adapter implements log.Logger on top of a gonelog *Logger.
type Adapter struct {
	l *golog.Logger
}

// New wraps l. The gate level is kept on the gonelog side, so changing the
// gonelog level directly is also honored.
func New(l *golog.Logger) *Adapter {
	return &Adapter{l: l}
}

// Use installs l as the library logger. Passing nil uses the gonelog
// default logger.
func Use(l *golog.Logger) {
	if l == nil {
		l = golog.Default()
	}
	log.SetLogger(New(l))
}

// SetLevel maps the library gate level to a syslog priority.
func (a *Adapter) SetLevel(level log.Level) {
	a.l.SetLevel(priority(level))
}

// Level maps the gonelog syslog priority back to a library level.
func (a *Adapter) Level() log.Level {
	switch p := a.l.Level(); {
	case p >= syslog.LOG_DEBUG:
		return log.Trace
	case p == syslog.LOG_INFO || p == syslog.LOG_NOTICE:
		return log.Info
	case p == syslog.LOG_WARNING:
		return log.Warning
	case p == syslog.LOG_ERR:
		return log.Error
	default:
		return log.Mute
	}
}

// Message forwards one message, attaching the location as a K/V pair.
func (a *Adapter) Message(level log.Level, location, message string) {
	a.l.Log(priority(level), message, "location", location)
}

func priority(level log.Level) syslog.Priority {
	switch level {
	case log.Trace, log.Debug:
		return syslog.LOG_DEBUG
	case log.Info:
		return syslog.LOG_INFO
	case log.Warning:
		return syslog.LOG_WARNING
	case log.Error:
		return syslog.LOG_ERR
	default:
		// nothing is logged at EMERG by the library, so this mutes it
		return syslog.LOG_EMERG
	}
}
