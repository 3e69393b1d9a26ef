// Package log holds the process wide logger used by the stream-client
// library.
//
// The library itself only depends on the small Logger interface. By default
// nothing is logged; an application enables logging by installing a Logger
// with SetLogger()/SetLoggerFunc() - either its own implementation, the
// stdout logger provided here, or an adapter like the gonelog one in the
// log/gonelog sub-package.
//
// Levels order ascending by severity: Trace < Debug < Info < Warning <
// Error. Mute sorts above every real level. A message is emitted when the
// configured gate level is less than or equal to the message level, so a
// gate of Trace emits everything and a gate of Mute emits nothing.
package log

import (
	"fmt"
	"sync"
)

// Level of a log message, and also the gate level of a Logger.
type Level int32

// Log levels. Mute is not a message level, it is only meaningful as a gate.
const (
	Trace Level = iota
	Debug
	Info
	Warning
	Error
	Mute
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "MUTE"}

func (l Level) String() string {
	if l < Trace || l > Mute {
		return fmt.Sprintf("Level(%d)", int32(l))
	}
	return levelNames[l]
}

// ParseLevel converts a level name (as produced by String(), case
// insensitive, "warning" also accepted) back to a Level.
func ParseLevel(name string) (Level, error) {
	switch lower(name) {
	case "trace":
		return Trace, nil
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warning, nil
	case "error":
		return Error, nil
	case "mute", "":
		return Mute, nil
	}
	return Mute, fmt.Errorf("log: unknown level %q", name)
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// Logger is the interface the library logs through.
//
// Message must be safe to call from multiple goroutines; any locking is the
// implementation's responsibility. The location argument names the library
// component the message originates from and can be used for filtering.
type Logger interface {
	SetLevel(level Level)
	Level() Level
	Message(level Level, location, message string)
}

var (
	mu     sync.RWMutex
	logger Logger
)

// SetLogger installs l as the library logger. Passing nil installs the
// stdout logger at Trace level. Meant to be called once at startup;
// installing is synchronized but messages already in flight may still reach
// the previous logger.
func SetLogger(l Logger) {
	if l == nil {
		l = NewStdLogger(Trace)
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLoggerFunc installs a logger calling fn for every emitted message.
func SetLoggerFunc(level Level, fn func(level Level, location, message string)) {
	SetLogger(&funcLogger{level: level, fn: fn})
}

// SetLevel changes the gate level of the installed logger. No-op when no
// logger is installed.
func SetLevel(level Level) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		l.SetLevel(level)
	}
}

// GetLevel returns the gate level of the installed logger, or Mute when no
// logger is installed.
func GetLevel() Level {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return Mute
	}
	return l.Level()
}

// Message emits a preformatted message.
func Message(level Level, location, message string) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil || level >= Mute || l.Level() > level {
		return
	}
	l.Message(level, location, message)
}

// Logf emits a formatted message. The format arguments are not evaluated
// when the message is gated off.
func Logf(level Level, location, format string, args ...interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil || level >= Mute || l.Level() > level {
		return
	}
	l.Message(level, location, fmt.Sprintf(format, args...))
}

type funcLogger struct {
	lmu   sync.Mutex
	level Level
	fn    func(Level, string, string)
}

func (f *funcLogger) SetLevel(level Level) {
	f.lmu.Lock()
	f.level = level
	f.lmu.Unlock()
}

func (f *funcLogger) Level() Level {
	f.lmu.Lock()
	defer f.lmu.Unlock()
	return f.level
}

func (f *funcLogger) Message(level Level, location, message string) {
	f.fn(level, location, message)
}
