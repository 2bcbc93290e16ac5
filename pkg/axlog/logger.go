// Package axlog defines the logging contract used across scenesync.
package axlog

type Logger interface {
	Info(s string, keyValues ...any)
	Error(s string, keyValues ...any)
	Debug(s string, keyValues ...any)
	Warn(s string, keyValues ...any)
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}

// With returns l, or a Nop logger if l is nil.
func With(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
