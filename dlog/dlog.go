// Package dlog is the logging seam used across store, queue, and
// lifecycle. It mirrors github.com/joeycumines/go-utilpkg/sql/log: a
// small subset of logrus.FieldLogger, so callers can wrap a *logrus.Logger
// with NewLogrus, or substitute Discard in tests.
package dlog

type (
	// Logger is the logging interface used by this module.
	Logger interface {
		WithField(key string, value any) Logger
		WithFields(fields map[string]any) Logger
		WithError(err error) Logger
		Debug(args ...any)
		Info(args ...any)
		Warn(args ...any)
		Error(args ...any)
	}

	// Discard implements a Logger that does nothing. It is the default
	// for every Config that does not set a Logger field.
	Discard struct{}
)

var _ Logger = Discard{}

func (Discard) WithField(string, any) Logger     { return Discard{} }
func (Discard) WithFields(map[string]any) Logger { return Discard{} }
func (Discard) WithError(error) Logger           { return Discard{} }
func (Discard) Debug(...any)                     {}
func (Discard) Info(...any)                      {}
func (Discard) Warn(...any)                      {}
func (Discard) Error(...any)                     {}

// Or returns logger if non-nil, else Discard{}. Packages that accept an
// optional dlog.Logger in their Config should route it through Or in
// their constructor, so internal code never has to nil-check.
func Or(logger Logger) Logger {
	if logger == nil {
		return Discard{}
	}
	return logger
}
