package dlog

import (
	"github.com/sirupsen/logrus"
)

// Logrus adapts a logrus field logger (*logrus.Logger or *logrus.Entry)
// to Logger.
type Logrus struct{ Logger logrusFieldLogger }

// logrusFieldLogger is the subset of logrus.FieldLogger this package
// needs; both *logrus.Logger and *logrus.Entry satisfy it.
type logrusFieldLogger interface {
	WithField(key string, value any) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	WithError(err error) *logrus.Entry
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
}

var _ Logger = Logrus{}

// NewLogrus wraps l as a Logger. A nil l is replaced with logrus.StandardLogger().
func NewLogrus(l *logrus.Logger) Logrus {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logrus{Logger: l}
}

func (x Logrus) WithField(key string, value any) Logger {
	return Logrus{Logger: x.Logger.WithField(key, value)}
}

func (x Logrus) WithFields(fields map[string]any) Logger {
	return Logrus{Logger: x.Logger.WithFields(logrus.Fields(fields))}
}

func (x Logrus) WithError(err error) Logger {
	return Logrus{Logger: x.Logger.WithError(err)}
}

func (x Logrus) Debug(args ...any) { x.Logger.Debug(args...) }
func (x Logrus) Info(args ...any)  { x.Logger.Info(args...) }
func (x Logrus) Warn(args ...any)  { x.Logger.Warn(args...) }
func (x Logrus) Error(args ...any) { x.Logger.Error(args...) }
