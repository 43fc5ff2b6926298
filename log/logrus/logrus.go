// Package logrus adapts a logrus entry to rulecache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/rulecache"
)

var _ rulecache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l with a component=rulecache field. A nil l uses the logrus
// standard logger.
func New(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{E: l.WithField("component", "rulecache")}
}

func (l LogrusLogger) Debug(msg string, f rulecache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f rulecache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f rulecache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f rulecache.Fields) { l.with(f).Error(msg) }

// with maps an "err" field onto logrus.ErrorKey.
func (l LogrusLogger) with(f rulecache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			k = logrus.ErrorKey
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
