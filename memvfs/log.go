package memvfs

import "github.com/sirupsen/logrus"

// Logger receives structured debug traces of VFS operations. It is
// satisfied by *log.Logger, zap's SugaredLogger, logrus, and friends
// through a small shim; the VFS itself only ever calls this interface
// so callers can plug in whatever the host process already uses. The
// package also ships a logrus adapter (NewLogrusLogger), which is why
// it imports logrus.
type Logger interface {
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}

// logrusLogger adapts a *logrus.Logger (or Entry) to Logger, for hosts
// that already standardize on logrus for their own structured logging.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps log, tagging every trace with a component=vfs field so
// it can be filtered out of noisy engine-wide log streams.
func NewLogrusLogger(log *logrus.Logger) Logger {
	return logrusLogger{entry: log.WithField("component", "vfs")}
}

func (l logrusLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
