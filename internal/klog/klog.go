// Package klog provides the structured logging used by the syscall
// dispatcher, the filesystem backends, and cmd/corekerneld: one
// package-level logrus logger reached through Debug, Error, and the
// component-scoped For. It takes the place of jacobsa/fuse's
// debugLogger/errorLogger pair (see connection.go,
// debug.go) but swaps bare *log.Logger for *logrus.Entry so callers can
// attach structured fields (hart, task, syscall, errno) instead of
// formatting them into the message string.
package klog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once    sync.Once
	base    *logrus.Logger
	debugOn bool
)

// EnableDebug turns on debug-level logging to stderr. Analogous to
// jacobsa/fuse's -fuse.debug flag in debug.go, but settable
// programmatically since corekernel is configured via cobra/viper rather
// than flag.
func EnableDebug(enabled bool) {
	debugOn = enabled
	if base != nil {
		if enabled {
			base.SetLevel(logrus.DebugLevel)
		} else {
			base.SetLevel(logrus.InfoLevel)
		}
	}
}

func root() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetOutput(os.Stderr)
		if debugOn {
			base.SetLevel(logrus.DebugLevel)
		} else {
			base.SetLevel(logrus.InfoLevel)
		}
	})
	return base
}

// SetOutput redirects the root logger, primarily for tests that want to
// silence output (io.Discard) or capture it.
func SetOutput(w io.Writer) {
	root().SetOutput(w)
}

// Debug logs a debug-level message with structured fields. Never panics on
// a nil map.
func Debug(fields logrus.Fields, format string, args ...interface{}) {
	root().WithFields(fields).Debugf(format, args...)
}

// Error logs an error-level message with structured fields.
func Error(fields logrus.Fields, format string, args ...interface{}) {
	root().WithFields(fields).Errorf(format, args...)
}

// For returns a component-scoped entry, e.g. klog.For("dispatch").
func For(component string) *logrus.Entry {
	return root().WithField("component", component)
}
