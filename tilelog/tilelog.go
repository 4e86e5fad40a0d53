// Package tilelog carries the module's one ambient logging convention:
// every subsystem that can fail silently mid-pipeline accepts an injected
// logger instead of reaching for a package-global one.
package tilelog

import "github.com/sirupsen/logrus"

// Logger is the logging surface every component depends on. It is
// satisfied by *logrus.Logger and *logrus.Entry.
type Logger = logrus.FieldLogger

// Default returns the package-wide fallback logger used when a component
// is constructed without an explicit Logger. Callers embedding this module
// in a larger service should always inject their own logger instead.
func Default() Logger {
	return logrus.StandardLogger()
}

// Or returns l if non-nil, otherwise Default().
func Or(l Logger) Logger {
	if l != nil {
		return l
	}
	return Default()
}
