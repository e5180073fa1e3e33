package ota

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout is how long the module may stay silent while a reply is
// awaited.
const DefaultTimeout = 3000 * time.Millisecond

// Option configures a Machine.
type Option func(*Machine)

// WithNotifier sets the UI collaborator.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) {
		m.notifier = n
	}
}

// WithSettings sets the settings source.
func WithSettings(s Settings) Option {
	return func(m *Machine) {
		m.settings = s
	}
}

// WithCompiler enables remote compilation, remote downloads and firmware
// checks.
func WithCompiler(c Compiler) Option {
	return func(m *Machine) {
		m.compiler = c
	}
}

// WithErrorLookup sets the module error code table.
func WithErrorLookup(l ErrorLookup) Option {
	return func(m *Machine) {
		m.lookup = l
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(m *Machine) {
		m.clock = c
	}
}

// WithTimeout sets the response timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		m.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Machine) {
		m.log = l
	}
}

// WithClient2MPhy declares that this client's radio supports 2M PHY, which
// enables the BL652 28.7.3.0 warning.
func WithClient2MPhy(enabled bool) Option {
	return func(m *Machine) {
		m.phy2M = enabled
	}
}

// WithImageHook registers a callback for images fetched or compiled
// remotely, called before they are sent.
func WithImageHook(fn func(Image)) Option {
	return func(m *Machine) {
		m.onImage = fn
	}
}
