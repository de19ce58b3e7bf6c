package gatt

import (
	"io"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options tunes a Device and everything discovered through it. Zero fields
// are filled from the default tags by DefaultOptions and NewDevice.
type Options struct {
	ConnectTimeout   time.Duration `default:"30s"`
	NotifyTimeout    time.Duration `default:"15s"`
	OperationTimeout time.Duration `default:"10s"`
	PollInterval     time.Duration `default:"50ms"`
	NotifyQueueSize  uint32        `default:"256"`

	// Registry resolves specialized types. Nil means plain characteristics
	// and services only.
	Registry *Registry
	Logger   *logrus.Logger
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() *Options {
	o := &Options{}
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	defaults.SetDefaults(o)
	if o.Logger == nil {
		o.Logger = silentLogger()
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
