package internal

import "github.com/ashfell/inkwell/internal/frames"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	thermal frames.ThermalSource
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithThermalSource sets the platform thermal signal consulted by the
// frame scheduler. Defaults to a source that always reports nominal.
func WithThermalSource(src frames.ThermalSource) Option {
	return func(a *application) {
		a.thermal = src
	}
}
