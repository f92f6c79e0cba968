// Package frames drives animated-attachment frame advancement as a
// cancellable periodic task gated by device thermal state.
//
// This is backpressure for device thermals, not storage consistency: under
// serious thermal load the task suspends entirely rather than slowing down,
// and resumes on its own once conditions normalize.
package frames

import (
	"context"
	"log/slog"
	"time"
)

// ThermalState mirrors the platform's coarse thermal ladder.
type ThermalState uint8

const (
	Nominal ThermalState = iota
	Fair
	Serious
	Critical
)

// String returns the state name for logs.
func (t ThermalState) String() string {
	switch t {
	case Nominal:
		return "nominal"
	case Fair:
		return "fair"
	case Serious:
		return "serious"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// ThermalSource reports the current device thermal state. It is consulted
// before every tick.
type ThermalSource interface {
	State() ThermalState
}

// ThermalSourceFunc adapts a function to the ThermalSource interface.
type ThermalSourceFunc func() ThermalState

// State calls f.
func (f ThermalSourceFunc) State() ThermalState { return f() }

// NominalSource always reports Nominal. Used where no platform thermal
// signal is available.
var NominalSource ThermalSource = ThermalSourceFunc(func() ThermalState { return Nominal })

// TickFunc advances animation state by one frame step.
type TickFunc func()

// Run ticks fn at the given interval until ctx is cancelled, suspending
// while the thermal source reports Serious or worse.
func Run(ctx context.Context, interval time.Duration, source ThermalSource, fn TickFunc, logger *slog.Logger) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if source == nil {
		source = NominalSource
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	suspended := false
	for {
		select {
		case <-ctx.Done():
			logger.Debug("frames: stopped")
			return
		case <-ticker.C:
			st := source.State()
			if st >= Serious {
				if !suspended {
					suspended = true
					logger.Info("frames: suspended", slog.String("thermal", st.String()))
				}
				continue
			}
			if suspended {
				suspended = false
				logger.Info("frames: resumed", slog.String("thermal", st.String()))
			}
			fn()
		}
	}
}
