package lapic

import (
	"log/slog"
	"time"
)

// LAPICOption customises a LAPIC instance, mainly for tests.
type LAPICOption func(*LAPIC)

// WithLAPICClock overrides the time base used for timer arm/CCR computation.
func WithLAPICClock(now func() time.Time) LAPICOption {
	return func(l *LAPIC) {
		if now != nil {
			l.clock = now
		}
	}
}

// WithLAPICTimerFactory injects a custom one-shot timer factory (used in tests).
func WithLAPICTimerFactory(factory func(time.Duration, func()) timerHandle) LAPICOption {
	return func(l *LAPIC) {
		if factory != nil {
			l.timerFactory = factory
		}
	}
}

// WithLAPICBus attaches the LAPIC to a bus so it can send and receive IPIs.
func WithLAPICBus(bus *LAPICBus) LAPICOption {
	return func(l *LAPIC) {
		l.bus = bus
		if bus != nil {
			bus.Attach(l)
		}
	}
}

// WithLAPICEOIBroadcaster overrides the level-triggered EOI broadcast
// collaborator normally wired to the I/O APIC.
func WithLAPICEOIBroadcaster(b EOIBroadcaster) LAPICOption {
	return func(l *LAPIC) {
		if b != nil {
			l.eoiBroadcaster = b
		}
	}
}

// WithLAPICLogger overrides the structured logger used for register traffic
// and IPI dispatch diagnostics.
func WithLAPICLogger(logger *slog.Logger) LAPICOption {
	return func(l *LAPIC) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLAPICInjectFunc overrides the collaborator invoked when a Fixed-mode
// interrupt is delivered to this LAPIC, standing in for the real VM-exit
// event-injection path.
func WithLAPICInjectFunc(fn func(vector uint8)) LAPICOption {
	return func(l *LAPIC) {
		l.onInject = fn
	}
}

// WithLAPICNMIFunc overrides the collaborator invoked on NMI delivery.
func WithLAPICNMIFunc(fn func()) LAPICOption {
	return func(l *LAPIC) {
		l.onNMI = fn
	}
}

// WithLAPICInitFunc overrides the collaborator invoked on INIT delivery.
func WithLAPICInitFunc(fn func()) LAPICOption {
	return func(l *LAPIC) {
		l.onInit = fn
	}
}

// WithLAPICStartupFunc overrides the collaborator invoked on Start-Up (SIPI)
// delivery.
func WithLAPICStartupFunc(fn func(vector uint8)) LAPICOption {
	return func(l *LAPIC) {
		l.onStartup = fn
	}
}

// WithLAPICX2APICMode starts the LAPIC already switched into x2APIC mode.
func WithLAPICX2APICMode(enabled bool) LAPICOption {
	return func(l *LAPIC) {
		l.x2apic = enabled
	}
}
