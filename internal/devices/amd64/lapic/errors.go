package lapic

import "errors"

// Sentinel error kinds surfaced by the register read/write path, wrapped with
// fmt.Errorf("lapic: %w: ...", ...) so callers can classify with errors.Is.
var (
	// ErrInvalidInput covers width/mode mismatches and unsupported register
	// accesses (e.g. a 64-bit MMIO access, or SelfIPI read in xAPIC mode).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidData covers register contents that should parse as an
	// enumerated field but hold a reserved encoding.
	ErrInvalidData = errors.New("invalid data")

	// ErrBadState classifies state-machine misuse. No path in this package
	// returns it: the register-write path stops a running timer before
	// re-arming it.
	ErrBadState = errors.New("bad state")
)
