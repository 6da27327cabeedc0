package lapic

import "time"

// timerHandle tracks a cancellable one-shot callback. Reused in shape from
// the chipset PIT/CMOS timer abstraction.
type timerHandle interface {
	Stop()
}

type timerHandleFunc func()

func (f timerHandleFunc) Stop() {
	if f != nil {
		f()
	}
}

// timerFactory arms a one-shot callback after the given delay and returns a
// handle that cancels it if it has not yet fired.
type timerFactory func(delay time.Duration, cb func()) timerHandle

// defaultTimerFactory is the production timer factory, built on time.AfterFunc.
// Unlike the chipset PIT's ticker-based factory, the APIC timer arms a single
// deadline at a time and re-arms itself on expiry for periodic mode, so a
// one-shot primitive is the right fit here.
func defaultTimerFactory(delay time.Duration, cb func()) timerHandle {
	if cb == nil {
		return nil
	}
	if delay <= 0 {
		delay = 0
	}
	t := time.AfterFunc(delay, cb)
	return timerHandleFunc(func() { t.Stop() })
}

// divideShiftTable maps the 4-bit DCR_TIMER encoding to a shift amount.
// Encodings not present in this table are masked out by dcrWritableMask
// before lookup (0100-0111 and 1100-1111 are reserved and never occur).
var divideShiftTable = map[uint32]uint8{
	0b0000: 1,
	0b0001: 2,
	0b0010: 3,
	0b0011: 4,
	0b1000: 5,
	0b1001: 6,
	0b1010: 7,
	0b1011: 0,
}

// dcrWritableMask is the set of bits a guest write to DCR_TIMER may change.
const dcrWritableMask = 0b1011

// timerMode identifies the LVT_TIMER timer-mode field (bits 17:18).
type timerMode uint32

const (
	timerModeOneShot    timerMode = 0b00
	timerModePeriodic   timerMode = 0b01
	timerModeTSCDeadline timerMode = 0b10
)

func decodeTimerMode(lvtTimerValue uint32) timerMode {
	return timerMode((lvtTimerValue >> 17) & 0b11)
}

// timerState tracks the virtual APIC timer's armed/disarmed lifecycle. All
// fields are guarded by the owning LAPIC's mu, since the timer callback fires
// from the timer service's own goroutine.
type timerState struct {
	divideConfig uint32
	divideShift  uint8

	initialCount uint32
	deadline     time.Time
	armedAt      time.Time

	cancel timerHandle
}

func (t *timerState) isStarted() bool {
	return t.initialCount > 0 && t.cancel != nil
}

func (t *timerState) stopLocked() {
	if t.cancel != nil {
		t.cancel.Stop()
		t.cancel = nil
	}
}

// remainingTicks computes the current count register value: the number of
// ticks left before expiry, saturating at 0, shifted by divideShift.
func (t *timerState) remainingTicks(now time.Time) uint32 {
	if !t.isStarted() {
		return 0
	}
	remaining := t.deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	ticks := uint64(remaining) >> t.divideShift
	if ticks > 0xFFFFFFFF {
		ticks = 0xFFFFFFFF
	}
	return uint32(ticks)
}
