package lapic

import (
	"encoding/gob"
	"fmt"
	"time"

	"github.com/tinyrange/vlapic/internal/hv"
)

func init() {
	gob.Register(&lapicSnapshot{})
}

// lapicSnapshot captures everything needed to reconstruct a LAPIC's
// architectural state, including the in-flight timer deadline relative to
// the capture instant rather than an absolute clock reading.
type lapicSnapshot struct {
	APICID uint32
	X2APIC bool

	Page [pageSize]byte
	LVT  [lvtEntryCount]uint32

	ISRV       uint8
	ESRPending uint32

	TimerDivideConfig uint32
	TimerDivideShift  uint8
	TimerInitialCount uint32
	TimerArmed        bool
	TimerRemaining    time.Duration
}

// DeviceId implements hv.DeviceSnapshotter.
func (l *LAPIC) DeviceId() string {
	return fmt.Sprintf("lapic.%d", l.apicID)
}

// CaptureSnapshot implements hv.DeviceSnapshotter.
func (l *LAPIC) CaptureSnapshot() (hv.DeviceSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := &lapicSnapshot{
		APICID:            l.apicID,
		X2APIC:            l.x2apic,
		Page:              l.page.buf,
		ISRV:              l.isrv,
		ESRPending:        l.esrPending,
		TimerDivideConfig: l.timer.divideConfig,
		TimerDivideShift:  l.timer.divideShift,
		TimerInitialCount: l.timer.initialCount,
		TimerArmed:        l.timer.isStarted(),
	}
	for e := lvtEntry(0); e < lvtEntryCount; e++ {
		snap.LVT[e] = l.lvt.get(e)
	}
	if snap.TimerArmed {
		snap.TimerRemaining = l.timer.deadline.Sub(l.clock())
		if snap.TimerRemaining < 0 {
			snap.TimerRemaining = 0
		}
	}
	return snap, nil
}

// RestoreSnapshot implements hv.DeviceSnapshotter. The caller must re-attach
// the LAPIC to its bus afterwards if WithLAPICBus was not already applied;
// the bus pointer itself is not part of snapshot state.
func (l *LAPIC) RestoreSnapshot(snap hv.DeviceSnapshot) error {
	data, ok := snap.(*lapicSnapshot)
	if !ok {
		return fmt.Errorf("lapic: %w: invalid snapshot type %T", ErrInvalidData, snap)
	}
	if data.APICID != l.apicID {
		return fmt.Errorf("lapic: %w: snapshot APIC ID %d does not match %d", ErrInvalidData, data.APICID, l.apicID)
	}

	l.stopTimer()

	l.mu.Lock()
	l.x2apic = data.X2APIC
	l.page.buf = data.Page
	for e := lvtEntry(0); e < lvtEntryCount; e++ {
		l.lvt.entries[e] = data.LVT[e]
	}
	l.isrv = data.ISRV
	l.esrPending = data.ESRPending
	l.timer = timerState{
		divideConfig: data.TimerDivideConfig,
		divideShift:  data.TimerDivideShift,
		initialCount: data.TimerInitialCount,
	}
	armed := data.TimerArmed
	remaining := data.TimerRemaining
	l.mu.Unlock()

	if armed {
		l.mu.Lock()
		now := l.clock()
		l.timer.armedAt = now
		l.timer.deadline = now.Add(remaining)
		l.mu.Unlock()
		handle := l.timerFactory(remaining, l.onTimerExpiry)
		l.mu.Lock()
		l.timer.cancel = handle
		l.mu.Unlock()
	}
	return nil
}

var _ hv.DeviceSnapshotter = (*LAPIC)(nil)
