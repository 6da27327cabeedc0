package lapic

import (
	"log/slog"
	"sync"
	"time"
)

// defaultVersion is the value reported by the virtual-APIC page's VERSION
// register: integrated APIC, max LVT entry count 6 (7 entries, zero-based).
const defaultVersion = 0x00060010

// LAPIC is the register engine and state machine for one vCPU's local APIC.
// Guest accesses to its xAPIC MMIO window or x2APIC MSR window are decoded by
// decode.go and dispatched by the read/write methods below; engine.go and
// timerarm.go implement the side effects (IPI dispatch, EOI, timer lifecycle).
//
// A LAPIC is single-vCPU-affine: the register read/write path is documented
// as accessed only from that vCPU's VM-exit handler and is not internally
// synchronized against itself. The mutex below exists solely to protect the
// small amount of state the timer callback touches from its own goroutine.
type LAPIC struct {
	mu sync.Mutex

	apicID uint32
	x2apic bool

	page page
	lvt  lvtShadow

	isrv       uint8
	esrPending uint32

	timer timerState

	bus            *LAPICBus
	eoiBroadcaster EOIBroadcaster

	onInject  func(vector uint8)
	onNMI     func()
	onInit    func()
	onStartup func(vector uint8)

	logger       *slog.Logger
	clock        func() time.Time
	timerFactory timerFactory
}

// NewLAPIC constructs a LAPIC with architectural reset values.
func NewLAPIC(apicID uint32, opts ...LAPICOption) *LAPIC {
	l := &LAPIC{
		apicID:         apicID,
		lvt:            newLVTShadow(),
		eoiBroadcaster: noopEOIBroadcaster{},
		logger:         slog.Default(),
		clock:          time.Now,
		timerFactory:   defaultTimerFactory,
	}
	l.page.setID(apicID << 24)
	l.page.setVersion(defaultVersion)
	l.page.setSVR(resetSVR)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// APICID returns the APIC ID this instance was constructed with.
func (l *LAPIC) APICID() uint32 {
	return l.apicID
}

// SetX2APICMode switches the decode path between xAPIC MMIO and x2APIC MSR
// addressing. The IA32_APIC_BASE write path that would normally trigger this
// transition is out of scope for this core (see Non-goals); callers drive
// the mode directly.
func (l *LAPIC) SetX2APICMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.x2apic = enabled
}

// PageBytes returns the raw 4 KiB virtual-APIC page backing this instance.
// In a real VMX host this frame's physical address would be programmed into
// the VMCS virtual-APIC-address field; this host-process emulation has no
// physical-frame allocator in scope (see Non-goals), so the Go-owned buffer
// itself is the exported handle.
func (l *LAPIC) PageBytes() []byte {
	return l.page.buf[:]
}

var apicAccessPage [pageSize]byte

// VirtualAPICAccessAddr returns the process-wide zero page used for
// "virtualize APIC accesses", shared read-only across every LAPIC instance.
func VirtualAPICAccessAddr() []byte {
	return apicAccessPage[:]
}
