package lapic

import "sync"

// DeliveryMode identifies the ICR delivery-mode field (bits 8:11).
type DeliveryMode uint8

const (
	DeliveryFixed          DeliveryMode = 0b000
	DeliveryLowestPriority DeliveryMode = 0b001
	DeliverySMI            DeliveryMode = 0b010
	DeliveryNMI            DeliveryMode = 0b100
	DeliveryINIT           DeliveryMode = 0b101
	DeliveryStartup        DeliveryMode = 0b110
)

// destShorthand identifies the ICR destination-shorthand field (bits 18:19).
type destShorthand uint8

const (
	shorthandNone destShorthand = iota
	shorthandSelf
	shorthandAllIncludingSelf
	shorthandAllExcludingSelf
)

// EOIBroadcaster receives a level-triggered EOI broadcast forwarded to the
// I/O APIC when a serviced vector's TMR bit is set. A nil broadcaster, or the
// default no-op one, silently drops the broadcast.
type EOIBroadcaster interface {
	BroadcastEOI(vector uint8)
}

// EOIBroadcasterFunc adapts a function to EOIBroadcaster.
type EOIBroadcasterFunc func(vector uint8)

func (f EOIBroadcasterFunc) BroadcastEOI(vector uint8) {
	if f != nil {
		f(vector)
	}
}

type noopEOIBroadcaster struct{}

func (noopEOIBroadcaster) BroadcastEOI(uint8) {}

// LAPICBus fans interprocessor interrupts out to the sibling LAPICs of a VM.
// It is the concrete implementation of the "active vCPUs" / "inject_interrupt"
// collaborators: every LAPIC on a VM registers itself with the bus at
// construction time, and ICR writes resolve their targets through
// destinationSet and then call deliver on each selected LAPIC.
type LAPICBus struct {
	mu      sync.Mutex
	members []*LAPIC
}

// NewLAPICBus returns an empty bus. LAPICs attach themselves via Attach.
func NewLAPICBus() *LAPICBus {
	return &LAPICBus{}
}

// Attach registers a LAPIC with the bus so it becomes a valid IPI destination.
func (b *LAPICBus) Attach(l *LAPIC) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, l)
}

// ActiveAPICIDs returns the APIC IDs of every attached LAPIC.
func (b *LAPICBus) ActiveAPICIDs() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint32, len(b.members))
	for i, m := range b.members {
		ids[i] = m.apicID
	}
	return ids
}

// destinationSet computes the set of member LAPICs selected by an ICR write,
// per SDM Section 10.6.2 destination matching.
func (b *LAPICBus) destinationSet(issuer *LAPIC, shorthand destShorthand, destMode uint8, dest uint32, broadcastID uint32) []*LAPIC {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch shorthand {
	case shorthandSelf:
		return []*LAPIC{issuer}
	case shorthandAllIncludingSelf:
		return append([]*LAPIC(nil), b.members...)
	case shorthandAllExcludingSelf:
		out := make([]*LAPIC, 0, len(b.members))
		for _, m := range b.members {
			if m != issuer {
				out = append(out, m)
			}
		}
		return out
	}

	if dest == broadcastID {
		return append([]*LAPIC(nil), b.members...)
	}

	out := make([]*LAPIC, 0, len(b.members))
	for _, m := range b.members {
		if destMode == 0 {
			// Physical destination mode: match APIC ID exactly.
			if m.apicID == dest {
				out = append(out, m)
			}
			continue
		}
		if m.matchesLogicalDestination(dest) {
			out = append(out, m)
		}
	}
	return out
}

// DeliverExternal injects an interrupt from a line-based external source
// (the I/O APIC, or any other platform interrupt controller) directly into
// this LAPIC, bypassing the ICR/IPI destination-matching path in engine.go
// since the source has already resolved its own single destination.
func (l *LAPIC) DeliverExternal(vector uint8, mode DeliveryMode, level bool) {
	l.deliver(vector, mode, level)
}

// deliver dispatches a vector to a single LAPIC according to delivery mode.
// The ICR and SELF_IPI paths in engine.go reject Fixed interrupts with an
// illegal vector (< 16) before reaching here; DeliverExternal and timer expiry
// pass their vector through unchecked. This function does not check it.
func (l *LAPIC) deliver(vector uint8, mode DeliveryMode, level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch mode {
	case DeliveryFixed:
		l.page.setISRBit(vector)
		l.page.setTMRBit(vector, level)
		l.recomputeISRVLocked()
		if l.onInject != nil {
			l.onInject(vector)
		}
		l.logger.Debug("lapic: inject fixed", "apic_id", l.apicID, "vector", vector)
	case DeliveryNMI:
		l.logger.Debug("lapic: inject nmi", "apic_id", l.apicID)
		if l.onNMI != nil {
			l.onNMI()
		}
	case DeliveryINIT:
		l.logger.Debug("lapic: inject init", "apic_id", l.apicID)
		if l.onInit != nil {
			l.onInit()
		}
	case DeliveryStartup:
		l.logger.Debug("lapic: inject startup", "apic_id", l.apicID, "vector", vector)
		if l.onStartup != nil {
			l.onStartup(vector)
		}
	case DeliverySMI:
		l.logger.Warn("lapic: dropping SMI delivery, unsupported", "apic_id", l.apicID)
	default:
		l.logger.Warn("lapic: dropping unknown delivery mode", "apic_id", l.apicID, "mode", mode)
	}
}
