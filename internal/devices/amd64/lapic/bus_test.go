package lapic

import "testing"

func TestICRPhysicalDestinationDeliversToSingleTarget(t *testing.T) {
	bus := NewLAPICBus()

	var injectedA, injectedB []uint8
	a := NewLAPIC(1, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injectedA = append(injectedA, v) }))
	b := NewLAPIC(2, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injectedB = append(injectedB, v) }))
	_ = a

	if err := b.Write(regOffset{kind: regICRHi}, 1<<24); err != nil {
		t.Fatalf("write ICRHi on b: %v", err)
	}
	if err := b.Write(regOffset{kind: regICRLow}, 0x30); err != nil {
		t.Fatalf("write ICRLow on b: %v", err)
	}

	if len(injectedA) != 1 || injectedA[0] != 0x30 {
		t.Fatalf("expected vector 0x30 delivered to apic 1, got %v", injectedA)
	}
	if len(injectedB) != 0 {
		t.Fatalf("expected no self-delivery, got %v", injectedB)
	}
}

func TestICRLogicalFlatBroadcastReachesAllMatchingMembers(t *testing.T) {
	bus := NewLAPICBus()

	var injected1, injected2, injected3 []uint8
	a := NewLAPIC(1, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injected1 = append(injected1, v) }))
	b := NewLAPIC(2, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injected2 = append(injected2, v) }))
	c := NewLAPIC(3, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injected3 = append(injected3, v) }))

	// Flat model (DFR top nibble = 0xF), LDR sets each a distinct bit of the
	// 8-bit logical ID so a two-member bitmask reaches exactly those two.
	for _, pair := range []struct {
		l    *LAPIC
		mask uint32
	}{{a, 0x01}, {b, 0x02}, {c, 0x04}} {
		if err := pair.l.Write(regOffset{kind: regDFR}, 0xFFFFFFFF); err != nil {
			t.Fatalf("write dfr: %v", err)
		}
		if err := pair.l.Write(regOffset{kind: regLDR}, pair.mask<<24); err != nil {
			t.Fatalf("write ldr: %v", err)
		}
	}

	// Issuer is c; logical destination 0x03 should reach a and b, not c.
	if err := c.Write(regOffset{kind: regICRHi}, 0x03<<24); err != nil {
		t.Fatalf("write icr hi: %v", err)
	}
	if err := c.Write(regOffset{kind: regICRLow}, 0x40|(1<<11)); err != nil { // destMode=1 logical
		t.Fatalf("write icr low: %v", err)
	}

	if len(injected1) != 1 || injected1[0] != 0x40 {
		t.Fatalf("expected apic 1 to receive vector 0x40, got %v", injected1)
	}
	if len(injected2) != 1 || injected2[0] != 0x40 {
		t.Fatalf("expected apic 2 to receive vector 0x40, got %v", injected2)
	}
	if len(injected3) != 0 {
		t.Fatalf("expected issuer apic 3 to not self-deliver, got %v", injected3)
	}
}

func TestICRAllExcludingSelfShorthand(t *testing.T) {
	bus := NewLAPICBus()

	var injected1, injected2 []uint8
	a := NewLAPIC(1, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injected1 = append(injected1, v) }))
	b := NewLAPIC(2, WithLAPICBus(bus), WithLAPICInjectFunc(func(v uint8) { injected2 = append(injected2, v) }))
	_ = b

	const shorthandAllExcludingSelfBits = 0b11 << 18
	if err := a.Write(regOffset{kind: regICRLow}, 0x50|shorthandAllExcludingSelfBits); err != nil {
		t.Fatalf("write icr low: %v", err)
	}

	if len(injected1) != 0 {
		t.Fatalf("expected issuer excluded, got %v", injected1)
	}
	if len(injected2) != 1 || injected2[0] != 0x50 {
		t.Fatalf("expected apic 2 to receive vector 0x50, got %v", injected2)
	}
}

func TestX2APICSelfIPI(t *testing.T) {
	bus := NewLAPICBus()

	var injected []uint8
	l := NewLAPIC(1,
		WithLAPICX2APICMode(true),
		WithLAPICBus(bus),
		WithLAPICInjectFunc(func(v uint8) { injected = append(injected, v) }),
	)

	if err := l.Write(regOffset{kind: regSelfIPI}, 0x60); err != nil {
		t.Fatalf("write self-ipi: %v", err)
	}

	if len(injected) != 1 || injected[0] != 0x60 {
		t.Fatalf("expected self-delivered vector 0x60, got %v", injected)
	}
}

func TestDeliverExternalInjectsWithoutAnIssuer(t *testing.T) {
	var injected []uint8
	l := NewLAPIC(1, WithLAPICInjectFunc(func(v uint8) { injected = append(injected, v) }))

	l.DeliverExternal(0x35, DeliveryFixed, true)

	if len(injected) != 1 || injected[0] != 0x35 {
		t.Fatalf("expected external vector 0x35 delivered, got %v", injected)
	}
	if got, _ := l.Read(regOffset{kind: regPPR}); got != 0x30 {
		t.Fatalf("PPR after external deliver = 0x%x, want 0x30", got)
	}
}

func TestSelfIPIRejectedOutsideX2APICMode(t *testing.T) {
	l := NewLAPIC(1)
	if _, err := l.Read(regOffset{kind: regSelfIPI}); err == nil {
		t.Fatalf("expected error reading SELF_IPI in xAPIC mode")
	}
	if err := l.Write(regOffset{kind: regSelfIPI}, 0x10); err == nil {
		t.Fatalf("expected error writing SELF_IPI in xAPIC mode")
	}
}
