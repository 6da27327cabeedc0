package lapic

import "testing"

func TestEOIClearsISRAndRecomputesPPR(t *testing.T) {
	l := NewLAPIC(1)

	l.deliver(0x40, DeliveryFixed, false)
	l.deliver(0x50, DeliveryFixed, false)

	if got, err := l.Read(regOffset{kind: regPPR}); err != nil || got != 0x50 {
		t.Fatalf("PPR after two injects = %v (err %v), want 0x50", got, err)
	}

	if err := l.Write(regOffset{kind: regEOI}, 0); err != nil {
		t.Fatalf("write EOI: %v", err)
	}

	if got, _ := l.Read(regOffset{kind: regPPR}); got != 0x40 {
		t.Fatalf("PPR after one EOI = 0x%x, want 0x40", got)
	}

	if err := l.Write(regOffset{kind: regEOI}, 0); err != nil {
		t.Fatalf("write EOI: %v", err)
	}
	if got, _ := l.Read(regOffset{kind: regPPR}); got != 0 {
		t.Fatalf("PPR after draining ISR = 0x%x, want 0", got)
	}
}

func TestEOIBroadcastsLevelTriggeredVectors(t *testing.T) {
	var broadcasted []uint8
	l := NewLAPIC(1, WithLAPICEOIBroadcaster(EOIBroadcasterFunc(func(v uint8) {
		broadcasted = append(broadcasted, v)
	})))

	l.deliver(0x30, DeliveryFixed, true) // level-triggered
	if err := l.Write(regOffset{kind: regEOI}, 0); err != nil {
		t.Fatalf("write EOI: %v", err)
	}
	if len(broadcasted) != 1 || broadcasted[0] != 0x30 {
		t.Fatalf("expected EOI broadcast for vector 0x30, got %v", broadcasted)
	}
}

func TestEOIBroadcastSuppressedBySVRBit12(t *testing.T) {
	var broadcasted []uint8
	l := NewLAPIC(1, WithLAPICEOIBroadcaster(EOIBroadcasterFunc(func(v uint8) {
		broadcasted = append(broadcasted, v)
	})))

	if err := l.Write(regOffset{kind: regSIVR}, 0x1FF|(1<<12)); err != nil {
		t.Fatalf("write SVR: %v", err)
	}
	l.deliver(0x30, DeliveryFixed, true)
	if err := l.Write(regOffset{kind: regEOI}, 0); err != nil {
		t.Fatalf("write EOI: %v", err)
	}
	if len(broadcasted) != 0 {
		t.Fatalf("expected no broadcast when SVR bit 12 set, got %v", broadcasted)
	}
}

func TestSVRSoftwareDisableMasksAllLVTs(t *testing.T) {
	l := NewLAPIC(1)

	// Reset state is software-disabled (SVR bit 8 = 0); enable first so the
	// unmasked LVT write below is not forced-masked by the default state.
	if err := l.Write(regOffset{kind: regSIVR}, 0x000001FF); err != nil {
		t.Fatalf("write svr enable: %v", err)
	}

	if err := l.Write(regOffset{kind: regLvtTimer}, 0x00000000); err != nil {
		t.Fatalf("write lvt timer: %v", err)
	}
	if got, _ := l.Read(regOffset{kind: regLvtTimer}); got&lvtMaskBit != 0 {
		t.Fatalf("expected timer LVT unmasked, got 0x%x", got)
	}

	if err := l.Write(regOffset{kind: regSIVR}, 0x000000FF); err != nil { // bit 8 = 0, disabled
		t.Fatalf("write svr: %v", err)
	}

	for _, kind := range []regKind{regLvtCMCI, regLvtTimer, regLvtThermal, regLvtPmc, regLvtLint0, regLvtLint1, regLvtErr} {
		if got, _ := l.Read(regOffset{kind: kind}); got&lvtMaskBit == 0 {
			t.Fatalf("expected %v forced masked after SVR software-disable, got 0x%x", regOffset{kind: kind}, got)
		}
	}
}

func TestICRIllegalVectorSetsESRBit(t *testing.T) {
	l := NewLAPIC(1, WithLAPICBus(NewLAPICBus()))

	if err := l.Write(regOffset{kind: regICRHi}, 1<<24); err != nil {
		t.Fatalf("write ICRHi: %v", err)
	}
	if err := l.Write(regOffset{kind: regICRLow}, 0x05); err != nil { // vector 5 < 16: illegal
		t.Fatalf("write ICRLow: %v", err)
	}

	if err := l.Write(regOffset{kind: regESR}, 0); err != nil {
		t.Fatalf("write ESR: %v", err)
	}
	got, err := l.Read(regOffset{kind: regESR})
	if err != nil {
		t.Fatalf("read ESR: %v", err)
	}
	if got&esrSendIllegalVector == 0 {
		t.Fatalf("expected ESR send-illegal-vector bit set, got 0x%x", got)
	}

	// ESR freeze-and-clear: a second write with no new error since the first
	// latches 0.
	if err := l.Write(regOffset{kind: regESR}, 0); err != nil {
		t.Fatalf("write ESR: %v", err)
	}
	got, _ = l.Read(regOffset{kind: regESR})
	if got != 0 {
		t.Fatalf("expected ESR cleared after second write, got 0x%x", got)
	}
}
