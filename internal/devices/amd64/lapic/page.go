package lapic

import "encoding/binary"

// pageSize is the size of the virtual-APIC page, fixed by the architecture.
const pageSize = 4096

// Fixed word offsets within the virtual-APIC page. See Intel SDM Vol. 3
// Section 30.1.1; offsets match the xAPIC MMIO layout.
const (
	offsetID         = 0x020
	offsetVersion    = 0x030
	offsetTPR        = 0x080
	offsetAPR        = 0x090
	offsetPPR        = 0x0A0
	offsetEOI        = 0x0B0
	offsetRRD        = 0x0C0
	offsetLDR        = 0x0D0
	offsetDFR        = 0x0E0
	offsetSVR        = 0x0F0
	offsetISR        = 0x100
	offsetTMR        = 0x180
	offsetIRR        = 0x200
	offsetESR        = 0x280
	offsetLvtCMCI    = 0x2F0
	offsetICRLo      = 0x300
	offsetICRHi      = 0x310
	offsetLvtTimer   = 0x320
	offsetLvtThermal = 0x330
	offsetLvtPmc     = 0x340
	offsetLvtLint0   = 0x350
	offsetLvtLint1   = 0x360
	offsetLvtError   = 0x370
	offsetICRTimer   = 0x380
	offsetCCRTimer   = 0x390
	offsetDCRTimer   = 0x3E0
	offsetSelfIPI    = 0x3F0

	bankStride = 0x10
	bankCount  = 8
)

// page is the 4 KiB virtual-APIC register image. Only the documented offsets
// are ever touched; every other byte stays zero for the life of the vLAPIC.
type page struct {
	buf [pageSize]byte
}

func (p *page) get32(offset int) uint32 {
	return binary.LittleEndian.Uint32(p.buf[offset : offset+4])
}

func (p *page) set32(offset int, value uint32) {
	binary.LittleEndian.PutUint32(p.buf[offset:offset+4], value)
}

func (p *page) getBank(base int, index int) uint32 {
	return p.get32(base + index*bankStride)
}

func (p *page) setBank(base int, index int, value uint32) {
	p.set32(base+index*bankStride, value)
}

func (p *page) id() uint32                 { return p.get32(offsetID) }
func (p *page) setID(v uint32)             { p.set32(offsetID, v) }
func (p *page) version() uint32            { return p.get32(offsetVersion) }
func (p *page) setVersion(v uint32)        { p.set32(offsetVersion, v) }
func (p *page) tpr() uint32                { return p.get32(offsetTPR) }
func (p *page) setTPR(v uint32)            { p.set32(offsetTPR, v) }
func (p *page) apr() uint32                { return p.get32(offsetAPR) }
func (p *page) setAPR(v uint32)            { p.set32(offsetAPR, v) }
func (p *page) ppr() uint32                { return p.get32(offsetPPR) }
func (p *page) setPPR(v uint32)            { p.set32(offsetPPR, v) }
func (p *page) eoi() uint32                { return p.get32(offsetEOI) }
func (p *page) setEOI(v uint32)            { p.set32(offsetEOI, v) }
func (p *page) rrd() uint32                { return p.get32(offsetRRD) }
func (p *page) ldr() uint32                { return p.get32(offsetLDR) }
func (p *page) setLDR(v uint32)            { p.set32(offsetLDR, v) }
func (p *page) dfr() uint32                { return p.get32(offsetDFR) }
func (p *page) setDFR(v uint32)            { p.set32(offsetDFR, v) }
func (p *page) svr() uint32                { return p.get32(offsetSVR) }
func (p *page) setSVR(v uint32)            { p.set32(offsetSVR, v) }
func (p *page) esr() uint32                { return p.get32(offsetESR) }
func (p *page) setESR(v uint32)            { p.set32(offsetESR, v) }
func (p *page) icrLo() uint32              { return p.get32(offsetICRLo) }
func (p *page) setICRLo(v uint32)          { p.set32(offsetICRLo, v) }
func (p *page) icrHi() uint32              { return p.get32(offsetICRHi) }
func (p *page) setICRHi(v uint32)          { p.set32(offsetICRHi, v) }
func (p *page) icrTimer() uint32           { return p.get32(offsetICRTimer) }
func (p *page) setICRTimer(v uint32)       { p.set32(offsetICRTimer, v) }
func (p *page) ccrTimer() uint32           { return p.get32(offsetCCRTimer) }
func (p *page) setCCRTimer(v uint32)       { p.set32(offsetCCRTimer, v) }
func (p *page) dcrTimer() uint32           { return p.get32(offsetDCRTimer) }
func (p *page) setDCRTimer(v uint32)       { p.set32(offsetDCRTimer, v) }
func (p *page) selfIPI() uint32            { return p.get32(offsetSelfIPI) }
func (p *page) setSelfIPI(v uint32)        { p.set32(offsetSelfIPI, v) }

func (p *page) isr(i int) uint32        { return p.getBank(offsetISR, i) }
func (p *page) setISR(i int, v uint32)  { p.setBank(offsetISR, i, v) }
func (p *page) tmr(i int) uint32        { return p.getBank(offsetTMR, i) }
func (p *page) setTMR(i int, v uint32)  { p.setBank(offsetTMR, i, v) }
func (p *page) irr(i int) uint32        { return p.getBank(offsetIRR, i) }
func (p *page) setIRR(i int, v uint32)  { p.setBank(offsetIRR, i, v) }

// setISRBit sets bit `vector` of the ISR bank array (bank = vector/32).
func (p *page) setISRBit(vector uint8) {
	bank := int(vector) / 32
	bit := uint32(vector) % 32
	p.setISR(bank, p.isr(bank)|(1<<bit))
}

// clearISRBit clears bit `vector` of the ISR bank array.
func (p *page) clearISRBit(vector uint8) {
	bank := int(vector) / 32
	bit := uint32(vector) % 32
	p.setISR(bank, p.isr(bank)&^(1<<bit))
}

// setIRRBit sets bit `vector` of the IRR bank array.
func (p *page) setIRRBit(vector uint8) {
	bank := int(vector) / 32
	bit := uint32(vector) % 32
	p.setIRR(bank, p.irr(bank)|(1<<bit))
}

// setTMRBit sets or clears bit `vector` of the TMR bank array.
func (p *page) setTMRBit(vector uint8, level bool) {
	bank := int(vector) / 32
	bit := uint32(vector) % 32
	if level {
		p.setTMR(bank, p.tmr(bank)|(1<<bit))
	} else {
		p.setTMR(bank, p.tmr(bank)&^(1<<bit))
	}
}

// tmrBit reports whether bit `vector` is set in the TMR bank array.
func (p *page) tmrBit(vector uint8) bool {
	bank := int(vector) / 32
	bit := uint32(vector) % 32
	return p.tmr(bank)&(1<<bit) != 0
}

// highestISRBit scans ISR banks 7 down to 0 for the highest set bit,
// returning 0 if none are set (bits below vector 16 are never set, per the
// illegal-vector policy, so scanning all the way to bank 0 is harmless).
func (p *page) highestISRBit() uint8 {
	for bank := bankCount - 1; bank >= 0; bank-- {
		word := p.isr(bank)
		if word == 0 {
			continue
		}
		return uint8(bank*32 + highestSetBit(word))
	}
	return 0
}

// highestSetBit returns the index (0..31) of the highest set bit in v.
// Callers must ensure v != 0.
func highestSetBit(v uint32) int {
	bit := 0
	for v != 0 {
		v >>= 1
		if v != 0 {
			bit++
		}
	}
	return bit
}
