package lapic

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/vlapic/internal/chipset"
	"github.com/tinyrange/vlapic/internal/hv"
)

// MMIOBase is the architectural default base address of the xAPIC MMIO
// window. Relocating it via IA32_APIC_BASE is out of scope for this core.
const MMIOBase = xapicMMIOBase

// MMIORegions implements hv.MemoryMappedIODevice.
func (l *LAPIC) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: MMIOBase, Size: xapicMMIOSize}}
}

// ReadMMIO implements hv.MemoryMappedIODevice.
func (l *LAPIC) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("lapic: %w: xAPIC MMIO access must be 4 bytes, got %d", ErrInvalidInput, len(data))
	}
	reg, err := decodeMMIO(addr)
	if err != nil {
		return err
	}
	value, err := l.Read(reg)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(data, value)
	return nil
}

// WriteMMIO implements hv.MemoryMappedIODevice.
func (l *LAPIC) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("lapic: %w: xAPIC MMIO access must be 4 bytes, got %d", ErrInvalidInput, len(data))
	}
	reg, err := decodeMMIO(addr)
	if err != nil {
		return err
	}
	return l.Write(reg, binary.LittleEndian.Uint32(data))
}

// MSRs implements hv.X86MSRDevice.
func (l *LAPIC) MSRs() []uint32 {
	msrs := make([]uint32, 0, x2apicMSRCount)
	for i := 0; i < x2apicMSRCount; i++ {
		msrs = append(msrs, x2apicMSRBase+uint32(i))
	}
	return msrs
}

// ReadMSR implements hv.X86MSRDevice.
func (l *LAPIC) ReadMSR(ctx hv.ExitContext, msr uint32, data []byte) error {
	if len(data) != 4 && len(data) != 8 {
		return fmt.Errorf("lapic: %w: x2APIC MSR access must be 4 or 8 bytes, got %d", ErrInvalidInput, len(data))
	}
	reg, err := decodeMSR(msr)
	if err != nil {
		return err
	}
	if len(data) == 8 && reg.kind != regICRLow {
		return fmt.Errorf("lapic: %w: 8-byte MSR access only valid on ICR", ErrInvalidInput)
	}
	if len(data) == 8 {
		l.mu.Lock()
		lo := uint64(l.page.icrLo())
		hi := uint64(l.page.icrHi())
		l.mu.Unlock()
		binary.LittleEndian.PutUint64(data, lo|(hi<<32))
		return nil
	}
	value, err := l.Read(reg)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(data, value)
	return nil
}

// WriteMSR implements hv.X86MSRDevice.
func (l *LAPIC) WriteMSR(ctx hv.ExitContext, msr uint32, data []byte) error {
	if len(data) != 4 && len(data) != 8 {
		return fmt.Errorf("lapic: %w: x2APIC MSR access must be 4 or 8 bytes, got %d", ErrInvalidInput, len(data))
	}
	reg, err := decodeMSR(msr)
	if err != nil {
		return err
	}
	if len(data) == 8 {
		if reg.kind != regICRLow {
			return fmt.Errorf("lapic: %w: 8-byte MSR access only valid on ICR", ErrInvalidInput)
		}
		l.writeICR64(binary.LittleEndian.Uint64(data))
		return nil
	}
	return l.Write(reg, binary.LittleEndian.Uint32(data))
}

// Init implements hv.Device.
func (l *LAPIC) Init(vm hv.VirtualMachine) error {
	return nil
}

// Start implements chipset.ChangeDeviceState.
func (l *LAPIC) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState.
func (l *LAPIC) Stop() error {
	l.stopTimer()
	return nil
}

// Reset restores architectural reset values.
func (l *LAPIC) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopTimerLockHeld()

	l.page = page{}
	l.page.setID(l.apicID << 24)
	l.page.setVersion(defaultVersion)
	l.page.setSVR(resetSVR)
	l.lvt = newLVTShadow()
	l.isrv = 0
	l.esrPending = 0
	l.timer = timerState{}
	return nil
}

func (l *LAPIC) stopTimerLockHeld() {
	l.timer.stopLocked()
}

// SupportsPortIO implements chipset.ChipsetDevice; the LAPIC has no legacy
// I/O port surface.
func (l *LAPIC) SupportsPortIO() *chipset.PortIOIntercept { return nil }

// SupportsMmio implements chipset.ChipsetDevice.
func (l *LAPIC) SupportsMmio() *chipset.MmioIntercept {
	if l.x2apic {
		return nil
	}
	return &chipset.MmioIntercept{
		Regions: l.MMIORegions(),
		Handler: l,
	}
}

// SupportsMsr implements chipset.ChipsetDevice.
func (l *LAPIC) SupportsMsr() *chipset.MsrIntercept {
	if !l.x2apic {
		return nil
	}
	return &chipset.MsrIntercept{
		Registers: l.MSRs(),
		Handler:   l,
	}
}

// SupportsPollDevice implements chipset.ChipsetDevice; the timer is driven by
// the injected timerFactory, not by polling.
func (l *LAPIC) SupportsPollDevice() *chipset.PollDevice { return nil }

var (
	_ hv.MemoryMappedIODevice = (*LAPIC)(nil)
	_ hv.X86MSRDevice         = (*LAPIC)(nil)
	_ chipset.ChipsetDevice   = (*LAPIC)(nil)
)
