// Command lapicdemo loads a declarative multi-vCPU APIC topology from YAML
// and runs a scripted sequence of ICR writes against it, reporting which
// vCPUs received which vectors. It programs each LAPIC's registers through its
// guest-facing MMIO/MSR surface, the same way a VM-exit handler would, and
// feeds IO-APIC interrupts in through DeliverExternal, to exercise
// internal/devices/amd64/lapic end to end without a full hypervisor host.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	amd64chipset "github.com/tinyrange/vlapic/internal/devices/amd64/chipset"
	"github.com/tinyrange/vlapic/internal/devices/amd64/lapic"
)

// xAPIC MMIO offsets used by this demo, mirroring the SDM's `(addr&0xFFF)>>4`
// layout that internal/devices/amd64/lapic/decode.go decodes.
const (
	offsetLDR     = 0x0D0
	offsetDFR     = 0x0E0
	offsetICRLow  = 0x300
	offsetICRHigh = 0x310
)

// x2APIC MSR indices for the same registers.
const (
	msrLDR = 0x80D
	msrDFR = 0x80E
	msrICR = 0x830
)

// Topology describes a set of vCPUs sharing one interrupt domain.
type Topology struct {
	VCPUs []VCPUConfig `yaml:"vcpus"`
	Steps []Step       `yaml:"steps"`
	IRQs  []IRQ        `yaml:"irqs,omitempty"`
}

// VCPUConfig describes one virtual APIC's initial configuration.
type VCPUConfig struct {
	APICID uint32 `yaml:"apicId"`
	X2APIC bool   `yaml:"x2apic,omitempty"`
	LDR    uint32 `yaml:"ldr,omitempty"`
	DFR    uint32 `yaml:"dfr,omitempty"`
}

// Step describes one ICR write issued from a named vCPU.
type Step struct {
	From      uint32 `yaml:"from"`
	Vector    uint8  `yaml:"vector"`
	Dest      uint32 `yaml:"dest,omitempty"`
	DestMode  uint8  `yaml:"destMode,omitempty"` // 0 physical, 1 logical
	Shorthand uint8  `yaml:"shorthand,omitempty"`
}

// IRQ describes one level-triggered external interrupt line fed into the
// shared IO-APIC, redirected to a target vCPU's LAPIC.
type IRQ struct {
	Line   uint32 `yaml:"line"`
	Vector uint8  `yaml:"vector"`
	Dest   uint32 `yaml:"dest"`
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	filename := fs.String("topology", "", "YAML topology file to load")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*filename); err != nil {
		fmt.Fprintf(os.Stderr, "lapicdemo: %v\n", err)
		os.Exit(1)
	}
}

func run(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open topology: %w", err)
	}
	defer f.Close()

	var topo Topology
	if err := yaml.NewDecoder(f).Decode(&topo); err != nil {
		return fmt.Errorf("decode topology: %w", err)
	}

	bus := lapic.NewLAPICBus()
	byID := make(map[uint32]*lapic.LAPIC, len(topo.VCPUs))
	received := make(map[uint32][]uint8, len(topo.VCPUs))

	numLines := 1
	for _, irq := range topo.IRQs {
		if n := int(irq.Line) + 1; n > numLines {
			numLines = n
		}
	}
	ioapic := amd64chipset.NewIOAPIC(numLines)
	ioapic.SetRouting(amd64chipset.IoApicRoutingFunc(func(vector, dest, destMode, deliveryMode uint8, level bool) {
		target, ok := byID[uint32(dest)]
		if !ok {
			return
		}
		target.DeliverExternal(vector, lapic.DeliveryMode(deliveryMode), level)
	}))

	for _, vc := range topo.VCPUs {
		apicID := vc.APICID
		l := lapic.NewLAPIC(apicID,
			lapic.WithLAPICBus(bus),
			lapic.WithLAPICX2APICMode(vc.X2APIC),
			lapic.WithLAPICInjectFunc(func(v uint8) {
				received[apicID] = append(received[apicID], v)
			}),
			lapic.WithLAPICEOIBroadcaster(lapic.EOIBroadcasterFunc(func(v uint8) {
				ioapic.HandleEOI(uint32(v))
			})),
		)
		byID[apicID] = l

		if vc.DFR != 0 {
			if err := writeReg32(l, vc.X2APIC, offsetDFR, msrDFR, vc.DFR); err != nil {
				return fmt.Errorf("vcpu %d: write dfr: %w", apicID, err)
			}
		}
		if vc.LDR != 0 {
			if err := writeReg32(l, vc.X2APIC, offsetLDR, msrLDR, vc.LDR); err != nil {
				return fmt.Errorf("vcpu %d: write ldr: %w", apicID, err)
			}
		}
	}

	for i, step := range topo.Steps {
		issuer, ok := byID[step.From]
		if !ok {
			return fmt.Errorf("step %d: unknown issuer vcpu %d", i, step.From)
		}

		lo := uint32(step.Vector) | uint32(step.DestMode)<<11 | uint32(step.Shorthand)<<18

		if issuer.SupportsMsr() != nil {
			var data [8]byte
			binary.LittleEndian.PutUint64(data[:], uint64(lo)|uint64(step.Dest)<<32)
			if err := issuer.WriteMSR(nil, msrICR, data[:]); err != nil {
				return fmt.Errorf("step %d: write icr msr: %w", i, err)
			}
		} else {
			var hi [4]byte
			binary.LittleEndian.PutUint32(hi[:], step.Dest<<24)
			if err := issuer.WriteMMIO(nil, lapic.MMIOBase+offsetICRHigh, hi[:]); err != nil {
				return fmt.Errorf("step %d: write icr hi: %w", i, err)
			}
			var low [4]byte
			binary.LittleEndian.PutUint32(low[:], lo)
			if err := issuer.WriteMMIO(nil, lapic.MMIOBase+offsetICRLow, low[:]); err != nil {
				return fmt.Errorf("step %d: write icr lo: %w", i, err)
			}
		}
	}

	for i, irq := range topo.IRQs {
		if err := programRedirection(ioapic, irq.Line, irq.Vector, irq.Dest); err != nil {
			return fmt.Errorf("irq %d: program redirection: %w", i, err)
		}
		ioapic.SetIRQ(irq.Line, true)
	}

	for _, vc := range topo.VCPUs {
		fmt.Printf("vcpu %d received: %v\n", vc.APICID, received[vc.APICID])
	}
	return nil
}

// ioapic redirection-table register indices, relative to IOAPICBaseAddress's
// register-select/data window (see internal/devices/amd64/chipset/ioapic.go).
const ioapicRedirectionTableBase = 0x10

// programRedirection configures one IO-APIC redirection-table entry for
// level-triggered, physical-destination, fixed delivery: unmasked, carrying
// the given vector and physical APIC ID destination.
func programRedirection(io *amd64chipset.IOAPIC, line uint32, vector uint8, dest uint32) error {
	lowIndex := byte(ioapicRedirectionTableBase + line*2)
	highIndex := lowIndex + 1

	const triggerLevelBit = 1 << 15
	low := uint32(vector) | triggerLevelBit

	if err := io.WriteMMIO(amd64chipset.IOAPICBaseAddress, []byte{lowIndex}); err != nil {
		return err
	}
	var lowData [4]byte
	binary.LittleEndian.PutUint32(lowData[:], low)
	if err := io.WriteMMIO(amd64chipset.IOAPICBaseAddress+0x10, lowData[:]); err != nil {
		return err
	}

	if err := io.WriteMMIO(amd64chipset.IOAPICBaseAddress, []byte{highIndex}); err != nil {
		return err
	}
	var highData [4]byte
	binary.LittleEndian.PutUint32(highData[:], dest<<24)
	return io.WriteMMIO(amd64chipset.IOAPICBaseAddress+0x10, highData[:])
}

// writeReg32 issues a single 4-byte register write via whichever guest
// surface the target vCPU is configured for.
func writeReg32(l *lapic.LAPIC, x2apic bool, mmioOffset uint64, msr uint32, value uint32) error {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], value)
	if x2apic {
		return l.WriteMSR(nil, msr, data[:])
	}
	return l.WriteMMIO(nil, lapic.MMIOBase+mmioOffset, data[:])
}
