package memory

import "fmt"

// TraceEventKind identifies the variant carried by a TraceEvent.
type TraceEventKind int

const (
	// TraceInstructionStart marks the start of a retired instruction.
	// Only the executor emits this variant; the monitor never does.
	TraceInstructionStart TraceEventKind = iota
	// TraceRegisterSet marks that a register has been written.
	TraceRegisterSet
	// TraceMemorySet marks that a memory word has been written.
	TraceMemorySet
)

// TraceEvent is an event traced from the running VM: either an
// instruction boundary (stamped by the executor) or a register/memory
// write (stamped by the MemoryMonitor). Realized as a tagged struct
// since Go has no sum types.
type TraceEvent struct {
	Kind  TraceEventKind
	Cycle uint32 // valid for TraceInstructionStart
	PC    uint32 // valid for TraceInstructionStart
	Reg   int    // valid for TraceRegisterSet
	Addr  uint32 // valid for TraceMemorySet
	Value uint32 // valid for TraceRegisterSet, TraceMemorySet
}

// NewInstructionStartEvent builds a TraceInstructionStart event.
func NewInstructionStartEvent(cycle, pc uint32) TraceEvent {
	return TraceEvent{Kind: TraceInstructionStart, Cycle: cycle, PC: pc}
}

func newRegisterSetEvent(reg int, value uint32) TraceEvent {
	return TraceEvent{Kind: TraceRegisterSet, Reg: reg, Value: value}
}

func newMemorySetEvent(addr, value uint32) TraceEvent {
	return TraceEvent{Kind: TraceMemorySet, Addr: addr, Value: value}
}

// String renders the event in a compact single-line form.
func (e TraceEvent) String() string {
	switch e.Kind {
	case TraceInstructionStart:
		return fmt.Sprintf("InstructionStart(%d, 0x%08X)", e.Cycle, e.PC)
	case TraceRegisterSet:
		return fmt.Sprintf("RegisterSet(%d, 0x%08X)", e.Reg, e.Value)
	case TraceMemorySet:
		return fmt.Sprintf("MemorySet(0x%08X, 0x%08X)", e.Addr, e.Value)
	default:
		return fmt.Sprintf("TraceEvent(unknown kind %d)", e.Kind)
	}
}

// Fault records a page load or store that must be proven: the page's
// base address, whether it was a write, and the cycle of first access
// within the segment.
type Fault struct {
	Addr  uint32
	Write bool
	Cycle uint64
}
