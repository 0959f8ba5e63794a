package executor

import (
	"fmt"

	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
)

// ExitKind identifies which variant an ExitCode carries. ExitCode is a
// tagged struct, the same technique pkg/memory/trace.go uses for
// TraceEvent.
type ExitKind int

const (
	// KindSystemSplit: the segment ended because the next instruction
	// wouldn't fit; execution continues in the next segment.
	KindSystemSplit ExitKind = iota
	// KindSessionLimit: total session cycle budget exceeded; fatal.
	KindSessionLimit
	// KindPaused: guest requested pause; resumable.
	KindPaused
	// KindHalted: guest terminated; not resumable.
	KindHalted
	// KindFault: decoding or stepping error; terminal.
	KindFault
)

// ExitCode is the outcome of a step or a run.
type ExitCode struct {
	Kind ExitKind
	Code uint8  // valid for KindPaused, KindHalted
	PC   uint32 // valid for KindFault
}

func SystemSplit() ExitCode        { return ExitCode{Kind: KindSystemSplit} }
func SessionLimitExit() ExitCode   { return ExitCode{Kind: KindSessionLimit} }
func Paused(code uint8) ExitCode   { return ExitCode{Kind: KindPaused, Code: code} }
func Halted(code uint8) ExitCode   { return ExitCode{Kind: KindHalted, Code: code} }
func FaultAt(pc uint32) ExitCode   { return ExitCode{Kind: KindFault, PC: pc} }

// Terminal reports whether this exit code ends the session outright
// (Halted, Fault) as opposed to merely ending a segment (SystemSplit,
// Paused) or the run (SessionLimit, surfaced as an error instead).
func (e ExitCode) Terminal() bool {
	return e.Kind == KindHalted || e.Kind == KindFault
}

func (e ExitCode) String() string {
	switch e.Kind {
	case KindSystemSplit:
		return "SystemSplit"
	case KindSessionLimit:
		return "SessionLimit"
	case KindPaused:
		return fmt.Sprintf("Paused(%d)", e.Code)
	case KindHalted:
		return fmt.Sprintf("Halted(%d)", e.Code)
	case KindFault:
		return fmt.Sprintf("Fault(0x%08x)", e.PC)
	default:
		return "ExitCode(unknown)"
	}
}

// SyscallRecord is one replayed host syscall observation: the words it
// wrote back to the guest and the (a0, a1) registers it returned.
type SyscallRecord struct {
	ToGuest []uint32
	A0, A1  uint32
}

// OpCodeResult is what a single step computes before the executor
// decides whether to commit or split: the new pc, the exit code it
// produces (if any), and any cycles beyond the opcode's own base cost.
type OpCodeResult struct {
	PC          uint32
	ExitCode    *ExitCode
	ExtraCycles uint64
}

// Segment is one proof-sized slice of the execution trace.
type Segment struct {
	Index       uint32
	PreImage    *memory.MemoryImage
	PostImageID [32]byte
	Faults      []memory.Fault
	Syscalls    []SyscallRecord
	ExitCode    ExitCode
	SplitInsn   *uint32
	PO2         uint32
	BodyCycles  uint64
}

// SegmentSink persists a Segment (e.g. serializing it to disk) and
// returns an opaque reference the Session keeps instead of the
// segment itself.
type SegmentSink func(seg *Segment) (any, error)

// Session is the output of one Run/RunWithCallback call: the segment
// references and journal bytes produced by that call, and the exit
// code it ended with. After a Paused exit the next call returns a new
// Session holding only its own segments and journal.
type Session struct {
	Segments []any
	Journal  []byte
	ExitCode ExitCode
}
