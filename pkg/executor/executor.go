// Package executor implements the execution phase of the zkVM: it
// runs a guest image deterministically, counts proof-relevant cycles,
// and cuts the trace into segments whose cost fits a configured
// per-segment budget. The result of a run is a Session holding the
// segment references, the guest's journal, and the terminal exit
// code; the proving backend reproduces each segment from its record
// alone.
package executor

import (
	"bytes"
	"io"
	"math"
	"math/bits"

	"github.com/basso-zkrv/zkrv-exec/internal/wordimage"
	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
	"github.com/basso-zkrv/zkrv-exec/pkg/opcode"
	"github.com/basso-zkrv/zkrv-exec/pkg/rv32"
)

// Cycle accounting constants.
const (
	// ShaCycles is the number of cycles required to compress one
	// SHA-256 block.
	ShaCycles uint64 = 72

	// BigintCycles is the number of cycles required to complete a
	// BIGINT operation.
	BigintCycles uint64 = 9

	// ZkCycles is the fixed number of cycles the proof system itself
	// consumes per segment.
	ZkCycles uint64 = 20

	// InitCycles and FiniCycles are the fixed costs of segment setup
	// and teardown.
	InitCycles uint64 = 40
	FiniCycles uint64 = 40

	// wordSizeWords is the width of one syscall output chunk, in words.
	wordSizeWords uint64 = 4
)

// Executor drives the execution phase: it decides where a guest
// program should be split into segments and what work is done in
// each. Create one with New (or FromWordImage) and call Run until the
// session exits with Halted.
type Executor struct {
	env      *ExecutorEnv
	preImage *memory.MemoryImage
	monitor  *memory.MemoryMonitor
	stepper  rv32.StepExecutor

	pc           uint32
	initCycles   uint64
	bodyCycles   uint64
	segmentCycle uint64
	constCycles  uint64
	insnCounter  uint32
	splitInsn    *uint32

	segments     []any
	segmentIndex uint64 // next segment index; persists across resumed runs

	pendingSyscall *SyscallRecord
	syscalls       []SyscallRecord

	exitCode *ExitCode
	journal  *journal
}

// journal captures guest writes to FdJournal during one run.
type journal struct {
	buf bytes.Buffer
}

func (j *journal) Write(p []byte) (int, error) {
	return j.buf.Write(p)
}

// New constructs an Executor from a memory image and an entry point.
// The image is taken by reference and mutated as the guest commits
// writes; the executor keeps its own clone as the first segment's
// pre-image.
func New(env *ExecutorEnv, image *memory.MemoryImage, pc uint32) *Executor {
	preImage := image.Clone()
	return &Executor{
		env:          env,
		preImage:     preImage,
		monitor:      memory.NewMonitor(image),
		stepper:      rv32.RV32IM{},
		pc:           pc,
		initCycles:   InitCycles,
		segmentCycle: InitCycles,
		constCycles:  InitCycles + FiniCycles + ShaCycles + ZkCycles,
	}
}

// FromWordImage constructs an Executor from a word-per-line image text
// read from r, the loader format cmd/zkrv-run and pkg/asm produce.
func FromWordImage(env *ExecutorEnv, r io.Reader) (*Executor, error) {
	image, entry, err := wordimage.Load(r)
	if err != nil {
		return nil, err
	}
	return New(env, image, entry), nil
}

// Run executes the guest until it pauses or halts, keeping each
// Segment itself as its opaque reference.
func (e *Executor) Run() (*Session, error) {
	return e.RunWithCallback(func(seg *Segment) (any, error) {
		return seg, nil
	})
}

// RunWithCallback executes the guest until it pauses or halts. Every
// completed segment is handed to callback for persistence; the value
// callback returns is what the Session's segment list holds. A Paused
// exit leaves the executor resumable: calling Run again continues
// where the guest left off. Resuming after Halted is an error.
func (e *Executor) RunWithCallback(callback SegmentSink) (*Session, error) {
	if e.exitCode != nil && e.exitCode.Kind == KindHalted {
		return nil, ErrResumeAfterHalt
	}

	e.monitor.ClearSession()
	e.segments = nil

	e.journal = &journal{}
	e.env.setWriter(FdJournal, e.journal)

	exitCode, err := e.runLoop(callback)
	if err != nil {
		return nil, err
	}

	e.exitCode = &exitCode
	segments := e.segments
	e.segments = nil
	return &Session{
		Segments: segments,
		Journal:  e.journal.buf.Bytes(),
		ExitCode: exitCode,
	}, nil
}

func (e *Executor) runLoop(callback SegmentSink) (ExitCode, error) {
	for {
		exitCode := e.Step()
		if exitCode == nil {
			continue
		}
		totalCycles := e.totalCycles()
		e.env.logger.Debug("segment complete",
			"exit_code", exitCode.String(), "total_cycles", totalCycles)

		if e.segmentIndex > math.MaxUint32 {
			return ExitCode{}, ErrTooManySegments
		}
		preImage := e.preImage
		postImage := e.monitor.BuildImage(e.pc)
		syscalls := e.syscalls
		e.syscalls = nil
		faults := e.monitor.Faults
		e.monitor.Faults = nil

		segment := &Segment{
			Index:       uint32(e.segmentIndex),
			PreImage:    preImage,
			PostImageID: postImage.ComputeID(),
			Faults:      faults,
			Syscalls:    syscalls,
			ExitCode:    *exitCode,
			SplitInsn:   e.splitInsn,
			PO2:         log2Ceil(nextPow2(totalCycles)),
			BodyCycles:  e.bodyCycles,
		}
		ref, err := callback(segment)
		if err != nil {
			return ExitCode{}, err
		}
		e.segments = append(e.segments, ref)
		e.segmentIndex++

		switch exitCode.Kind {
		case KindSystemSplit:
			e.split(postImage)
		case KindSessionLimit:
			return ExitCode{}, ErrSessionLimit
		case KindPaused:
			e.env.logger.Debug("paused", "code", exitCode.Code, "segment_cycle", e.segmentCycle)
			e.split(postImage)
			return *exitCode, nil
		case KindHalted:
			e.env.logger.Debug("halted", "code", exitCode.Code, "segment_cycle", e.segmentCycle)
			return *exitCode, nil
		case KindFault:
			e.env.logger.Debug("fault", "pc", exitCode.PC, "segment_cycle", e.segmentCycle)
			return *exitCode, nil
		}
	}
}

// split opens the next segment: the committed post-state becomes the
// new pre-image and all per-segment counters reset.
func (e *Executor) split(preImage *memory.MemoryImage) {
	e.preImage = preImage
	e.bodyCycles = 0
	e.splitInsn = nil
	e.insnCounter = 0
	e.segmentCycle = e.initCycles
	e.monitor.ClearSegment()
}

// Step advances the machine by at most one retired instruction,
// returning a non-nil ExitCode when the step produced a
// terminal-for-segment condition. A step that would push the segment
// past its cycle budget is undone in full and reported as SystemSplit;
// the same instruction is retried as the first step of the next
// segment. Step is public so debuggers can single-step a guest.
func (e *Executor) Step() *ExitCode {
	if limit, ok := e.env.SessionLimit(); ok && e.sessionCycle() >= limit {
		exit := SessionLimitExit()
		return &exit
	}

	insn, err := e.monitor.LoadWord(e.pc)
	if err != nil {
		return e.fault(err)
	}
	info := opcode.Decode(insn)

	var result OpCodeResult
	if info.Major == opcode.ECall {
		result, err = e.ecall()
		if err != nil {
			return e.fault(err)
		}
	} else {
		regs, err := e.monitor.LoadRegisters()
		if err != nil {
			return e.fault(err)
		}
		stepResult, err := e.stepper.Step(insn, e.pc, regs, e.monitor)
		if err != nil {
			return e.fault(err)
		}
		if stepResult.RegIdx >= 0 {
			if err := e.monitor.StoreRegister(stepResult.RegIdx, stepResult.RegVal); err != nil {
				return e.fault(err)
			}
		}
		result = OpCodeResult{PC: stepResult.PC}
	}

	// If committing this instruction would exceed the segment limit:
	// don't advance the pc, don't record any activity, and report
	// SystemSplit so the caller closes the segment.
	totalPending := e.totalCycles() + info.BaseCycles + result.ExtraCycles
	if totalPending > e.env.SegmentLimit() {
		splitInsn := e.insnCounter
		e.splitInsn = &splitInsn
		e.env.logger.Debug("split", "segment_cycle", e.segmentCycle, "pc", e.pc)
		e.monitor.Undo()
		exit := SystemSplit()
		return &exit
	}
	return e.advance(info, result)
}

// fault rolls nothing back itself (the speculative effects of the
// failed step stay uncommitted) and reports a Fault exit at the
// current pc.
func (e *Executor) fault(err error) *ExitCode {
	e.env.logger.Debug("fault", "pc", e.pc, "err", err)
	exit := FaultAt(e.pc)
	return &exit
}

// advance retires the instruction: it emits trace events, moves the
// pc, adds the instruction's cycles to the segment body, commits the
// speculative memory effects, and promotes a pending syscall record
// into the segment's syscall list.
func (e *Executor) advance(info opcode.Info, result OpCodeResult) *ExitCode {
	if e.env.traceCallback != nil {
		err := e.env.traceCallback(memory.NewInstructionStartEvent(
			uint32(e.sessionCycle()), e.pc,
		))
		if err != nil {
			return e.fault(err)
		}
		for _, event := range e.monitor.TraceEvents {
			if err := e.env.traceCallback(event); err != nil {
				return e.fault(err)
			}
		}
	}

	e.pc = result.PC
	e.insnCounter++
	e.bodyCycles += info.BaseCycles + result.ExtraCycles
	e.segmentCycle = e.initCycles + e.monitor.PageReadCycles + e.bodyCycles
	if err := e.monitor.Commit(e.sessionCycle()); err != nil {
		return e.fault(err)
	}
	if e.pendingSyscall != nil {
		e.syscalls = append(e.syscalls, *e.pendingSyscall)
		e.pendingSyscall = nil
	}
	return result.ExitCode
}

// totalCycles is the full proof cost of the segment so far: the fixed
// per-segment overhead plus paging plus the instruction body.
func (e *Executor) totalCycles() uint64 {
	return e.constCycles +
		e.monitor.PageReadCycles +
		e.monitor.PageWriteCycles +
		e.bodyCycles
}

// sessionCycle positions the current cycle within the whole run:
// every closed segment counts as a full segment limit.
func (e *Executor) sessionCycle() uint64 {
	return uint64(len(e.segments))*e.env.SegmentLimit() + e.segmentCycle
}

// SegmentCycle reports the running cycle position inside the current
// segment (init plus page reads plus body). It excludes page-write
// and teardown cycles and is a logging/ordering quantity only; budget
// decisions use the full cost.
func (e *Executor) SegmentCycle() uint64 {
	return e.segmentCycle
}

// PC returns the current program counter.
func (e *Executor) PC() uint32 {
	return e.pc
}

// Monitor exposes the memory monitor, letting callers inspect the
// final machine state (including the memory-mapped register file)
// after a run.
func (e *Executor) Monitor() *memory.MemoryMonitor {
	return e.monitor
}

func nextPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << uint(bits.Len64(v-1))
}

func log2Ceil(v uint64) uint32 {
	if v <= 1 {
		return 0
	}
	return uint32(bits.Len64(v - 1))
}
