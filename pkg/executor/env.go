package executor

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
	"github.com/basso-zkrv/zkrv-exec/pkg/syscall"
)

// Well-known guest file descriptors.
const (
	FdStdin  uint32 = 0
	FdStdout uint32 = 1
	FdStderr uint32 = 2
	// FdJournal receives the guest's public output. The executor
	// always overrides this descriptor with its own journal buffer for
	// the duration of a run.
	FdJournal uint32 = 3
)

// DefaultSegmentLimitPo2 is the segment size exponent used when the
// builder is not given one: segments of at most 2^20 cycles.
const DefaultSegmentLimitPo2 = 20

// TraceCallback receives trace events during a run. Returning an error
// faults the run at the current instruction.
type TraceCallback func(event memory.TraceEvent) error

// ExecutorEnv carries the environmental configuration of a run: cycle
// budgets, I/O sinks, the syscall registry, the input stream and the
// trace callback. Build one with NewEnvBuilder.
type ExecutorEnv struct {
	segmentLimitPo2 uint32
	sessionLimit    uint64
	hasSessionLimit bool
	traceCallback   TraceCallback
	io              map[uint32]io.Writer
	registry        *syscall.Registry
	input           []byte
	inputPos        int
	logger          *slog.Logger
}

// SegmentLimit returns the per-segment cycle budget, 2^po2.
func (e *ExecutorEnv) SegmentLimit() uint64 {
	return 1 << e.segmentLimitPo2
}

// SegmentLimitPo2 returns the configured segment size exponent.
func (e *ExecutorEnv) SegmentLimitPo2() uint32 {
	return e.segmentLimitPo2
}

// SessionLimit returns the total session cycle budget, if one is set.
func (e *ExecutorEnv) SessionLimit() (uint64, bool) {
	return e.sessionLimit, e.hasSessionLimit
}

// Writer returns the sink registered for fd, or nil.
func (e *ExecutorEnv) Writer(fd uint32) io.Writer {
	return e.io[fd]
}

// setWriter overrides the sink for fd. The executor uses this to
// install its journal on FdJournal at the start of every run.
func (e *ExecutorEnv) setWriter(fd uint32, w io.Writer) {
	e.io[fd] = w
}

// readInput copies up to len(p) bytes from the input stream into p,
// returning how many were copied. Successive calls consume the
// stream; it never blocks.
func (e *ExecutorEnv) readInput(p []byte) int {
	n := copy(p, e.input[e.inputPos:])
	e.inputPos += n
	return n
}

// ExecutorEnvBuilder accumulates configuration for an ExecutorEnv.
type ExecutorEnvBuilder struct {
	env ExecutorEnv
}

// NewEnvBuilder returns a builder loaded with the defaults: segment
// limit 2^20, no session limit, no trace callback, empty input, and a
// registry holding only the built-in sys_read/sys_write handlers.
func NewEnvBuilder() *ExecutorEnvBuilder {
	return &ExecutorEnvBuilder{
		env: ExecutorEnv{
			segmentLimitPo2: DefaultSegmentLimitPo2,
			io:              make(map[uint32]io.Writer),
			registry:        syscall.NewRegistry(),
			logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

// SegmentLimitPo2 sets the segment size exponent: each segment holds
// at most 2^po2 cycles.
func (b *ExecutorEnvBuilder) SegmentLimitPo2(po2 uint32) *ExecutorEnvBuilder {
	b.env.segmentLimitPo2 = po2
	return b
}

// SessionLimit bounds the total cycles of a run; exceeding it aborts
// the run.
func (b *ExecutorEnvBuilder) SessionLimit(cycles uint64) *ExecutorEnvBuilder {
	b.env.sessionLimit = cycles
	b.env.hasSessionLimit = true
	return b
}

// TraceCallback installs a per-instruction observation sink. The
// executor borrows it for the duration of a run; no events are
// delivered for steps that do not commit.
func (b *ExecutorEnvBuilder) TraceCallback(cb TraceCallback) *ExecutorEnvBuilder {
	b.env.traceCallback = cb
	return b
}

// WriteFd registers w as the sink for guest writes to fd. A sink
// registered for FdJournal is replaced by the executor's journal
// during a run.
func (b *ExecutorEnvBuilder) WriteFd(fd uint32, w io.Writer) *ExecutorEnvBuilder {
	b.env.io[fd] = w
	return b
}

// Syscall registers handler under name, shadowing a built-in handler
// of the same name.
func (b *ExecutorEnvBuilder) Syscall(name string, handler syscall.Handler) *ExecutorEnvBuilder {
	b.env.registry.Register(name, handler)
	return b
}

// AddInput appends data to the input stream served to the guest by
// the built-in sys_read handler.
func (b *ExecutorEnvBuilder) AddInput(data []byte) *ExecutorEnvBuilder {
	b.env.input = append(b.env.input, data...)
	return b
}

// Logger sets the structured logger used for per-segment and
// per-split debug logging. Logging is off by default.
func (b *ExecutorEnvBuilder) Logger(logger *slog.Logger) *ExecutorEnvBuilder {
	b.env.logger = logger
	return b
}

// Build validates the configuration and returns the environment.
func (b *ExecutorEnvBuilder) Build() (*ExecutorEnv, error) {
	if b.env.segmentLimitPo2 < minSegmentLimitPo2 || b.env.segmentLimitPo2 > maxSegmentLimitPo2 {
		return nil, fmt.Errorf(
			"executor: segment_limit_po2 %d out of range [%d, %d]",
			b.env.segmentLimitPo2, minSegmentLimitPo2, maxSegmentLimitPo2,
		)
	}
	env := b.env
	env.registerBuiltins()
	return &env, nil
}

// minSegmentLimitPo2 leaves room for the fixed per-segment overhead;
// maxSegmentLimitPo2 keeps the limit inside the address space math.
const (
	minSegmentLimitPo2 = 10
	maxSegmentLimitPo2 = 28
)

// registerBuiltins installs the sys_read and sys_write handlers unless
// the caller already registered handlers under those names.
func (e *ExecutorEnv) registerBuiltins() {
	if _, err := e.registry.Lookup(syscall.SysRead); err != nil {
		e.registry.Register(syscall.SysRead, syscall.HandlerFunc(e.sysRead))
	}
	if _, err := e.registry.Lookup(syscall.SysWrite); err != nil {
		e.registry.Register(syscall.SysWrite, syscall.HandlerFunc(e.sysWrite))
	}
}

// sysRead serves the input stream: it fills buf with up to
// 4*len(buf) bytes of pending input and returns the number of bytes
// copied in A0. A short or zero count signals end of input.
func (e *ExecutorEnv) sysRead(_ string, _ syscall.Memory, buf []uint32) (uint32, uint32, error) {
	raw := make([]byte, len(buf)*memory.WordSize)
	n := e.readInput(raw)
	for i := range buf {
		buf[i] = uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
	}
	return uint32(n), 0, nil
}

// sysWrite reads (fd, ptr, nbytes) from registers A3..A5, copies the
// guest bytes to the sink registered for fd, and returns the byte
// count in A0.
func (e *ExecutorEnv) sysWrite(_ string, mem syscall.Memory, _ []uint32) (uint32, uint32, error) {
	fd, err := mem.LoadRegister(regA3)
	if err != nil {
		return 0, 0, err
	}
	ptr, err := mem.LoadRegister(regA4)
	if err != nil {
		return 0, 0, err
	}
	nbytes, err := mem.LoadRegister(regA5)
	if err != nil {
		return 0, 0, err
	}
	data, err := mem.LoadArray(ptr, int(nbytes))
	if err != nil {
		return 0, 0, err
	}
	w := e.Writer(fd)
	if w == nil {
		return 0, 0, fmt.Errorf("executor: no write sink for fd %d", fd)
	}
	if _, err := w.Write(data); err != nil {
		return 0, 0, err
	}
	return nbytes, 0, nil
}
