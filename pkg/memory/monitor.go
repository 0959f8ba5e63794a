package memory

import (
	"fmt"
)

// RegisterBase is the byte address of the reserved memory region
// backing the 32 general-purpose registers. Registers are memory:
// load/store of a register goes through the same paging accounting as
// ordinary loads and stores. Placing all 32 registers in the last page
// of the address space means the whole register file shares one page,
// so the first register touch in a segment charges exactly one page
// read (or write) cycle no matter which register is accessed
// afterwards.
const RegisterBase = MemSize - PageSize

// NumRegisters is the width of the RV32 register file (x0..x31).
const NumRegisters = 32

// RegisterAddr returns the memory address backing register idx.
func RegisterAddr(idx int) uint32 {
	return RegisterBase + uint32(idx)*WordSize
}

// MemoryMonitor wraps a MemoryImage with the transactional,
// paging-aware access layer the executor drives: every load/store
// goes through it so first-touch page cycles, faults and trace events
// are recorded, and every step's effects are held in a speculative
// overlay until the executor decides to Commit or Undo them.
//
// A monitor is always "mid-step": mutations accumulate in the overlay
// between one commit and the next undo-or-commit decision, and are
// atomic with respect to Undo.
type MemoryMonitor struct {
	image *MemoryImage

	// PageReadCycles and PageWriteCycles count the distinct pages read
	// (written) in the current segment, each charged once at first
	// touch. Speculative touches are charged immediately so the
	// executor's budget check sees the true pending cost; Undo takes
	// the charge back.
	PageReadCycles  uint64
	PageWriteCycles uint64

	// Faults records the page loads and stores committed this segment,
	// each tagged with the cycle of first access.
	Faults []Fault

	// TraceEvents holds the register/memory write events queued since
	// the last commit. The executor drains them when it retires the
	// instruction; Commit and Undo both clear them.
	TraceEvents []TraceEvent

	readPages  map[uint32]bool // pages already charged a read this segment
	writePages map[uint32]bool // pages already charged a write this segment

	// Speculative state accumulated since the last commit/undo.
	specBytes       map[uint32]byte
	specReadPages   map[uint32]bool
	specWritePages  map[uint32]bool
	specFaultReads  []uint32 // page base addresses, in first-touch order
	specFaultWrites []uint32
}

// NewMonitor creates a monitor over img. img is taken by reference and
// mutated in place on every commit; callers that need the pre-commit
// state should Clone it first.
func NewMonitor(img *MemoryImage) *MemoryMonitor {
	m := &MemoryMonitor{image: img}
	m.resetSegment()
	m.resetSpeculative()
	return m
}

func (m *MemoryMonitor) resetSegment() {
	m.PageReadCycles = 0
	m.PageWriteCycles = 0
	m.Faults = nil
	m.readPages = make(map[uint32]bool)
	m.writePages = make(map[uint32]bool)
}

func (m *MemoryMonitor) resetSpeculative() {
	m.specBytes = make(map[uint32]byte)
	m.specReadPages = make(map[uint32]bool)
	m.specWritePages = make(map[uint32]bool)
	m.specFaultReads = nil
	m.specFaultWrites = nil
	m.TraceEvents = nil
}

func (m *MemoryMonitor) chargeRead(addr uint32) {
	pageIdx, _ := m.image.PageIndex(addr)
	if m.readPages[pageIdx] || m.specReadPages[pageIdx] {
		return
	}
	m.specReadPages[pageIdx] = true
	m.PageReadCycles++
	m.specFaultReads = append(m.specFaultReads, pageIdx*m.image.PageSize())
}

func (m *MemoryMonitor) chargeWrite(addr uint32) {
	pageIdx, _ := m.image.PageIndex(addr)
	if m.writePages[pageIdx] || m.specWritePages[pageIdx] {
		return
	}
	m.specWritePages[pageIdx] = true
	m.PageWriteCycles++
	m.specFaultWrites = append(m.specFaultWrites, pageIdx*m.image.PageSize())
}

// overlayByte returns the byte at addr, preferring the speculative
// overlay over the committed image.
func (m *MemoryMonitor) overlayByte(addr uint32) (byte, error) {
	if v, ok := m.specBytes[addr]; ok {
		return v, nil
	}
	return m.image.ReadByte(addr)
}

func (m *MemoryMonitor) overlayWord(addr uint32) (uint32, error) {
	if addr%WordSize != 0 {
		return 0, fmt.Errorf("memory: misaligned word access at 0x%08x", addr)
	}
	var w uint32
	for i := uint32(0); i < WordSize; i++ {
		b, err := m.overlayByte(addr + i)
		if err != nil {
			return 0, err
		}
		w |= uint32(b) << (8 * i)
	}
	return w, nil
}

// LoadByte reads a single byte, charging a page read on first touch.
func (m *MemoryMonitor) LoadByte(addr uint32) (byte, error) {
	if !m.image.InBounds(addr, 1) {
		return 0, fmt.Errorf("memory: out of bounds read at 0x%08x", addr)
	}
	m.chargeRead(addr)
	return m.overlayByte(addr)
}

// LoadHalfword reads a little-endian 16-bit value.
func (m *MemoryMonitor) LoadHalfword(addr uint32) (uint16, error) {
	if addr%2 != 0 {
		return 0, fmt.Errorf("memory: misaligned halfword read at 0x%08x", addr)
	}
	if !m.image.InBounds(addr, 2) {
		return 0, fmt.Errorf("memory: out of bounds read at 0x%08x", addr)
	}
	m.chargeRead(addr)
	m.chargeRead(addr + 1)
	lo, err := m.overlayByte(addr)
	if err != nil {
		return 0, err
	}
	hi, err := m.overlayByte(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

// LoadWord performs a word-aligned, page-accounted load. Satisfies
// rv32.Memory and syscall.Memory.
func (m *MemoryMonitor) LoadWord(addr uint32) (uint32, error) {
	if addr%WordSize != 0 {
		return 0, fmt.Errorf("memory: misaligned word read at 0x%08x", addr)
	}
	if !m.image.InBounds(addr, WordSize) {
		return 0, fmt.Errorf("memory: out of bounds read at 0x%08x", addr)
	}
	m.chargeRead(addr)
	return m.overlayWord(addr)
}

// storeByte writes a byte into the speculative overlay, charging a
// page write on first touch, and queues a trace event if event is
// non-nil.
func (m *MemoryMonitor) storeByte(addr uint32, v byte, event func(word uint32) TraceEvent) error {
	if !m.image.InBounds(addr, 1) {
		return fmt.Errorf("memory: out of bounds write at 0x%08x", addr)
	}
	m.chargeWrite(addr)
	m.specBytes[addr] = v
	if event != nil {
		wordAddr := addr - addr%WordSize
		w, err := m.overlayWord(wordAddr)
		if err != nil {
			return err
		}
		m.TraceEvents = append(m.TraceEvents, event(w))
	}
	return nil
}

// StoreByte writes a single byte.
func (m *MemoryMonitor) StoreByte(addr uint32, v byte) error {
	return m.storeByte(addr, v, func(w uint32) TraceEvent {
		wordAddr := addr - addr%WordSize
		return newMemorySetEvent(wordAddr, w)
	})
}

// StoreHalfword writes a little-endian 16-bit value.
func (m *MemoryMonitor) StoreHalfword(addr uint32, v uint16) error {
	if addr%2 != 0 {
		return fmt.Errorf("memory: misaligned halfword write at 0x%08x", addr)
	}
	if !m.image.InBounds(addr, 2) {
		return fmt.Errorf("memory: out of bounds write at 0x%08x", addr)
	}
	if err := m.storeByte(addr, byte(v), nil); err != nil {
		return err
	}
	return m.storeByte(addr+1, byte(v>>8), func(w uint32) TraceEvent {
		wordAddr := addr - addr%WordSize
		return newMemorySetEvent(wordAddr, w)
	})
}

// StoreWord writes a word-aligned little-endian word. Satisfies
// rv32.Memory.
func (m *MemoryMonitor) StoreWord(addr, value uint32) error {
	if addr%WordSize != 0 {
		return fmt.Errorf("memory: misaligned word write at 0x%08x", addr)
	}
	if !m.image.InBounds(addr, WordSize) {
		return fmt.Errorf("memory: out of bounds write at 0x%08x", addr)
	}
	for i := uint32(0); i < WordSize-1; i++ {
		if err := m.storeByte(addr+i, byte(value>>(8*i)), nil); err != nil {
			return err
		}
	}
	return m.storeByte(addr+WordSize-1, byte(value>>(8*(WordSize-1))), func(uint32) TraceEvent {
		return newMemorySetEvent(addr, value)
	})
}

// LoadRegister reads register idx through the register-as-memory
// mapping, charging paging cycles exactly like any other load.
func (m *MemoryMonitor) LoadRegister(idx int) (uint32, error) {
	return m.LoadWord(RegisterAddr(idx))
}

// LoadRegisters snapshots the whole register file.
func (m *MemoryMonitor) LoadRegisters() ([NumRegisters]uint32, error) {
	var regs [NumRegisters]uint32
	for i := 0; i < NumRegisters; i++ {
		v, err := m.LoadRegister(i)
		if err != nil {
			return regs, err
		}
		regs[i] = v
	}
	return regs, nil
}

// StoreRegister writes register idx and queues a RegisterSet trace
// event (rather than MemorySet) so trace consumers can tell register
// writes from ordinary memory writes even though both are paged the
// same way underneath.
func (m *MemoryMonitor) StoreRegister(idx int, value uint32) error {
	addr := RegisterAddr(idx)
	for i := uint32(0); i < WordSize-1; i++ {
		if err := m.storeByte(addr+i, byte(value>>(8*i)), nil); err != nil {
			return err
		}
	}
	return m.storeByte(addr+WordSize-1, byte(value>>(8*(WordSize-1))), func(uint32) TraceEvent {
		return newRegisterSetEvent(idx, value)
	})
}

// LoadArray reads n bytes starting at addr, charging a page read for
// every distinct page touched.
func (m *MemoryMonitor) LoadArray(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := m.LoadByte(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// StoreRegion writes data starting at addr, charging a page write for
// every distinct page touched.
func (m *MemoryMonitor) StoreRegion(addr uint32, data []byte) error {
	for i, b := range data {
		if err := m.StoreByte(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// LoadString reads a NUL-terminated string starting at addr.
func (m *MemoryMonitor) LoadString(addr uint32) (string, error) {
	var out []byte
	for {
		b, err := m.LoadByte(addr + uint32(len(out)))
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
		if len(out) > int(m.image.MemSize()) {
			return "", fmt.Errorf("memory: unterminated string at 0x%08x", addr)
		}
	}
	return string(out), nil
}

// Commit merges the speculative overlay into the backing image,
// promotes newly-touched pages into the segment's charged-page sets,
// and tags every fault recorded this step with cycle. After Commit
// the speculative set and the trace-event queue are empty.
func (m *MemoryMonitor) Commit(cycle uint64) error {
	for addr, v := range m.specBytes {
		if err := m.image.writeByteLocked(addr, v); err != nil {
			return err
		}
	}
	for pageIdx := range m.specReadPages {
		m.readPages[pageIdx] = true
	}
	for pageIdx := range m.specWritePages {
		m.writePages[pageIdx] = true
	}
	for _, base := range m.specFaultReads {
		m.Faults = append(m.Faults, Fault{Addr: base, Write: false, Cycle: cycle})
	}
	for _, base := range m.specFaultWrites {
		m.Faults = append(m.Faults, Fault{Addr: base, Write: true, Cycle: cycle})
	}
	m.resetSpeculative()
	return nil
}

// Undo discards every speculative effect recorded since the last
// commit, including a newly-materialized instruction-fetch page read,
// and refunds the page cycles those touches charged.
func (m *MemoryMonitor) Undo() {
	m.PageReadCycles -= uint64(len(m.specReadPages))
	m.PageWriteCycles -= uint64(len(m.specWritePages))
	m.resetSpeculative()
}

// ClearSegment resets the per-segment page-cycle counters and faults.
// The executor calls it when it opens a new segment; the backing image
// is left untouched (it already holds the prior segment's committed
// writes, which is the new segment's starting state).
func (m *MemoryMonitor) ClearSegment() {
	m.resetSegment()
}

// ClearSession resets all monitor state as if freshly constructed.
func (m *MemoryMonitor) ClearSession() {
	m.resetSegment()
	m.resetSpeculative()
}

// BuildImage returns a clone of the committed image. Speculative
// writes are not included. The image carries no pc field, and pc is
// not recorded anywhere.
func (m *MemoryMonitor) BuildImage(pc uint32) *MemoryImage {
	_ = pc
	return m.image.Clone()
}

// Image returns the monitor's live (committed) image without cloning.
// Callers that need an isolated snapshot should use BuildImage.
func (m *MemoryMonitor) Image() *MemoryImage {
	return m.image
}
