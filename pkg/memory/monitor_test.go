package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SpeculativeReadsOwnWrites(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreWord(0x100, 0xcafebabe))

	w, err := m.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xcafebabe), w)

	// The backing image must not see the write before commit.
	iw, err := m.Image().ReadWord(0x100)
	require.NoError(t, err)
	assert.Zero(t, iw)
}

func TestMonitor_UndoDiscardsEverything(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreWord(0x100, 1))
	require.NoError(t, m.StoreRegister(5, 2))
	m.Undo()

	require.NoError(t, m.Commit(0))
	assert.Zero(t, m.PageReadCycles)
	assert.Zero(t, m.PageWriteCycles)
	assert.Empty(t, m.Faults)

	w, err := m.LoadWord(0x100)
	require.NoError(t, err)
	assert.Zero(t, w)
	r, err := m.LoadRegister(5)
	require.NoError(t, err)
	assert.Zero(t, r)
}

func TestMonitor_CommitMergesIntoImage(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreWord(0x100, 0x12345678))
	require.NoError(t, m.Commit(7))

	iw, err := m.Image().ReadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), iw)
}

func TestMonitor_PageCyclesChargedOncePerPage(t *testing.T) {
	m := NewMonitor(NewDefaultImage())

	// Two words on the same page: one read page charge.
	_, err := m.LoadWord(0x100)
	require.NoError(t, err)
	_, err = m.LoadWord(0x104)
	require.NoError(t, err)
	require.NoError(t, m.Commit(0))
	assert.Equal(t, uint64(1), m.PageReadCycles)

	// Same page again in a later step: still one.
	_, err = m.LoadWord(0x108)
	require.NoError(t, err)
	require.NoError(t, m.Commit(1))
	assert.Equal(t, uint64(1), m.PageReadCycles)

	// A different page: two.
	_, err = m.LoadWord(0x100 + PageSize)
	require.NoError(t, err)
	require.NoError(t, m.Commit(2))
	assert.Equal(t, uint64(2), m.PageReadCycles)

	// Writes are charged independently of reads.
	require.NoError(t, m.StoreWord(0x100, 9))
	require.NoError(t, m.Commit(3))
	assert.Equal(t, uint64(1), m.PageWriteCycles)
}

func TestMonitor_UndoneTouchesAreNotCharged(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	_, err := m.LoadWord(0x100)
	require.NoError(t, err)
	require.NoError(t, m.StoreWord(0x200, 1))
	m.Undo()
	require.NoError(t, m.Commit(0))
	assert.Zero(t, m.PageReadCycles)
	assert.Zero(t, m.PageWriteCycles)

	// The page is still uncharged, so the retry pays for it.
	_, err = m.LoadWord(0x100)
	require.NoError(t, err)
	require.NoError(t, m.Commit(1))
	assert.Equal(t, uint64(1), m.PageReadCycles)
}

func TestMonitor_FaultsTaggedWithCycle(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	_, err := m.LoadWord(0)
	require.NoError(t, err)
	require.NoError(t, m.StoreWord(PageSize, 1))
	require.NoError(t, m.Commit(41))

	require.Len(t, m.Faults, 2)
	assert.Equal(t, Fault{Addr: 0, Write: false, Cycle: 41}, m.Faults[0])
	assert.Equal(t, Fault{Addr: PageSize, Write: true, Cycle: 41}, m.Faults[1])
}

func TestMonitor_RegistersAreMemory(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreRegister(7, 0x55aa55aa))
	require.NoError(t, m.Commit(0))

	r, err := m.LoadRegister(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55aa55aa), r)

	// The same value is visible at the register's backing address.
	w, err := m.Image().ReadWord(RegisterAddr(7))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55aa55aa), w)

	// The whole register file shares a page, so reading every
	// register costs a single page read.
	regs, err := m.LoadRegisters()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55aa55aa), regs[7])
	require.NoError(t, m.Commit(1))
	assert.Equal(t, uint64(1), m.PageReadCycles)
}

func TestMonitor_TraceEventsQueuedUntilCommit(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreWord(0x100, 0xabcd))
	require.NoError(t, m.StoreRegister(3, 99))

	require.Len(t, m.TraceEvents, 2)
	assert.Equal(t, TraceEvent{Kind: TraceMemorySet, Addr: 0x100, Value: 0xabcd}, m.TraceEvents[0])
	assert.Equal(t, TraceEvent{Kind: TraceRegisterSet, Reg: 3, Value: 99}, m.TraceEvents[1])

	require.NoError(t, m.Commit(0))
	assert.Empty(t, m.TraceEvents)
}

func TestMonitor_ByteAndHalfwordStores(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreByte(0x100, 0x11))
	require.NoError(t, m.StoreHalfword(0x102, 0x3322))
	require.NoError(t, m.Commit(0))

	w, err := m.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x33220011), w)

	h, err := m.LoadHalfword(0x102)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3322), h)
}

func TestMonitor_LoadString(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreRegion(0x200, []byte("hello\x00world")))
	s, err := m.LoadString(0x200)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestMonitor_LoadArrayCrossesPages(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreRegion(PageSize-2, []byte{1, 2, 3, 4}))
	require.NoError(t, m.Commit(0))
	assert.Equal(t, uint64(2), m.PageWriteCycles)

	got, err := m.LoadArray(PageSize-2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestMonitor_BuildImageExcludesSpeculative(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreWord(0x100, 1))
	require.NoError(t, m.Commit(0))
	require.NoError(t, m.StoreWord(0x100, 2))

	img := m.BuildImage(0)
	w, err := img.ReadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), w)
}

func TestMonitor_ClearSegmentResetsCounters(t *testing.T) {
	m := NewMonitor(NewDefaultImage())
	require.NoError(t, m.StoreWord(0x100, 1))
	require.NoError(t, m.Commit(0))
	require.NotZero(t, m.PageWriteCycles)

	m.ClearSegment()
	assert.Zero(t, m.PageReadCycles)
	assert.Zero(t, m.PageWriteCycles)
	assert.Empty(t, m.Faults)

	// The committed state survives a segment boundary.
	w, err := m.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), w)
}
