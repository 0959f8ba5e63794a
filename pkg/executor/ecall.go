package executor

import (
	"encoding/binary"
	"fmt"

	"github.com/basso-zkrv/zkrv-exec/pkg/bigint256"
	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
	"github.com/basso-zkrv/zkrv-exec/pkg/sha2core"
)

// Ecall numbers dispatched on register T0.
const (
	ecallHalt     uint32 = 0
	ecallInput    uint32 = 1
	ecallSoftware uint32 = 2
	ecallSha      uint32 = 3
	ecallBigint   uint32 = 4
)

// Halt types carried in the low byte of A0 for the HALT ecall.
const (
	haltTerminate uint32 = 0
	haltPause     uint32 = 1
)

// Register indices of the ecall ABI.
const (
	regT0 = 5
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA3 = 13
	regA4 = 14
	regA5 = 15
)

// digestWords is the width of an output digest in 32-bit words.
const digestWords = 8

// ecall dispatches a privileged call on the value of register T0. An
// error return is converted into a Fault exit code by the caller.
func (e *Executor) ecall() (OpCodeResult, error) {
	t0, err := e.monitor.LoadRegister(regT0)
	if err != nil {
		return OpCodeResult{}, err
	}
	switch t0 {
	case ecallHalt:
		return e.ecallHalt()
	case ecallInput:
		return e.ecallInput()
	case ecallSoftware:
		return e.ecallSoftware()
	case ecallSha:
		return e.ecallSha()
	case ecallBigint:
		return e.ecallBigint()
	default:
		return OpCodeResult{}, fmt.Errorf("executor: unknown ecall %d", t0)
	}
}

// ecallHalt terminates or pauses the guest. A0 packs the user exit
// code and the halt type; A1 points at the output digest, which is
// loaded so its pages are charged as proof of output.
func (e *Executor) ecallHalt() (OpCodeResult, error) {
	totReg, err := e.monitor.LoadRegister(regA0)
	if err != nil {
		return OpCodeResult{}, err
	}
	outputPtr, err := e.monitor.LoadRegister(regA1)
	if err != nil {
		return OpCodeResult{}, err
	}
	haltType := totReg & 0xff
	userExit := uint8((totReg >> 8) & 0xff)
	if _, err := e.monitor.LoadArray(outputPtr, digestWords*memory.WordSize); err != nil {
		return OpCodeResult{}, err
	}

	switch haltType {
	case haltTerminate:
		exit := Halted(userExit)
		return OpCodeResult{PC: e.pc, ExitCode: &exit}, nil
	case haltPause:
		exit := Paused(userExit)
		return OpCodeResult{PC: e.pc + memory.WordSize, ExitCode: &exit}, nil
	default:
		return OpCodeResult{}, fmt.Errorf("executor: illegal halt type %d", haltType)
	}
}

// ecallInput performs a digest-sized load from the pointer in A0, a
// reserved side channel for committing to input.
func (e *Executor) ecallInput() (OpCodeResult, error) {
	e.env.logger.Debug("ecall(input)")
	inAddr, err := e.monitor.LoadRegister(regA0)
	if err != nil {
		return OpCodeResult{}, err
	}
	if _, err := e.monitor.LoadArray(inAddr, digestWords*memory.WordSize); err != nil {
		return OpCodeResult{}, err
	}
	return OpCodeResult{PC: e.pc + memory.WordSize}, nil
}

// ecallSha compresses count SHA-256 blocks. The state at in_state_ptr
// is big-endian on the wire and host-endian during compression, so it
// is byte-swapped on load and again on store. Each block is assembled
// from two half-block pointers that both advance by BlockBytes per
// iteration.
func (e *Executor) ecallSha() (OpCodeResult, error) {
	outStatePtr, err := e.monitor.LoadRegister(regA0)
	if err != nil {
		return OpCodeResult{}, err
	}
	inStatePtr, err := e.monitor.LoadRegister(regA1)
	if err != nil {
		return OpCodeResult{}, err
	}
	block1Ptr, err := e.monitor.LoadRegister(regA2)
	if err != nil {
		return OpCodeResult{}, err
	}
	block2Ptr, err := e.monitor.LoadRegister(regA3)
	if err != nil {
		return OpCodeResult{}, err
	}
	count, err := e.monitor.LoadRegister(regA4)
	if err != nil {
		return OpCodeResult{}, err
	}

	inState, err := e.monitor.LoadArray(inStatePtr, sha2core.StateWords*memory.WordSize)
	if err != nil {
		return OpCodeResult{}, err
	}
	var state [sha2core.StateWords]uint32
	for i := range state {
		state[i] = binary.BigEndian.Uint32(inState[i*memory.WordSize:])
	}

	e.env.logger.Debug("ecall(sha)", "count", count, "state", fmt.Sprintf("%08x", state))
	for n := uint32(0); n < count; n++ {
		var block [sha2core.BlockBytes]byte
		for i := 0; i < digestWords; i++ {
			w, err := e.monitor.LoadWord(block1Ptr + uint32(i*memory.WordSize))
			if err != nil {
				return OpCodeResult{}, err
			}
			binary.LittleEndian.PutUint32(block[i*memory.WordSize:], w)
		}
		for i := 0; i < digestWords; i++ {
			w, err := e.monitor.LoadWord(block2Ptr + uint32(i*memory.WordSize))
			if err != nil {
				return OpCodeResult{}, err
			}
			binary.LittleEndian.PutUint32(block[(digestWords+i)*memory.WordSize:], w)
		}
		sha2core.CompressBlock(&state, &block)
		block1Ptr += sha2core.BlockBytes
		block2Ptr += sha2core.BlockBytes
	}

	outState := make([]byte, sha2core.StateWords*memory.WordSize)
	for i, w := range state {
		binary.BigEndian.PutUint32(outState[i*memory.WordSize:], w)
	}
	if err := e.monitor.StoreRegion(outStatePtr, outState); err != nil {
		return OpCodeResult{}, err
	}

	return OpCodeResult{
		PC:          e.pc + memory.WordSize,
		ExtraCycles: ShaCycles * uint64(count),
	}, nil
}

// ecallBigint reads x, y and n as 256-bit little-endian integers and
// writes z = x*y (n == 0, product must fit) or z = (x*y) mod n back to
// the pointer in A0. The op word in A1 must be zero.
func (e *Executor) ecallBigint() (OpCodeResult, error) {
	zPtr, err := e.monitor.LoadRegister(regA0)
	if err != nil {
		return OpCodeResult{}, err
	}
	op, err := e.monitor.LoadRegister(regA1)
	if err != nil {
		return OpCodeResult{}, err
	}
	xPtr, err := e.monitor.LoadRegister(regA2)
	if err != nil {
		return OpCodeResult{}, err
	}
	yPtr, err := e.monitor.LoadRegister(regA3)
	if err != nil {
		return OpCodeResult{}, err
	}
	nPtr, err := e.monitor.LoadRegister(regA4)
	if err != nil {
		return OpCodeResult{}, err
	}

	if op != 0 {
		return OpCodeResult{}, fmt.Errorf("executor: bigint op must be 0, got %d", op)
	}

	loadWords := func(ptr uint32) ([bigint256.WidthWords]uint32, error) {
		var words [bigint256.WidthWords]uint32
		for i := range words {
			w, err := e.monitor.LoadWord(ptr + uint32(i*memory.WordSize))
			if err != nil {
				return words, err
			}
			words[i] = w
		}
		return words, nil
	}

	xw, err := loadWords(xPtr)
	if err != nil {
		return OpCodeResult{}, err
	}
	yw, err := loadWords(yPtr)
	if err != nil {
		return OpCodeResult{}, err
	}
	nw, err := loadWords(nPtr)
	if err != nil {
		return OpCodeResult{}, err
	}

	z, err := bigint256.MulMod(
		bigint256.WordsToInt(xw),
		bigint256.WordsToInt(yw),
		bigint256.WordsToInt(nw),
	)
	if err != nil {
		return OpCodeResult{}, err
	}

	for i, w := range bigint256.IntToWords(z) {
		if err := e.monitor.StoreWord(zPtr+uint32(i*memory.WordSize), w); err != nil {
			return OpCodeResult{}, err
		}
	}

	return OpCodeResult{
		PC:          e.pc + memory.WordSize,
		ExtraCycles: BigintCycles,
	}, nil
}

// ecallSoftware runs the host syscall replay protocol. A fresh call
// looks up the handler by the NUL-terminated name at A2 and records
// its output; a call re-executed after a split replays the pending
// record bit-identically instead of invoking the handler again. The
// record is promoted into the segment's syscall list only when the
// surrounding instruction commits.
func (e *Executor) ecallSoftware() (OpCodeResult, error) {
	toGuestPtr, err := e.monitor.LoadRegister(regA0)
	if err != nil {
		return OpCodeResult{}, err
	}
	toGuestWords, err := e.monitor.LoadRegister(regA1)
	if err != nil {
		return OpCodeResult{}, err
	}
	namePtr, err := e.monitor.LoadRegister(regA2)
	if err != nil {
		return OpCodeResult{}, err
	}
	name, err := e.monitor.LoadString(namePtr)
	if err != nil {
		return OpCodeResult{}, err
	}
	e.env.logger.Debug("ecall(software)", "name", name, "to_guest_words", toGuestWords)

	// One cycle per output chunk of up to four words, rounded up.
	chunks := (uint64(toGuestWords) + wordSizeWords - 1) / wordSizeWords

	record := e.pendingSyscall
	if record == nil {
		toGuest := make([]uint32, toGuestWords)
		handler, err := e.env.registry.Lookup(name)
		if err != nil {
			return OpCodeResult{}, err
		}
		a0, a1, err := handler.Syscall(name, e.monitor, toGuest)
		if err != nil {
			return OpCodeResult{}, err
		}
		record = &SyscallRecord{ToGuest: toGuest, A0: a0, A1: a1}
		e.pendingSyscall = record
	} else {
		e.env.logger.Debug("replay syscall", "name", name)
	}

	out := make([]byte, len(record.ToGuest)*memory.WordSize)
	for i, w := range record.ToGuest {
		binary.LittleEndian.PutUint32(out[i*memory.WordSize:], w)
	}
	if err := e.monitor.StoreRegion(toGuestPtr, out); err != nil {
		return OpCodeResult{}, err
	}
	if err := e.monitor.StoreRegister(regA0, record.A0); err != nil {
		return OpCodeResult{}, err
	}
	if err := e.monitor.StoreRegister(regA1, record.A1); err != nil {
		return OpCodeResult{}, err
	}

	// One cycle for the ecall, one per output chunk, one to save the
	// (A0, A1) pair.
	return OpCodeResult{
		PC:          e.pc + memory.WordSize,
		ExtraCycles: 1 + chunks + 1,
	}, nil
}
