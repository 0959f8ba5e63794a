package rv32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
)

func regsWith(pairs map[int]uint32) [32]uint32 {
	var regs [32]uint32
	for idx, v := range pairs {
		regs[idx] = v
	}
	return regs
}

func TestStep_ALU(t *testing.T) {
	cases := []struct {
		name string
		insn uint32
		regs map[int]uint32
		rd   int
		want uint32
	}{
		{"addi", 0x00500513, nil, 10, 5},                                              // addi a0, x0, 5
		{"addi negative", 0xfff00513, nil, 10, 0xffffffff},                            // addi a0, x0, -1
		{"add", 0x00b50533, map[int]uint32{10: 3, 11: 4}, 10, 7},                      // add a0, a0, a1
		{"sub", 0x40b50533, map[int]uint32{10: 3, 11: 4}, 10, 0xffffffff},             // sub a0, a0, a1
		{"xor", 0x00b54533, map[int]uint32{10: 0xff00, 11: 0x0ff0}, 10, 0xf0f0},       // xor
		{"or", 0x00b56533, map[int]uint32{10: 0xf0, 11: 0x0f}, 10, 0xff},              // or
		{"and", 0x00b57533, map[int]uint32{10: 0xff, 11: 0x0f}, 10, 0x0f},             // and
		{"sll", 0x00b51533, map[int]uint32{10: 1, 11: 4}, 10, 16},                     // sll
		{"srl", 0x00b55533, map[int]uint32{10: 0x80000000, 11: 4}, 10, 0x08000000},    // srl
		{"sra", 0x40b55533, map[int]uint32{10: 0x80000000, 11: 4}, 10, 0xf8000000},    // sra
		{"slt true", 0x00b52533, map[int]uint32{10: 0xffffffff, 11: 1}, 10, 1},        // slt (-1 < 1)
		{"sltu false", 0x00b53533, map[int]uint32{10: 0xffffffff, 11: 1}, 10, 0},      // sltu
		{"slli", 0x00451513, map[int]uint32{10: 3}, 10, 48},                           // slli a0, a0, 4
		{"srai", 0x40455513, map[int]uint32{10: 0x80000000}, 10, 0xf8000000},          // srai a0, a0, 4
		{"lui", 0x12345537, nil, 10, 0x12345000},                                      // lui a0, 0x12345
		{"mul", 0x02b50533, map[int]uint32{10: 6, 11: 7}, 10, 42},                     // mul
		{"mulhu", 0x02b53533, map[int]uint32{10: 0xffffffff, 11: 2}, 10, 1},           // mulhu
		{"div", 0x02b54533, map[int]uint32{10: 42, 11: 7}, 10, 6},                     // div
		{"div by zero", 0x02b54533, map[int]uint32{10: 42, 11: 0}, 10, 0xffffffff},    // div x/0
		{"div overflow", 0x02b54533, map[int]uint32{10: 0x80000000, 11: 0xffffffff}, 10, 0x80000000},
		{"rem by zero", 0x02b56533, map[int]uint32{10: 42, 11: 0}, 10, 42},            // rem x%0
		{"remu", 0x02b57533, map[int]uint32{10: 43, 11: 7}, 10, 1},                    // remu
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := RV32IM{}.Step(tc.insn, 0x100, regsWith(tc.regs), nil)
			require.NoError(t, err)
			assert.Equal(t, uint32(0x104), res.PC)
			assert.Equal(t, tc.rd, res.RegIdx)
			assert.Equal(t, tc.want, res.RegVal)
		})
	}
}

func TestStep_WritesToX0AreDropped(t *testing.T) {
	// addi x0, x0, 5
	res, err := RV32IM{}.Step(0x00500013, 0, [32]uint32{}, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, res.RegIdx)
}

func TestStep_AUIPC(t *testing.T) {
	// auipc a0, 0x1
	res, err := RV32IM{}.Step(0x00001517, 0x100, [32]uint32{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.RegIdx)
	assert.Equal(t, uint32(0x1100), res.RegVal)
}

func TestStep_Branches(t *testing.T) {
	// beq a0, a1, +8
	const beq = 0x00b50463
	regs := regsWith(map[int]uint32{10: 1, 11: 1})
	res, err := RV32IM{}.Step(beq, 0x100, regs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x108), res.PC, "taken")
	assert.Equal(t, -1, res.RegIdx)

	regs[11] = 2
	res, err = RV32IM{}.Step(beq, 0x100, regs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x104), res.PC, "not taken")

	// blt a0, a1, +8 with a0 = -1, a1 = 1: signed compare takes it.
	regs = regsWith(map[int]uint32{10: 0xffffffff, 11: 1})
	res, err = RV32IM{}.Step(0x00b54463, 0x100, regs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x108), res.PC)

	// bltu with the same values: unsigned compare does not.
	res, err = RV32IM{}.Step(0x00b56463, 0x100, regs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x104), res.PC)
}

func TestStep_JAL(t *testing.T) {
	// jal ra, +8
	res, err := RV32IM{}.Step(0x008000ef, 0x100, [32]uint32{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x108), res.PC)
	assert.Equal(t, 1, res.RegIdx)
	assert.Equal(t, uint32(0x104), res.RegVal)
}

func TestStep_JALRClearsLowBit(t *testing.T) {
	// jalr ra, 1(a0) with a0 = 0x200: target 0x201 & ~1 = 0x200
	regs := regsWith(map[int]uint32{10: 0x200})
	res, err := RV32IM{}.Step(0x001500e7, 0x100, regs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), res.PC)
	assert.Equal(t, 1, res.RegIdx)
	assert.Equal(t, uint32(0x104), res.RegVal)
}

func TestStep_LoadsAndStores(t *testing.T) {
	mon := memory.NewMonitor(memory.NewDefaultImage())
	require.NoError(t, mon.StoreWord(0x200, 0x8899aabb))
	require.NoError(t, mon.Commit(0))

	regs := regsWith(map[int]uint32{10: 0x200})

	// lw a1, 0(a0)
	res, err := RV32IM{}.Step(0x00052583, 0x100, regs, mon)
	require.NoError(t, err)
	assert.Equal(t, 11, res.RegIdx)
	assert.Equal(t, uint32(0x8899aabb), res.RegVal)

	// lb a1, 0(a0): sign-extended
	res, err = RV32IM{}.Step(0x00050583, 0x100, regs, mon)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xffffffbb), res.RegVal)

	// lbu a1, 0(a0)
	res, err = RV32IM{}.Step(0x00054583, 0x100, regs, mon)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xbb), res.RegVal)

	// lhu a1, 2(a0)
	res, err = RV32IM{}.Step(0x00255583, 0x100, regs, mon)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x8899), res.RegVal)

	// sw a1, 4(a0) with a1 = 0x11223344
	regs[11] = 0x11223344
	res, err = RV32IM{}.Step(0x00b52223, 0x100, regs, mon)
	require.NoError(t, err)
	assert.Equal(t, -1, res.RegIdx)
	w, err := mon.LoadWord(0x204)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), w)

	// sb a1, 8(a0)
	_, err = RV32IM{}.Step(0x00b50423, 0x100, regs, mon)
	require.NoError(t, err)
	b, err := mon.LoadByte(0x208)
	require.NoError(t, err)
	assert.Equal(t, byte(0x44), b)
}

func TestStep_InvalidInstruction(t *testing.T) {
	_, err := RV32IM{}.Step(0x00000073, 0x100, [32]uint32{}, nil) // ECALL is not ours
	assert.ErrorIs(t, err, ErrInvalidInstruction)

	_, err = RV32IM{}.Step(0xffffffff, 0x100, [32]uint32{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInstruction)

	_, err = RV32IM{}.Step(0x0000000f, 0x100, [32]uint32{}, nil) // FENCE unsupported
	assert.ErrorIs(t, err, ErrInvalidInstruction)
}
