// Package rv32 single-steps non-ecall RV32IM instructions. The
// executor loop treats this opcode space opaquely through the
// StepExecutor interface; RV32IM is the concrete implementation that
// makes the module runnable end to end.
package rv32

import (
	"errors"
	"fmt"
)

// ErrInvalidInstruction is returned for any instruction word this
// executor cannot decode, including ECALL/EBREAK (those are the
// executor's responsibility, not this package's).
var ErrInvalidInstruction = errors.New("rv32: invalid instruction")

// Memory is the subset of pkg/memory.MemoryMonitor a StepExecutor
// needs: raw, paging-accounted byte/halfword/word access, covering
// the narrower load/store forms RV32I's LB/LH/SB/SH require.
type Memory interface {
	LoadByte(addr uint32) (byte, error)
	LoadHalfword(addr uint32) (uint16, error)
	LoadWord(addr uint32) (uint32, error)
	StoreByte(addr uint32, v byte) error
	StoreHalfword(addr uint32, v uint16) error
	StoreWord(addr, value uint32) error
}

// Result is what Step reports back to the executor loop: the new
// program counter, and which register (if any) should be written
// back through the monitor. RegIdx == -1 means no register write.
//
// Step never writes registers itself: the executor loop owns the one
// call to monitor.StoreRegister, keeping register paging accounting
// in a single place so no parallel register array can diverge from
// the memory-mapped register file.
type Result struct {
	PC     uint32
	RegIdx int
	RegVal uint32
}

// StepExecutor single-steps one non-ecall RV32IM instruction. ci is
// the fetched instruction word, pc the address it was fetched from,
// regs a snapshot of the register file, and mem the memory handle
// through which the instruction may load or store.
type StepExecutor interface {
	Step(ci, pc uint32, regs [32]uint32, mem Memory) (Result, error)
}

// RV32IM implements StepExecutor for the RV32I base ISA plus the M
// extension (MUL/DIV/REM). It holds no state: every call is a pure
// function of its arguments, which is what lets the executor retry a
// step after an undo.
type RV32IM struct{}

var _ StepExecutor = RV32IM{}

func noReg(pc uint32) Result { return Result{PC: pc, RegIdx: -1} }

func withReg(pc uint32, rd int, v uint32) Result {
	if rd == 0 {
		return noReg(pc)
	}
	return Result{PC: pc, RegIdx: rd, RegVal: v}
}

// Step implements StepExecutor.
func (RV32IM) Step(ci, pc uint32, regs [32]uint32, mem Memory) (Result, error) {
	op := ci & 0x7f
	switch op {
	case 0x37: // LUI
		rd, imm := decodeU(ci)
		return withReg(pc+4, rd, imm), nil

	case 0x17: // AUIPC
		rd, imm := decodeU(ci)
		return withReg(pc+4, rd, pc+imm), nil

	case 0x6f: // JAL
		rd, imm := decodeJ(ci)
		return withReg(uint32(int32(pc)+imm), rd, pc+4), nil

	case 0x67: // JALR
		rd, rs1, imm := decodeI(ci)
		target := uint32(int32(regs[rs1])+imm) &^ 1
		return withReg(target, rd, pc+4), nil

	case 0x63: // Branch
		rs1, rs2, imm := decodeB(ci)
		funct3 := (ci >> 12) & 0x7
		a, b := regs[rs1], regs[rs2]
		var taken bool
		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int32(a) < int32(b)
		case 5:
			taken = int32(a) >= int32(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return Result{}, fmt.Errorf("%w: branch funct3=0x%x", ErrInvalidInstruction, funct3)
		}
		if taken {
			return noReg(uint32(int32(pc) + imm)), nil
		}
		return noReg(pc + 4), nil

	case 0x03: // Load
		rd, rs1, imm := decodeI(ci)
		funct3 := (ci >> 12) & 0x7
		addr := uint32(int32(regs[rs1]) + imm)
		var val uint32
		switch funct3 {
		case 0:
			b, err := mem.LoadByte(addr)
			if err != nil {
				return Result{}, err
			}
			val = uint32(int32(int8(b)))
		case 1:
			h, err := mem.LoadHalfword(addr)
			if err != nil {
				return Result{}, err
			}
			val = uint32(int32(int16(h)))
		case 2:
			w, err := mem.LoadWord(addr)
			if err != nil {
				return Result{}, err
			}
			val = w
		case 4:
			b, err := mem.LoadByte(addr)
			if err != nil {
				return Result{}, err
			}
			val = uint32(b)
		case 5:
			h, err := mem.LoadHalfword(addr)
			if err != nil {
				return Result{}, err
			}
			val = uint32(h)
		default:
			return Result{}, fmt.Errorf("%w: load funct3=0x%x", ErrInvalidInstruction, funct3)
		}
		return withReg(pc+4, rd, val), nil

	case 0x23: // Store
		rs1, rs2, imm := decodeS(ci)
		funct3 := (ci >> 12) & 0x7
		addr := uint32(int32(regs[rs1]) + imm)
		val := regs[rs2]
		var err error
		switch funct3 {
		case 0:
			err = mem.StoreByte(addr, byte(val))
		case 1:
			err = mem.StoreHalfword(addr, uint16(val))
		case 2:
			err = mem.StoreWord(addr, val)
		default:
			return Result{}, fmt.Errorf("%w: store funct3=0x%x", ErrInvalidInstruction, funct3)
		}
		if err != nil {
			return Result{}, err
		}
		return noReg(pc + 4), nil

	case 0x13: // Immediate arithmetic
		return stepImmediate(ci, pc, regs)

	case 0x33: // Register arithmetic, including M extension
		return stepRegister(ci, pc, regs)

	default:
		return Result{}, fmt.Errorf("%w: opcode=0x%02x at pc=0x%08x", ErrInvalidInstruction, op, pc)
	}
}

// stepImmediate handles I-type arithmetic (ADDI, SLTI, SLLI, ...).
func stepImmediate(ci, pc uint32, regs [32]uint32) (Result, error) {
	rd, rs1, imm := decodeI(ci)
	funct3 := (ci >> 12) & 0x7
	src := regs[rs1]
	immU := uint32(imm)

	var v uint32
	switch funct3 {
	case 0: // ADDI
		v = uint32(int32(src) + imm)
	case 2: // SLTI
		v = boolToWord(int32(src) < imm)
	case 3: // SLTIU
		v = boolToWord(src < immU)
	case 4: // XORI
		v = src ^ immU
	case 6: // ORI
		v = src | immU
	case 7: // ANDI
		v = src & immU
	case 1: // SLLI
		v = src << (immU & 0x1f)
	case 5: // SRLI / SRAI
		shamt := immU & 0x1f
		if (ci>>30)&1 == 1 {
			v = uint32(int32(src) >> shamt)
		} else {
			v = src >> shamt
		}
	default:
		return Result{}, fmt.Errorf("%w: imm arith funct3=0x%x", ErrInvalidInstruction, funct3)
	}
	return withReg(pc+4, rd, v), nil
}

// stepRegister handles R-type ALU instructions and, when funct7 marks
// the M extension, delegates to stepMulDiv.
func stepRegister(ci, pc uint32, regs [32]uint32) (Result, error) {
	rd := int((ci >> 7) & 0x1f)
	rs1 := (ci >> 15) & 0x1f
	rs2 := (ci >> 20) & 0x1f
	funct3 := (ci >> 12) & 0x7
	funct7 := (ci >> 25) & 0x7f
	a, b := regs[rs1], regs[rs2]

	if funct7 == 0x01 {
		v, err := stepMulDiv(funct3, a, b)
		if err != nil {
			return Result{}, err
		}
		return withReg(pc+4, rd, v), nil
	}

	var v uint32
	switch funct3 {
	case 0: // ADD / SUB
		if funct7 == 0x20 {
			v = uint32(int32(a) - int32(b))
		} else {
			v = a + b
		}
	case 1: // SLL
		v = a << (b & 0x1f)
	case 2: // SLT
		v = boolToWord(int32(a) < int32(b))
	case 3: // SLTU
		v = boolToWord(a < b)
	case 4: // XOR
		v = a ^ b
	case 5: // SRL / SRA
		if funct7 == 0x20 {
			v = uint32(int32(a) >> (b & 0x1f))
		} else {
			v = a >> (b & 0x1f)
		}
	case 6: // OR
		v = a | b
	case 7: // AND
		v = a & b
	default:
		return Result{}, fmt.Errorf("%w: reg arith funct3=0x%x", ErrInvalidInstruction, funct3)
	}
	return withReg(pc+4, rd, v), nil
}

// stepMulDiv handles the M extension: MUL/MULH/MULHSU/MULHU and
// DIV/DIVU/REM/REMU, with the RISC-V-mandated divide-by-zero and
// signed-overflow results (no trap).
func stepMulDiv(funct3 uint32, a, b uint32) (uint32, error) {
	switch funct3 {
	case 0: // MUL
		return uint32(int32(a) * int32(b)), nil
	case 1: // MULH
		return uint32((int64(int32(a)) * int64(int32(b))) >> 32), nil
	case 2: // MULHSU
		return uint32((int64(int32(a)) * int64(b)) >> 32), nil
	case 3: // MULHU
		return uint32((uint64(a) * uint64(b)) >> 32), nil
	case 4: // DIV
		if b == 0 {
			return 0xffffffff, nil
		}
		if int32(a) == -0x80000000 && int32(b) == -1 {
			return a, nil
		}
		return uint32(int32(a) / int32(b)), nil
	case 5: // DIVU
		if b == 0 {
			return 0xffffffff, nil
		}
		return a / b, nil
	case 6: // REM
		if b == 0 {
			return a, nil
		}
		if int32(a) == -0x80000000 && int32(b) == -1 {
			return 0, nil
		}
		return uint32(int32(a) % int32(b)), nil
	case 7: // REMU
		if b == 0 {
			return a, nil
		}
		return a % b, nil
	default:
		return 0, fmt.Errorf("%w: M-ext funct3=0x%x", ErrInvalidInstruction, funct3)
	}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
