package rv32

// Field decoders for the standard RISC-V instruction formats
// (R/I/S/B/U/J).

func decodeI(ci uint32) (rd int, rs1 uint32, imm int32) {
	rd = int((ci >> 7) & 0x1f)
	rs1 = (ci >> 15) & 0x1f
	imm = int32(ci) >> 20
	return
}

func decodeS(ci uint32) (rs1, rs2 uint32, imm int32) {
	rs1 = (ci >> 15) & 0x1f
	rs2 = (ci >> 20) & 0x1f
	raw := ((ci >> 7) & 0x1f) | (((ci >> 25) & 0x7f) << 5)
	imm = signExtend(raw, 12)
	return
}

func decodeB(ci uint32) (rs1, rs2 uint32, imm int32) {
	rs1 = (ci >> 15) & 0x1f
	rs2 = (ci >> 20) & 0x1f
	raw := (((ci >> 8) & 0xf) << 1) |
		(((ci >> 25) & 0x3f) << 5) |
		(((ci >> 7) & 0x1) << 11) |
		(((ci >> 31) & 0x1) << 12)
	imm = signExtend(raw, 13)
	return
}

func decodeU(ci uint32) (rd int, imm uint32) {
	rd = int((ci >> 7) & 0x1f)
	imm = ci & 0xfffff000
	return
}

func decodeJ(ci uint32) (rd int, imm int32) {
	rd = int((ci >> 7) & 0x1f)
	raw := (((ci >> 21) & 0x3ff) << 1) |
		(((ci >> 20) & 0x1) << 11) |
		(((ci >> 12) & 0xff) << 12) |
		(((ci >> 31) & 0x1) << 20)
	imm = signExtend(raw, 21)
	return
}

// signExtend sign-extends the low `bits` bits of v.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
