// dis_x86.go - Disassembler for the monitor's x86 subset
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import "fmt"

// DisassembleOne decodes the instruction at pc and returns its text
// and byte length. Opcodes outside the subset decode as one db byte,
// so a scan always advances.
func DisassembleOne(space *AddressSpace, pc uint32) (string, int) {
	opcode := space.ReadByte(pc)
	imm8 := func() byte { return space.ReadByte(pc + 1) }
	imm16 := func(at uint32) uint16 {
		return uint16(space.ReadByte(at)) | uint16(space.ReadByte(at+1))<<8
	}

	switch {
	case opcode == 0x90:
		return "nop", 1
	case opcode >= 0xB0 && opcode <= 0xB7:
		return fmt.Sprintf("mov %s, 0x%02X", reg8Names[opcode-0xB0], imm8()), 2
	case opcode >= 0xB8 && opcode <= 0xBF:
		return fmt.Sprintf("mov %s, 0x%04X", regName(int(opcode-0xB8)), imm16(pc+1)), 3
	case opcode == 0x04:
		return fmt.Sprintf("add al, 0x%02X", imm8()), 2
	case opcode == 0xA2:
		return fmt.Sprintf("mov [0x%04X], al", imm16(pc+1)), 3
	case opcode == 0xA3:
		return fmt.Sprintf("mov [0x%04X], ax", imm16(pc+1)), 3
	case opcode == 0x01:
		modrm := imm8()
		if modrm>>6 == 3 {
			return fmt.Sprintf("add %s, %s", regName(int(modrm&7)), regName(int(modrm>>3&7))), 2
		}
		return fmt.Sprintf("db 0x%02X", opcode), 1
	case opcode >= 0x91 && opcode <= 0x97:
		return fmt.Sprintf("xchg ax, %s", regName(int(opcode-0x90))), 1
	case opcode == 0xE2:
		return fmt.Sprintf("loop 0x%04X", pc+2+uint32(int32(int8(imm8())))), 2
	case opcode == 0xEB:
		return fmt.Sprintf("jmp 0x%04X", pc+2+uint32(int32(int8(imm8())))), 2
	case opcode == 0xEA:
		return fmt.Sprintf("jmp far 0x%04X:0x%04X", imm16(pc+3), imm16(pc+1)), 5
	case opcode == 0xF4:
		return "hlt", 1
	}
	return fmt.Sprintf("db 0x%02X", opcode), 1
}

// DisassembleRange renders len bytes starting at addr as listing
// lines: address, hex dump, mnemonic.
func DisassembleRange(space *AddressSpace, addr uint32, length int) []string {
	var lines []string
	pc := addr
	for pc < addr+uint32(length) {
		text, n := DisassembleOne(space, pc)
		dump := ""
		for i := 0; i < n; i++ {
			dump += fmt.Sprintf("%02X ", space.ReadByte(pc+uint32(i)))
		}
		lines = append(lines, fmt.Sprintf("%05X: %-12s %s", pc, dump, text))
		pc += uint32(n)
	}
	return lines
}
