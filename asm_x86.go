// asm_x86.go - Single-line assembler for the monitor's x86 subset
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"strconv"
	"strings"
)

var reg16Names = [...]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
var reg8Names = [...]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}

// regCode resolves a 16-bit register name to its encoding, or -1.
func regCode(name string) int {
	for i, r := range reg16Names {
		if strings.EqualFold(name, r) {
			return i
		}
	}
	return -1
}

// regName is the inverse of regCode.
func regName(code int) string {
	if code >= 0 && code < 8 {
		return reg16Names[code]
	}
	return "??"
}

// parseNum reads a hex number, with or without a 0x prefix. Everything
// numeric in the monitor's syntax is hex.
func parseNum(s string) (uint32, bool) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// AssembleLine encodes one instruction of the monitor's subset at addr
// and returns the byte count, or 0 if the line does not assemble. The
// subset matches the interactive assembler's help: nop, mov reg,imm /
// mov [imm],ax, add reg,reg, xchg with ax, loop, jmp (near and far
// seg:off), and db for raw bytes.
func AssembleLine(space *AddressSpace, addr uint32, line string) int {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 0 {
		return 0
	}
	mnemonic := strings.ToLower(fields[0])
	ops := fields[1:]
	op := func(i int) string {
		if i < len(ops) {
			return ops[i]
		}
		return ""
	}

	switch mnemonic {
	case "nop":
		space.WriteByte(addr, 0x90)
		return 1

	case "mov":
		if r := regCode(op(0)); r != -1 {
			imm, ok := parseNum(op(1))
			if !ok {
				return 0
			}
			space.WriteByte(addr, byte(0xB8+r))
			space.WriteWord(addr+1, uint16(imm))
			return 3
		}
		if strings.HasPrefix(op(0), "[") && regCode(op(1)) == 0 {
			imm, ok := parseNum(strings.Trim(op(0), "[]"))
			if !ok {
				return 0
			}
			space.WriteByte(addr, 0xA3)
			space.WriteWord(addr+1, uint16(imm))
			return 3
		}
		return 0

	case "add":
		r1, r2 := regCode(op(0)), regCode(op(1))
		if r1 == -1 || r2 == -1 {
			return 0
		}
		space.WriteByte(addr, 0x01)
		space.WriteByte(addr+1, byte(0xC0|r2<<3|r1))
		return 2

	case "xchg":
		r1, r2 := regCode(op(0)), regCode(op(1))
		switch {
		case r1 == 0 && r2 != -1:
			space.WriteByte(addr, byte(0x90+r2))
			return 1
		case r2 == 0 && r1 != -1:
			space.WriteByte(addr, byte(0x90+r1))
			return 1
		}
		return 0

	case "loop":
		target, ok := parseNum(op(0))
		if !ok {
			return 0
		}
		space.WriteByte(addr, 0xE2)
		space.WriteByte(addr+1, byte(target-(addr+2)))
		return 2

	case "jmp":
		target := op(0)
		if strings.EqualFold(target, "far") {
			target = op(1)
		}
		if target == "" {
			return 0
		}
		if seg, off, found := strings.Cut(target, ":"); found {
			segv, ok1 := parseNum(seg)
			offv, ok2 := parseNum(off)
			if !ok1 || !ok2 {
				return 0
			}
			space.WriteByte(addr, 0xEA)
			space.WriteWord(addr+1, uint16(offv))
			space.WriteWord(addr+3, uint16(segv))
			return 5
		}
		tv, ok := parseNum(target)
		if !ok {
			return 0
		}
		space.WriteByte(addr, 0xEB)
		space.WriteByte(addr+1, byte(tv-(addr+2)))
		return 2

	case "db":
		if len(ops) == 0 {
			return 0
		}
		for i, o := range ops {
			v, ok := parseNum(o)
			if !ok {
				return 0
			}
			space.WriteByte(addr+uint32(i), byte(v))
		}
		return len(ops)
	}
	return 0
}
