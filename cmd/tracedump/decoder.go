// decoder.go - Packed bus-trace record decoding for tracedump
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// recordSize is the packed wire size of one trace entry: address
// uint32, data uint16, kind uint8, ctrl uint8, little-endian.
const recordSize = 8

// Entry kinds, matching the monitor's log classifications.
const (
	kindUnused = 0
	kindMemRd  = 1
	kindMemWr  = 2
	kindIORd   = 3
	kindIOWr   = 4
	kindPad    = 0x1A // XMODEM pad byte, marks transfer tail padding
)

var kindNames = [...]string{"??", "RD", "WR", "IR", "IW"}

// Record is one decoded trace entry.
type Record struct {
	Address uint32
	Data    uint16
	Kind    byte
	Ctrl    byte
}

// String renders a record as one row of the monitor's log table.
func (r Record) String() string {
	name := "??"
	if r.Kind >= 1 && r.Kind <= 4 {
		name = kindNames[r.Kind]
	}
	bhe := "-"
	if r.Ctrl&1 != 0 {
		bhe = "B"
	}
	return fmt.Sprintf("%05X|%s|%s|%04X", r.Address, bhe, name, r.Data)
}

// Decode parses packed records out of raw. Decoding stops at the first
// unused or padding record, which XMODEM transfers append to fill the
// final block; a trailing partial record is ignored the same way.
func Decode(raw []byte) []Record {
	var out []Record
	for off := 0; off+recordSize <= len(raw); off += recordSize {
		kind := raw[off+6]
		if kind == kindUnused || kind == kindPad {
			break
		}
		out = append(out, Record{
			Address: binary.LittleEndian.Uint32(raw[off:]),
			Data:    binary.LittleEndian.Uint16(raw[off+4:]),
			Kind:    kind,
			Ctrl:    raw[off+7],
		})
	}
	return out
}

// Render formats records as the monitor's log table.
func Render(records []Record) string {
	var b strings.Builder
	b.WriteString("ADDR  |B|TY|DATA\n")
	for _, r := range records {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}
