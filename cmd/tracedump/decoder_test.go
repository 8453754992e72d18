package main

import (
	"strings"
	"testing"
)

func packed(addr uint32, data uint16, kind, ctrl byte) []byte {
	return []byte{
		byte(addr), byte(addr >> 8), byte(addr >> 16), byte(addr >> 24),
		byte(data), byte(data >> 8),
		kind, ctrl,
	}
}

func TestDecodeStopsAtUnused(t *testing.T) {
	raw := append(packed(0x00100, 0x1234, kindMemRd, 1), packed(0x002F8, 0x0041, kindIOWr, 0)...)
	raw = append(raw, packed(0, 0, kindUnused, 0)...)
	raw = append(raw, packed(0xFFFFF, 0xFFFF, kindMemWr, 1)...)

	records := Decode(raw)
	if len(records) != 2 {
		t.Fatalf("decoded %d records, want 2", len(records))
	}
	if records[0].Address != 0x00100 || records[0].Data != 0x1234 || records[0].Kind != kindMemRd {
		t.Fatalf("record 0 = %+v", records[0])
	}
}

func TestDecodeStopsAtTransferPadding(t *testing.T) {
	raw := packed(0x00100, 0x1234, kindMemWr, 1)
	for len(raw) < 128 {
		raw = append(raw, 0x1A)
	}
	records := Decode(raw)
	if len(records) != 1 {
		t.Fatalf("decoded %d records, want 1", len(records))
	}
}

func TestDecodeIgnoresPartialTail(t *testing.T) {
	raw := append(packed(0x00100, 0x1234, kindIORd, 0), 0xAB, 0xCD)
	if records := Decode(raw); len(records) != 1 {
		t.Fatalf("decoded %d records, want 1", len(records))
	}
}

func TestRenderTable(t *testing.T) {
	out := Render([]Record{
		{Address: 0x00200, Data: 0xBEEF, Kind: kindMemWr, Ctrl: 1},
		{Address: 0x002F8, Data: 0x0041, Kind: kindIOWr, Ctrl: 0},
	})
	want := "ADDR  |B|TY|DATA\n00200|B|WR|BEEF\n002F8|-|IW|0041\n"
	if out != want {
		t.Fatalf("Render = %q, want %q", out, want)
	}
	if !strings.HasPrefix(out, "ADDR") {
		t.Fatal("missing header")
	}
}
