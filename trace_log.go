package main

import (
	"encoding/binary"
	"fmt"
)

// Trace entry classifications. Zero marks an unused slot, so a cleared
// log reads as empty without a separate length field.
const (
	LOG_UNUSED = 0
	LOG_MEM_RD = 1
	LOG_MEM_WR = 2
	LOG_IO_RD  = 3
	LOG_IO_WR  = 4
)

// Ctrl field bits.
const (
	CTRL_BHE = 0x01 // byte-high-enable was active for the transaction
)

const (
	// DEFAULT_TRACE_CAPACITY matches the firmware log buffer size.
	DEFAULT_TRACE_CAPACITY = 4000

	// TRACE_ENTRY_SIZE is the packed wire size of one entry.
	TRACE_ENTRY_SIZE = 8
)

// TraceEntry is one classified bus transaction.
type TraceEntry struct {
	Address uint32
	Data    uint16
	Kind    byte
	Ctrl    byte
}

var kindNames = [...]string{"??", "RD", "WR", "IR", "IW"}

// String renders the entry as one row of the monitor's log table.
func (e TraceEntry) String() string {
	name := "??"
	if e.Kind >= 1 && e.Kind <= 4 {
		name = kindNames[e.Kind]
	}
	bhe := "-"
	if e.Ctrl&CTRL_BHE != 0 {
		bhe = "B"
	}
	return fmt.Sprintf("%05X|%s|%s|%04X", e.Address, bhe, name, e.Data)
}

// TraceLog is the bounded, append-only transaction log. Entries are
// written without gaps, so the first unused slot marks the end of valid
// data. The engine appends during a run and the shell reads afterwards;
// the two phases never overlap, so the log carries no lock.
type TraceLog struct {
	entries []TraceEntry
	next    int
}

// NewTraceLog allocates a log holding capacity entries, all unused.
func NewTraceLog(capacity int) *TraceLog {
	if capacity <= 0 {
		panic(fmt.Sprintf("trace log capacity %d must be positive", capacity))
	}
	return &TraceLog{entries: make([]TraceEntry, capacity)}
}

// Capacity returns the number of entry slots.
func (t *TraceLog) Capacity() int {
	return len(t.entries)
}

// Clear marks every slot unused and rewinds the append cursor.
func (t *TraceLog) Clear() {
	for i := range t.entries {
		t.entries[i] = TraceEntry{}
	}
	t.next = 0
}

// Append writes an entry into the next free slot. Appending to a full
// log is ignored; the engine treats a full log as a stop condition
// before ever getting here.
func (t *TraceLog) Append(e TraceEntry) {
	if t.next >= len(t.entries) {
		return
	}
	t.entries[t.next] = e
	t.next++
}

// Entry returns the entry at index i.
func (t *TraceLog) Entry(i int) TraceEntry {
	return t.entries[i]
}

// ValidCount scans from the start and returns the number of entries
// before the first unused slot. Because entries are appended without
// gaps this is the canonical amount of real data in the log.
func (t *TraceLog) ValidCount() int {
	for i, e := range t.entries {
		if e.Kind == LOG_UNUSED {
			return i
		}
	}
	return len(t.entries)
}

// Pack renders entries [0, ValidCount) as packed little-endian 8-byte
// records: address u32, data u16, kind u8, ctrl u8. This is the layout
// the transfer commands emit and existing decoders expect.
func (t *TraceLog) Pack() []byte {
	n := t.ValidCount()
	out := make([]byte, 0, n*TRACE_ENTRY_SIZE)
	var rec [TRACE_ENTRY_SIZE]byte
	for i := 0; i < n; i++ {
		e := t.entries[i]
		binary.LittleEndian.PutUint32(rec[0:], e.Address)
		binary.LittleEndian.PutUint16(rec[4:], e.Data)
		rec[6] = e.Kind
		rec[7] = e.Ctrl
		out = append(out, rec[:]...)
	}
	return out
}
