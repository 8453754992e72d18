// hidos_devices.go - HIDOS emulated devices
//
// Each device operates on the call block the dispatcher decoded: it
// reads its operands from the block, performs one operation against
// the memory space, the disk image or the console, and writes its
// status back into the block. Status words follow the HIDOS
// convention, not Go errors: the VM on the other side of the bus reads
// them out of memory.
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"fmt"
	"time"
)

// Device ids and command codes are two ASCII characters packed into a
// word, first character in the high byte.
const (
	DEV_INIT    = 'I'<<8 | 'N'
	DEV_DISK    = 'D'<<8 | 'I'
	DEV_CON     = 'C'<<8 | 'O'
	DEV_AUX     = 'A'<<8 | 'U'
	DEV_CLOCK   = 'C'<<8 | 'L'
	DEV_PRINTER = 'P'<<8 | 'R'
)

const (
	CMD_DISKS    = 'D'<<8 | 'I' // init: disk count
	CMD_RAMSIZE  = 'R'<<8 | 'A' // init: usable RAM size
	CMD_DOSPOS   = 'D'<<8 | 'O' // init: DOS image paragraph
	CMD_READ     = 'R'<<8 | 'D' // disk/clock: read
	CMD_WRITE    = 'W'<<8 | 'R' // disk/clock: write; console: bulk write
	CMD_MEDIA    = 'C'<<8 | 'H' // disk: media change query
	CMD_WRITE1   = 'W'<<8 | '1' // console: write one byte
	CMD_POLL     = 'R'<<8 | 'P' // console/aux/printer: read poll
	CMD_READ1    = 'R'<<8 | '1' // console: read one byte
	CMD_READWAIT = 'R'<<8 | 'W' // console: debounced waiting read
)

// DOS_IMAGE_PARAGRAPH is where the hosted system expects MSDOS.SYS.
const DOS_IMAGE_PARAGRAPH = 0x18000 >> 4

// EPOCH_DAYS is Jan 1 1980 counted in days from Jan 1 1970, the base
// the clock device reports against.
const EPOCH_DAYS = 3652

// conWaitSpins is how many waiting reads spin on the buffered byte
// before the console device falls back to a timed read.
const conWaitSpins = 16

// conReadWait is the timed-read window of the waiting read, long
// enough to take the VM's poll loop off a busy spin.
const conReadWait = 10 * time.Millisecond

// ioInit answers the hosted system's boot-time queries.
func (d *HidosDispatcher) ioInit(addr uint32, idx, cmd uint16) int {
	if idx != 0 {
		return -1
	}
	switch cmd {
	case CMD_DISKS:
		d.space.WriteWord(addr+IOBUF, 1)
	case CMD_RAMSIZE:
		d.space.WriteDword(addr+IOBUF, d.space.Size()-0xF)
	case CMD_DOSPOS:
		d.space.WriteWord(addr+IOBUF, DOS_IMAGE_PARAGRAPH)
	default:
		return -1
	}
	return 0
}

// ioDisk services the single read-only disk. The status word at IOBUF
// is 1 for success and 0 for failure; a bad request degrades to the
// failure status rather than faulting the dispatcher.
func (d *HidosDispatcher) ioDisk(addr uint32, idx, cmd uint16) int {
	if idx != 0 {
		// Only unit 0 exists.
		d.space.WriteWord(addr+IOBUF, 0)
		return 0
	}
	off := d.space.ReadDword(addr + IOBUF)
	siz := d.space.ReadDword(addr + IOSIZ)
	adr := d.space.ReadDword(addr + IOADR)
	switch cmd {
	case CMD_READ:
		if d.loglevel < HIDOS_LOG_INFO {
			fmt.Fprintf(d.con, "diskrw drive=%d wr=0 addr=%x off=%x len=%d\n", idx, adr, off, siz)
		}
		if uint64(off)+uint64(siz) > uint64(len(d.disk)) {
			d.space.WriteWord(addr+IOBUF, 0)
			return 0
		}
		d.space.Load(adr, d.disk[off:off+siz])
		d.space.WriteWord(addr+IOBUF, 1)
	case CMD_WRITE:
		// The image is read-only; the write always fails.
		d.space.WriteWord(addr+IOBUF, 0)
	case CMD_MEDIA:
		d.space.WriteWord(addr+IOBUF, 1)
	default:
		return -1
	}
	return 0
}

// ioCon bridges the hosted system's console to the operator stream.
// Reads buffer one byte as value|0x100 so the VM can tell "byte 0x00"
// from "nothing pending".
func (d *HidosDispatcher) ioCon(addr uint32, idx, cmd uint16) int {
	if idx != 0 {
		return -1
	}
	switch cmd {
	case CMD_WRITE1:
		d.conWait = 0
		d.con.Write([]byte{d.space.ReadByte(addr + IOBUF)})
	case CMD_WRITE:
		d.conWait = 0
		src := d.space.ReadDword(addr + IOADR)
		n := d.space.ReadDword(addr + IOSIZ)
		out := make([]byte, n)
		for i := range out {
			out[i] = d.space.ReadByte(src + uint32(i))
		}
		d.con.Write(out)
	case CMD_POLL, CMD_READ1:
		if d.conLast == 0 {
			if b, ok := d.con.ReadByte(0); ok {
				d.conLast = uint16(b) | 0x100
			}
		}
		if d.conLast != 0 {
			d.conWait = 0
		}
		d.space.WriteWord(addr+IOBUF, d.conLast)
		if cmd == CMD_READ1 {
			d.conLast = 0
		}
	case CMD_READWAIT:
		// The VM polls this in a loop while idle. The first spins are
		// free; after that each call blocks for a short window so an
		// idle VM stops burning the host loop.
		switch {
		case d.conLast != 0:
			d.conWait = 0
		case d.conWait < conWaitSpins:
			d.conWait++
		default:
			if b, ok := d.con.ReadByte(conReadWait); ok {
				d.conLast = uint16(b) | 0x100
				d.conWait = 0
			}
		}
	default:
		return -1
	}
	return 0
}

// ioAux is the absent auxiliary port: polls report no data, everything
// else is accepted and dropped.
func (d *HidosDispatcher) ioAux(addr uint32, idx, cmd uint16) int {
	if idx != 0 {
		return -1
	}
	if cmd == CMD_POLL {
		d.space.WriteWord(addr+IOBUF, 0)
	}
	return 0
}

// ioPrinter is the absent printer: same contract as the aux port.
func (d *HidosDispatcher) ioPrinter(addr uint32, idx, cmd uint16) int {
	if idx != 0 {
		return -1
	}
	if cmd == CMD_POLL {
		d.space.WriteWord(addr+IOBUF, 0)
	}
	return 0
}

// ioClock reports time elapsed since the dispatcher started, shifted
// to the hosted system's 1980 epoch. The result is three dwords at the
// block's target address: days, seconds of the day, microseconds.
// Setting the clock is accepted and ignored.
func (d *HidosDispatcher) ioClock(addr uint32, idx, cmd uint16) int {
	if idx != 0 {
		return -1
	}
	siz := d.space.ReadDword(addr + IOSIZ)
	adr := d.space.ReadDword(addr + IOADR)
	if siz != 12 {
		return -1
	}
	switch cmd {
	case CMD_READ:
		us := d.clock.Now().Sub(d.start).Microseconds()
		secs := uint32(us / 1_000_000)
		d.space.WriteDword(adr+0, EPOCH_DAYS+secs/86400)
		d.space.WriteDword(adr+4, secs%86400)
		d.space.WriteDword(adr+8, uint32(us%1_000_000))
	case CMD_WRITE:
		// No host clock to set.
	default:
		return -1
	}
	return 0
}
