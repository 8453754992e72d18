// hidos_dispatch.go - HIDOS service-call dispatcher
//
// The hosted operating system running on the V30 requests host services
// through a mailbox: it writes a paragraph number to the trigger port
// and polls the status port until the host has consumed the call block
// that paragraph points at.
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Service-call mailbox ports.
const (
	HIDOS_TRIGGER_PORT = 0x86 // out: paragraph of the call block, raises pending
	HIDOS_STATUS_PORT  = 0x88 // in: 1 while a call is pending, 0 when done
)

// Call block field offsets from the paragraph base.
const (
	IODEV = 0  // device word, two ASCII chars
	IOIDX = 2  // unit index
	IOCMD = 4  // command word, two ASCII chars
	IOBUF = 6  // dword: small argument or result status
	IOADR = 10 // dword: memory address argument
	IOSIZ = 14 // dword: length argument
)

// Dispatcher log levels; messages print when loglevel is below the
// threshold they carry.
const (
	HIDOS_LOG_FINE  = 0
	HIDOS_LOG_INFO  = 1
	HIDOS_LOG_ERROR = 2
)

// HidosDispatcher consumes service calls raised over the mailbox
// ports. It implements PortHandler for the engine side (the producer)
// and runs its consumer loop on its own goroutine, so a call raised by
// one bus transaction is handled while the V30 spins on the status
// port. The mailbox is strictly single-slot: the V30 never raises a
// second call before the first completes.
type HidosDispatcher struct {
	space *AddressSpace
	disk  []byte
	con   Console
	clock Clock
	start time.Time

	pending atomic.Bool
	value   atomic.Uint32

	loglevel uint8

	// Console device state across calls.
	conLast uint16
	conWait int

	stopCh  chan struct{}
	done    chan struct{}
	stopped sync.Once
}

// NewHidosDispatcher wires a dispatcher over the memory space, the
// read-only disk image and the operator console.
func NewHidosDispatcher(space *AddressSpace, disk []byte, con Console) *HidosDispatcher {
	clock := sysClock{}
	return &HidosDispatcher{
		space:    space,
		disk:     disk,
		con:      con,
		clock:    clock,
		start:    clock.Now(),
		loglevel: 9,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetLogLevel selects dispatcher verbosity; FINE and below prints each
// call as it is consumed.
func (d *HidosDispatcher) SetLogLevel(level uint8) {
	d.loglevel = level
}

// In answers engine reads of the status port: 1 while a call waits.
func (d *HidosDispatcher) In(port uint16) (uint16, bool) {
	if port != HIDOS_STATUS_PORT {
		return 0, false
	}
	if d.pending.Load() {
		return 1, true
	}
	return 0, true
}

// Out observes engine writes. A write to the trigger port publishes
// the paragraph and then raises the pending flag, in that order, so
// the consumer always sees a published value once it sees the flag.
func (d *HidosDispatcher) Out(port uint16, val uint16) {
	if port != HIDOS_TRIGGER_PORT {
		return
	}
	d.value.Store(uint32(val))
	d.pending.Store(true)
}

// ServeOne consumes a single pending call, if any.
func (d *HidosDispatcher) ServeOne() bool {
	if !d.pending.Load() {
		return false
	}
	d.Dispatch(uint16(d.value.Load()))
	d.pending.Store(false)
	return true
}

// Start launches the consumer loop.
func (d *HidosDispatcher) Start() {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-d.stopCh:
				return
			default:
			}
			if !d.ServeOne() {
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()
}

// Stop ends the consumer loop and waits for it to exit.
func (d *HidosDispatcher) Stop() {
	d.stopped.Do(func() {
		close(d.stopCh)
	})
	<-d.done
}

// Dispatch decodes and executes the call block at paragraph. Every
// outcome is reported into the block's result field or as a console
// diagnostic; a bad call never stops the consumer loop.
func (d *HidosDispatcher) Dispatch(paragraph uint16) {
	addr := uint32(paragraph) << 4

	dev := d.space.ReadWord(addr + IODEV)
	idx := d.space.ReadWord(addr + IOIDX)
	cmd := d.space.ReadWord(addr + IOCMD)
	if d.loglevel < HIDOS_LOG_INFO {
		fmt.Fprintf(d.con, "HIDOS: pos=%x %c%c %d %c%c\n",
			addr, dev>>8, dev&0xFF, idx, cmd>>8, cmd&0xFF)
	}

	ret := -1
	switch dev {
	case DEV_INIT:
		ret = d.ioInit(addr, idx, cmd)
	case DEV_DISK:
		ret = d.ioDisk(addr, idx, cmd)
	case DEV_CON:
		ret = d.ioCon(addr, idx, cmd)
	case DEV_AUX:
		ret = d.ioAux(addr, idx, cmd)
	case DEV_CLOCK:
		ret = d.ioClock(addr, idx, cmd)
	case DEV_PRINTER:
		ret = d.ioPrinter(addr, idx, cmd)
	}

	if ret != 0 && ret != -2 {
		// The caller polls the block, not the console, so a failure
		// status lands in IOBUF as well.
		d.space.WriteWord(addr+IOBUF, 0)
		fmt.Fprintf(d.con, "vmio error: ret=%d dev=0x%04X idx=%x cmd=0x%04X\n",
			ret, dev, idx, cmd)
	}
}
