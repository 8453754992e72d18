// bus_engine.go - V30 bus transaction engine for Cradle86

/*
 ██████╗██████╗  █████╗ ██████╗ ██╗     ███████╗ █████╗  ██████╗
██╔════╝██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝██╔══██╗██╔════╝
██║     ██████╔╝███████║██║  ██║██║     █████╗  ╚█████╔╝███████╗
██║     ██╔══██╗██╔══██║██║  ██║██║     ██╔══╝  ██╔══██╗██╔══██║
╚██████╗██║  ██║██║  ██║██████╔╝███████╗███████╗╚█████╔╝╚██████╔╝
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚══════╝ ╚════╝  ╚═════╝

(c) 2025 - 2026 ikeji
https://github.com/ikeji/cradle86
License: GPLv3 or later
*/

/*
bus_engine.go - Bus transaction engine

This module services the multiplexed bus of an external V30/8086-class
processor one transaction at a time. The processor owns the address and
control lines; this side owns the memory array and the IO decode. Each
transaction starts with an address-latch pulse carrying a 20-bit address
plus the IO/memory select and byte-high-enable qualifiers, followed by
exactly one read or write strobe. Reads are answered from the backing
store (always as an aligned word, the processor picks its lanes); writes
are committed per the byte-lane rules of a 16-bit byte-addressable bus.

The engine is a polling state machine with two kinds of waits: bounded
deadline polls for the latch and strobe edges, after which the processor
is presumed wedged and the run ends, and unbounded bus-paced waits for
edge deassertion, which the processor is trusted to complete. A latch
pulse arriving while a strobe is still pending is a protocol violation;
the engine abandons the half-finished transaction and resynchronises on
the new pulse without ending the run.

Every serviced transaction can be recorded to the TraceLog under one of
four policies. Logging never changes bus behaviour: memory and IO side
effects are identical whether or not an entry is written.
*/

package main

import (
	"sync/atomic"
	"time"
)

// COM2_PORT is the IO address watched by the single-port log policy.
const COM2_PORT = 0x2F8

// LogPolicy selects which serviced transactions are appended to the
// trace log. The policy filters recording only; bus side effects are
// identical under every policy.
type LogPolicy int

const (
	LogNone LogPolicy = iota // record nothing
	LogFull                  // record every transaction
	LogIO                    // record IO-space transactions only
	LogPort                  // record IO transactions on the watch port only
)

func (p LogPolicy) String() string {
	switch p {
	case LogNone:
		return "No Log"
	case LogFull:
		return "Full Log"
	case LogIO:
		return "IO Log"
	case LogPort:
		return "COM2 Log"
	}
	return "Unknown"
}

// Logging reports whether the policy records anything at all. Runs with
// a recording policy stop when the trace log fills.
func (p LogPolicy) Logging() bool {
	return p != LogNone
}

// StopReason is why a run ended.
type StopReason int

const (
	StopNone     StopReason = iota
	StopOperator            // stop flag raised by the control side
	StopBudget              // transaction budget reached
	StopLogFull             // trace log reached capacity
	StopTimeout             // bus went silent past a deadline
)

func (r StopReason) String() string {
	switch r {
	case StopOperator:
		return "operator stop"
	case StopBudget:
		return "cycle budget reached"
	case StopLogFull:
		return "log full"
	case StopTimeout:
		return "bus timeout"
	}
	return "none"
}

// PortHandler decodes IO-space transactions the engine cannot answer
// from memory. In returns the value for a read of port and whether the
// handler claimed it; unclaimed IO reads float to 0xFFFF. Out observes
// a write of val to port.
type PortHandler interface {
	In(port uint16) (uint16, bool)
	Out(port uint16, val uint16)
}

// EngineContext bundles everything one engine run needs: the bus pins,
// the backing store, the trace log, the optional IO decode, and the
// timing knobs. The control side and the engine goroutine share it; the
// only field touched from both sides during a run is the stop flag.
type EngineContext struct {
	Port  BusPort
	Space *AddressSpace
	Trace *TraceLog
	IO    PortHandler

	Clock         Clock
	LatchTimeout  time.Duration
	StrobeTimeout time.Duration
	ReadSettle    time.Duration
	PollInterval  time.Duration

	// WatchPort is the IO address recorded under LogPort.
	WatchPort uint16

	// Logf receives engine diagnostics (timeout and resync notices).
	// Nil discards them.
	Logf func(format string, args ...any)

	stop atomic.Bool
}

// NewEngineContext wires an engine over port, space and trace with the
// reference timing.
func NewEngineContext(port BusPort, space *AddressSpace, trace *TraceLog) *EngineContext {
	return &EngineContext{
		Port:          port,
		Space:         space,
		Trace:         trace,
		Clock:         sysClock{},
		LatchTimeout:  LATCH_TIMEOUT,
		StrobeTimeout: STROBE_TIMEOUT,
		ReadSettle:    READ_SETTLE,
		WatchPort:     COM2_PORT,
	}
}

// RequestStop raises the cooperative stop flag. The engine observes it
// at the top of the next transaction, so an in-flight transaction still
// completes.
func (ec *EngineContext) RequestStop() {
	ec.stop.Store(true)
}

func (ec *EngineContext) clearStop() {
	ec.stop.Store(false)
}

func (ec *EngineContext) logf(format string, args ...any) {
	if ec.Logf != nil {
		ec.Logf(format, args...)
	}
}

func (ec *EngineContext) pause() {
	if ec.PollInterval > 0 {
		ec.Clock.Sleep(ec.PollInterval)
	}
}

// run services transactions until a stop condition fires. budget is the
// maximum number of completed transactions; zero or negative means
// unbounded (the operator stop flag or a bus timeout ends the run).
// Returns the number of transactions serviced and the terminal reason.
func (ec *EngineContext) run(policy LogPolicy, budget int) (int, StopReason) {
	cycles := 0
	logged := 0
	for {
		switch {
		case ec.stop.Load():
			return cycles, StopOperator
		case budget > 0 && cycles >= budget:
			return cycles, StopBudget
		case policy.Logging() && logged >= ec.Trace.Capacity():
			return cycles, StopLogFull
		}

		if !ec.waitLatch() {
			ec.logf("Bus operation timeout (no ale), halt cpu.\n")
			return cycles, StopTimeout
		}
		addr, isIO, bhe := ec.Port.CaptureAddress()

		// Address is stable once the latch pulse ends. Bus-paced, the
		// processor always completes the pulse.
		for ec.Port.LatchAsserted() {
			ec.pause()
		}

		entry, outcome := ec.awaitStrobe(addr, isIO, bhe)
		switch outcome {
		case strobeTimeout:
			return cycles, StopTimeout
		case strobeResync:
			// A fresh latch pulse pre-empted the strobe. The abandoned
			// transaction is neither counted nor logged.
			continue
		}

		if policyMatches(policy, isIO, addr, ec.WatchPort) {
			ec.Trace.Append(entry)
			logged++
		}
		cycles++
	}
}

// waitLatch polls for the address-latch pulse until LatchTimeout.
func (ec *EngineContext) waitLatch() bool {
	deadline := ec.Clock.Now().Add(ec.LatchTimeout)
	for {
		if ec.Port.LatchAsserted() {
			return true
		}
		if ec.Clock.Now().After(deadline) {
			return false
		}
		ec.pause()
	}
}

// strobeOutcome is the result of waiting for a transaction's strobe.
type strobeOutcome int

const (
	strobeServed  strobeOutcome = iota // transaction completed, entry valid
	strobeTimeout                      // strobe deadline expired
	strobeResync                       // latch reasserted first, transaction abandoned
)

// awaitStrobe waits for the read or write strobe of the captured
// transaction and services it. The entry is meaningful only for
// strobeServed.
func (ec *EngineContext) awaitStrobe(addr uint32, isIO bool, bhe bool) (TraceEntry, strobeOutcome) {
	deadline := ec.Clock.Now().Add(ec.StrobeTimeout)
	for {
		if ec.Clock.Now().After(deadline) {
			ec.logf("Bus operation timeout (no RD/WR detected low), breaking cycle.\n")
			return TraceEntry{}, strobeTimeout
		}
		switch {
		case ec.Port.ReadAsserted():
			data := ec.serviceRead(addr, isIO)
			return ec.classify(addr, data, isIO, false, bhe), strobeServed
		case ec.Port.WriteAsserted():
			data := ec.serviceWrite(addr, isIO, bhe)
			return ec.classify(addr, data, isIO, true, bhe), strobeServed
		case ec.Port.LatchAsserted():
			ec.logf("ALE detected high unexpectedly during RD/WR wait, breaking current bus operation.\n")
			return TraceEntry{}, strobeResync
		}
		ec.pause()
	}
}

// serviceRead answers a read strobe: settle, resolve the word, drive it
// until the strobe deasserts, release the bus. Memory reads are always
// the aligned word at the even address; the processor selects its own
// lanes. IO reads go to the port handler, or float high without one.
func (ec *EngineContext) serviceRead(addr uint32, isIO bool) uint16 {
	ec.Clock.Sleep(ec.ReadSettle)
	data := uint16(0xFFFF)
	if !isIO {
		data = ec.Space.ReadWord(addr &^ 1)
	} else if ec.IO != nil {
		if v, ok := ec.IO.In(uint16(addr)); ok {
			data = v
		}
	}
	ec.Port.DriveData(data)
	for ec.Port.ReadAsserted() {
		ec.pause()
	}
	ec.Port.ReleaseData()
	return data
}

// serviceWrite latches a write at the strobe's trailing edge and
// commits it per the byte-lane rules.
func (ec *EngineContext) serviceWrite(addr uint32, isIO bool, bhe bool) uint16 {
	for ec.Port.WriteAsserted() {
		ec.pause()
	}
	data := ec.Port.SampleData()
	if isIO {
		if ec.IO != nil {
			ec.IO.Out(uint16(addr), data)
		}
		return data
	}
	lo := addr&1 == 0
	switch {
	case bhe && lo:
		ec.Space.WriteWord(addr, data)
	case bhe && !lo:
		ec.Space.WriteByte(addr, byte(data>>8))
	case !bhe && lo:
		ec.Space.WriteByte(addr, byte(data))
	default:
		// Neither lane enabled: the strobe commits nothing.
	}
	return data
}

func (ec *EngineContext) classify(addr uint32, data uint16, isIO bool, write bool, bhe bool) TraceEntry {
	var kind byte
	switch {
	case isIO && write:
		kind = LOG_IO_WR
	case isIO:
		kind = LOG_IO_RD
	case write:
		kind = LOG_MEM_WR
	default:
		kind = LOG_MEM_RD
	}
	var ctrl byte
	if bhe {
		ctrl |= CTRL_BHE
	}
	return TraceEntry{Address: addr, Data: data, Kind: kind, Ctrl: ctrl}
}

func policyMatches(policy LogPolicy, isIO bool, addr uint32, watch uint16) bool {
	switch policy {
	case LogFull:
		return true
	case LogIO:
		return isIO
	case LogPort:
		return isIO && addr == uint32(watch)
	}
	return false
}
