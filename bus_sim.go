// bus_sim.go - Scripted V30 bus used for tests and hardwareless runs
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"fmt"
	"sync"
	"time"
)

// RESET_VECTOR is where the processor fetches after reset release.
const RESET_VECTOR = 0xFFFF0

// Supported bus clock rates in kHz, fastest first.
var SUPPORTED_FREQS = []uint32{8000, 4000, 1000, 750, 500, 250, 125, 50, 10, 1}

// DEFAULT_FREQ_KHZ is the rate a fresh bus comes up at.
const DEFAULT_FREQ_KHZ = 125

// ClockSource is the adjustable bus clock exposed to the monitor's
// frequency command.
type ClockSource interface {
	SetClockKHz(khz uint32) error
	ClockKHz() uint32
}

// Sim op kinds.
const (
	SIM_READ   = iota // latch, then read strobe
	SIM_WRITE         // latch, then write strobe
	SIM_RESYNC        // latch, then a second latch instead of a strobe
	SIM_HANG          // latch, then silence
)

// SimOp is one scripted bus transaction as the processor would issue
// it: the latched address phase plus the strobe that follows.
type SimOp struct {
	Kind int
	Addr uint32
	IO   bool
	BHE  bool   // byte-high-enable active
	Data uint16 // word presented on a write strobe
}

// SimFeed produces the i-th transaction of a run. last is the data
// word of the previous completed transaction (what the engine drove
// for a read, or what the script wrote), so a feed can react the way
// a polling program would. Returning ok=false leaves the bus quiet.
type SimFeed func(i int, last uint16) (SimOp, bool)

// Sim op phases.
const (
	simPhaseLatch = iota
	simPhaseStrobe
	simPhaseDone
)

// SimBus replays a transaction script against the engine, standing in
// for the processor side of the bus. All transitions happen inside the
// BusPort calls, so the engine's own polling paces the script; an
// optional clock rate adds a per-transaction delay to mimic a real bus
// clock. Reset assertion rewinds the script, like a processor
// restarting from its reset vector.
type SimBus struct {
	mu   sync.Mutex
	feed SimFeed

	cursor int
	phase  int
	op     SimOp
	opOK   bool

	last        uint16
	driven      []uint16
	drivenNow   bool
	writePolls  int
	strobePolls int

	resetHeld bool
	resets    []bool

	freqKHz uint32

	// Clock paces transactions and may be replaced before use.
	Clock Clock
}

// NewSimBus builds a bus that replays ops once per reset release.
func NewSimBus(ops ...SimOp) *SimBus {
	return NewSimStream(func(i int, last uint16) (SimOp, bool) {
		if i >= len(ops) {
			return SimOp{}, false
		}
		return ops[i], true
	})
}

// NewSimStream builds a bus fed by a generator, for unbounded or
// reactive traffic.
func NewSimStream(feed SimFeed) *SimBus {
	return &SimBus{
		feed:    feed,
		freqKHz: DEFAULT_FREQ_KHZ,
		Clock:   sysClock{},
	}
}

// FetchStream yields an endless run of aligned word reads starting at
// base, the way a processor blindly fetching code would look on the
// bus. It is the default traffic source when no script is loaded.
func FetchStream(base uint32) SimFeed {
	return func(i int, last uint16) (SimOp, bool) {
		return SimOp{Kind: SIM_READ, Addr: (base + uint32(2*i)) & 0xFFFFF, BHE: true}, true
	}
}

// current loads the op at the cursor, pulling from the feed on first
// touch. Caller holds mu.
func (s *SimBus) current() (SimOp, bool) {
	if s.phase == simPhaseDone {
		return SimOp{}, false
	}
	if !s.opOK {
		s.op, s.opOK = s.feed(s.cursor, s.last)
		if !s.opOK {
			s.phase = simPhaseDone
			return SimOp{}, false
		}
	}
	return s.op, true
}

// advance finishes the current op and lines up the next one. Caller
// holds mu.
func (s *SimBus) advance() {
	s.cursor++
	s.opOK = false
	s.phase = simPhaseLatch
	s.drivenNow = false
	s.writePolls = 0
	s.strobePolls = 0
	if s.freqKHz > 0 {
		s.Clock.Sleep(time.Duration(4_000_000/s.freqKHz) * time.Nanosecond)
	}
}

func (s *SimBus) LatchAsserted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetHeld {
		return false
	}
	op, ok := s.current()
	if !ok {
		return false
	}
	switch s.phase {
	case simPhaseLatch:
		return true
	case simPhaseStrobe:
		// Only reassert once the engine is polling strobes, so the
		// latch-deassert wait right after capture sees a clean low.
		if op.Kind == SIM_RESYNC && s.strobePolls > 0 {
			// The pulse that aborts this op is the next op's latch.
			s.advance()
			return true
		}
	}
	return false
}

func (s *SimBus) ReadAsserted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.current()
	if !ok || s.phase != simPhaseStrobe {
		return false
	}
	s.strobePolls++
	return op.Kind == SIM_READ && !s.drivenNow
}

func (s *SimBus) WriteAsserted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.current()
	if !ok || s.phase != simPhaseStrobe {
		return false
	}
	s.strobePolls++
	if op.Kind != SIM_WRITE {
		return false
	}
	// Assert for exactly one poll so the trailing edge follows at once.
	s.writePolls++
	return s.writePolls == 1
}

func (s *SimBus) CaptureAddress() (uint32, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, _ := s.current()
	s.phase = simPhaseStrobe
	return op.Addr, op.IO, op.BHE
}

func (s *SimBus) SampleData() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, _ := s.current()
	s.last = op.Data
	s.advance()
	return op.Data
}

func (s *SimBus) DriveData(val uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driven = append(s.driven, val)
	s.last = val
	s.drivenNow = true
}

func (s *SimBus) ReleaseData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drivenNow {
		s.advance()
	}
}

// SetReset records the reset line. Asserting rewinds the script so the
// next release replays from the beginning.
func (s *SimBus) SetReset(held bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, held)
	if held && !s.resetHeld {
		s.cursor = 0
		s.opOK = false
		s.phase = simPhaseLatch
		s.drivenNow = false
		s.writePolls = 0
		s.strobePolls = 0
		s.last = 0
	}
	s.resetHeld = held
}

// DrivenWords returns every word the engine has driven onto the bus,
// in order.
func (s *SimBus) DrivenWords() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, len(s.driven))
	copy(out, s.driven)
	return out
}

// ResetEvents returns the recorded reset line transitions.
func (s *SimBus) ResetEvents() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.resets))
	copy(out, s.resets)
	return out
}

// ResetHeld reports the current reset line level.
func (s *SimBus) ResetHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetHeld
}

// SetClockKHz selects one of the supported bus clock rates.
func (s *SimBus) SetClockKHz(khz uint32) error {
	for _, f := range SUPPORTED_FREQS {
		if f == khz {
			s.mu.Lock()
			s.freqKHz = khz
			s.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("unsupported bus clock %d kHz", khz)
}

// ClockKHz returns the active bus clock rate.
func (s *SimBus) ClockKHz() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqKHz
}
