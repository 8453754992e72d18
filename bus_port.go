package main

import "time"

// Reference bus timing. The engine treats a silent bus as a wedged CPU
// after these deadlines; the settle delay covers the gap between a read
// strobe appearing and the data bus being safe to drive.
const (
	LATCH_TIMEOUT  = 100 * time.Millisecond
	STROBE_TIMEOUT = 100 * time.Millisecond
	READ_SETTLE    = 3 * time.Microsecond
	RESET_HOLD     = 1 * time.Millisecond
)

// BusPort is the pin-level boundary between the transaction engine and
// the processor. The engine only ever polls control lines, captures the
// address phase, and samples or drives the data lines; everything
// electrical lives behind this interface. SimBus scripts transactions
// for tests and for running without hardware attached.
type BusPort interface {
	// LatchAsserted reports whether the address latch pulse is active.
	LatchAsserted() bool

	// ReadAsserted and WriteAsserted report the data strobes. The
	// physical lines are active-low; asserted means the processor is
	// driving the strobe.
	ReadAsserted() bool
	WriteAsserted() bool

	// CaptureAddress samples the multiplexed bus while the latch is
	// active: the 20-bit address, the IO/memory select (true for IO
	// space), and the byte-high-enable qualifier (true when the high
	// lane participates).
	CaptureAddress() (addr uint32, io bool, bhe bool)

	// SampleData reads the 16 data lines.
	SampleData() uint16

	// DriveData puts a word on the data lines and enables the output
	// drivers. ReleaseData returns the lines to inputs.
	DriveData(val uint16)
	ReleaseData()

	// SetReset drives the processor reset line. True holds the
	// processor in reset; false lets it run.
	SetReset(held bool)
}

// Clock abstracts time for the engine deadlines, the read settle delay
// and the calendar device. Tests substitute a stepped clock so timeout
// paths run without real waiting.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type sysClock struct{}

func (sysClock) Now() time.Time        { return time.Now() }
func (sysClock) Sleep(d time.Duration) { time.Sleep(d) }
