package main

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

// newTestMonitor wires a shell over a scripted bus with the virtual
// clock, feeding it a whole command session up front. Sessions must
// end with "q\n" so Run returns.
func newTestMonitor(t *testing.T, sim *SimBus, input string) (*Monitor, *BufferConsole) {
	t.Helper()
	ec := newTestEngine(t, sim)
	rc := NewRunController(ec)
	con := NewBufferConsole()
	con.FeedString(input)
	return NewMonitor(con, rc, sim, testDiskImage(4096), ""), con
}

func runSession(t *testing.T, sim *SimBus, input string) string {
	t.Helper()
	m, con := newTestMonitor(t, sim, input)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("session never quit; output so far:\n%s", con.OutputString())
	}
	return con.OutputString()
}

func TestMonitorBannerHelpVersion(t *testing.T) {
	out := runSession(t, NewSimBus(), "?\nv\nq\n")
	for _, want := range []string{
		"=== V30 Monitor v0.0.1 ===",
		"Type '?' for help.",
		"Dump memory",
		"XMODEM Recv/Send RAM",
		"Ver: 0.0.1, RAM: 128KB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestMonitorEditAndDump(t *testing.T) {
	out := runSession(t, NewSimBus(), "e 100 41 42 43\nd 100 3\nq\n")
	if !strings.Contains(out, "Updated.") {
		t.Error("edit confirmation missing")
	}
	if !strings.Contains(out, "00100: 41 42 43") || !strings.Contains(out, "|ABC|") {
		t.Errorf("dump row missing:\n%s", out)
	}
}

func TestMonitorFill(t *testing.T) {
	out := runSession(t, NewSimBus(), "f aa\nd 0 1\nq\n")
	if !strings.Contains(out, "Memory filled with 0xAA.") {
		t.Error("fill confirmation missing")
	}
	if !strings.Contains(out, "00000: AA") {
		t.Errorf("filled byte not visible in dump:\n%s", out)
	}
}

func TestMonitorAssembleThenDisassemble(t *testing.T) {
	out := runSession(t, NewSimBus(), "a 100\nmov ax, 1234\nnop\n.\nl 100 4\nq\n")
	if !strings.Contains(out, " -> B8 34 12") || !strings.Contains(out, " -> 90") {
		t.Errorf("assembler echo missing:\n%s", out)
	}
	if !strings.Contains(out, "mov ax, 0x1234") || !strings.Contains(out, "00103: 90           nop") {
		t.Errorf("listing missing:\n%s", out)
	}
}

func TestMonitorAssembleRejectsGarbage(t *testing.T) {
	out := runSession(t, NewSimBus(), "a 100\nfrobnicate\n.\nq\n")
	if !strings.Contains(out, "Error: Unknown instruction or invalid operands.") {
		t.Errorf("assembler error missing:\n%s", out)
	}
}

func TestMonitorFiniteLoggedRun(t *testing.T) {
	sim := NewSimBus(
		SimOp{Kind: SIM_READ, Addr: 0x00000, BHE: true},
		SimOp{Kind: SIM_READ, Addr: 0x00002, BHE: true},
		SimOp{Kind: SIM_WRITE, Addr: 0x00200, BHE: true, Data: 0x1111},
		SimOp{Kind: SIM_WRITE, Addr: 0x00202, BHE: true, Data: 0x2222},
		SimOp{Kind: SIM_READ, Addr: 0x00200, BHE: true},
	)
	out := runSession(t, sim, "r 5\nq\n")
	if !strings.Contains(out, "Running V30 (Logging 5 cycles)...") {
		t.Errorf("run banner missing:\n%s", out)
	}
	if !strings.Contains(out, "--- Log (5 bus cycles executed") {
		t.Errorf("run summary missing:\n%s", out)
	}
	if !strings.Contains(out, "ADDR  |B|TY|DATA") {
		t.Error("trace table header missing")
	}
	// The two writes and the read-back land in bus order.
	w1 := strings.Index(out, "00200|B|WR|1111")
	w2 := strings.Index(out, "00202|B|WR|2222")
	rd := strings.Index(out, "00200|B|RD|1111")
	if w1 < 0 || w2 < 0 || rd < 0 || !(w1 < w2 && w2 < rd) {
		t.Errorf("trace rows wrong or out of order (%d, %d, %d):\n%s", w1, w2, rd, out)
	}
}

func TestMonitorRunClampsOversizeBudget(t *testing.T) {
	out := runSession(t, NewSimBus(), "r 999999\nq\n")
	if !strings.Contains(out, "Invalid cycle count (999999). Using default 4000.") {
		t.Errorf("clamp diagnostic missing:\n%s", out)
	}
}

func TestMonitorIORunHeader(t *testing.T) {
	sim := NewSimBus(
		SimOp{Kind: SIM_READ, Addr: 0x00000, BHE: true},
		SimOp{Kind: SIM_WRITE, Addr: COM2_PORT, IO: true, BHE: false, Data: 0x41},
	)
	out := runSession(t, sim, "i 2\nq\n")
	if !strings.Contains(out, "Running V30 (Logging IO 2 cycles)...") {
		t.Errorf("IO run banner missing:\n%s", out)
	}
	if !strings.Contains(out, "--- IO Log (2 bus cycles executed") {
		t.Errorf("IO summary missing:\n%s", out)
	}
	if strings.Contains(out, "|RD|") {
		t.Error("memory read leaked into an IO-only log")
	}
	if !strings.Contains(out, "002F8|-|IW|0041") {
		t.Errorf("IO write row missing:\n%s", out)
	}
}

func TestMonitorKeyStopsUnloggedRun(t *testing.T) {
	sim := NewSimStream(FetchStream(0))
	out := runSession(t, sim, "g\nxq\n")
	if !strings.Contains(out, "Running V30 (No Log). Press any key to stop...") {
		t.Errorf("go banner missing:\n%s", out)
	}
	if !strings.Contains(out, "Stopped. Ran ") {
		t.Errorf("stop summary missing:\n%s", out)
	}
}

func TestMonitorClockCommand(t *testing.T) {
	out := runSession(t, NewSimBus(), "c\nc 500\nc\nc 123\nq\n")
	if !strings.Contains(out, "Available frequencies (kHz): 8000 4000 1000 750 500 250 125 50 10 1") {
		t.Errorf("frequency table missing:\n%s", out)
	}
	if !strings.Contains(out, "Current: 125 kHz") {
		t.Errorf("default rate missing:\n%s", out)
	}
	if !strings.Contains(out, "Clock set to 500000 Hz") || !strings.Contains(out, "Current: 500 kHz") {
		t.Errorf("rate change not applied:\n%s", out)
	}
	if !strings.Contains(out, "Error: Unsupported frequency.") {
		t.Errorf("bad rate accepted:\n%s", out)
	}
}

func TestMonitorSendLogWithoutData(t *testing.T) {
	out := runSession(t, NewSimBus(), "xl\nq\n")
	if !strings.Contains(out, "No log data to send.") {
		t.Errorf("empty-log status missing:\n%s", out)
	}
}

func TestMonitorUnknownCommand(t *testing.T) {
	out := runSession(t, NewSimBus(), "zap\nq\n")
	if !strings.Contains(out, "Unknown command: zap") {
		t.Errorf("unknown-command line missing:\n%s", out)
	}
}

func TestMonitorBackspaceEditsLine(t *testing.T) {
	// "vv" then backspace leaves "v".
	out := runSession(t, NewSimBus(), "vv\x7f\nq\n")
	if !strings.Contains(out, "Ver: 0.0.1") {
		t.Errorf("backspace did not correct the line:\n%s", out)
	}
}

// testPeer drives the operator side of a monitor session byte by byte,
// skipping echo and status text while scanning for protocol bytes.
type testPeer struct {
	t   *testing.T
	con Console
}

func (p testPeer) next() (byte, bool) {
	return p.con.ReadByte(2 * time.Second)
}

func (p testPeer) waitFor(want byte) {
	p.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if b, ok := p.next(); ok && b == want {
			return
		}
	}
	p.t.Fatalf("peer: byte %02X never arrived", want)
}

func (p testPeer) sendPacket(seq byte, data []byte) {
	p.t.Helper()
	var buf [XMODEM_DATA_LEN]byte
	for i := range buf {
		buf[i] = XMODEM_PAD
	}
	copy(buf[:], data)
	crc := crc16CCITT(buf[:])
	pkt := append([]byte{XMODEM_SOH, seq, ^seq}, buf[:]...)
	pkt = append(pkt, byte(crc>>8), byte(crc))
	p.con.Write(pkt)
}

// receiveTransfer plays the receiving peer: announce, collect packets,
// acknowledge the end marker.
func (p testPeer) receiveTransfer() []byte {
	p.t.Helper()
	var data []byte
	seq := byte(1)
	deadline := time.Now().Add(30 * time.Second)
	announced := time.Now()
	p.con.Write([]byte{XMODEM_START})
	for time.Now().Before(deadline) {
		b, ok := p.next()
		if !ok {
			// The sender may still be waiting for our start char (an
			// earlier one can be swallowed by the monitor's input
			// drain between transfers).
			if time.Since(announced) > 300*time.Millisecond {
				p.con.Write([]byte{XMODEM_START})
				announced = time.Now()
			}
			continue
		}
		switch b {
		case XMODEM_SOH:
			pkt := make([]byte, 2+XMODEM_DATA_LEN+2)
			for i := range pkt {
				pb, ok := p.next()
				if !ok {
					p.t.Fatal("peer: packet truncated")
				}
				pkt[i] = pb
			}
			if pkt[0] != seq || pkt[1] != ^seq {
				p.t.Fatalf("peer: packet seq = %02X/%02X, want %02X", pkt[0], pkt[1], seq)
			}
			body := pkt[2 : 2+XMODEM_DATA_LEN]
			if crc16CCITT(body) != uint16(pkt[130])<<8|uint16(pkt[131]) {
				p.t.Fatal("peer: CRC mismatch")
			}
			data = append(data, body...)
			seq++
			p.con.Write([]byte{XMODEM_ACK})
		case XMODEM_EOT:
			p.con.Write([]byte{XMODEM_ACK})
			return data
		}
	}
	p.t.Fatal("peer: transfer never completed")
	return nil
}

// Full self-test session: the operator side feeds a test binary over
// XMODEM, the engine replays its scripted traffic, and the logged
// transactions come back over XMODEM as packed records.
func TestMonitorAutotestEndToEnd(t *testing.T) {
	sim := NewSimBus(
		SimOp{Kind: SIM_READ, Addr: 0x00000, BHE: true},
		SimOp{Kind: SIM_WRITE, Addr: 0x00200, BHE: true, Data: 0xBEEF},
		SimOp{Kind: SIM_WRITE, Addr: COM2_PORT, IO: true, BHE: false, Data: 0x41},
	)
	opSide, monSide := consolePipe()
	ec := newTestEngine(t, sim)
	rc := NewRunController(ec)
	m := NewMonitor(monSide, rc, sim, testDiskImage(4096), "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run()
	}()

	peer := testPeer{t, opSide}
	opSide.Write([]byte("autotest\n"))

	// Feed the test binary: one packet of NOPs.
	program := make([]byte, XMODEM_DATA_LEN)
	for i := range program {
		program[i] = 0x90
	}
	peer.waitFor(XMODEM_START)
	peer.sendPacket(1, program)
	peer.waitFor(XMODEM_ACK)
	opSide.Write([]byte{XMODEM_EOT})
	peer.waitFor(XMODEM_ACK)

	// Collect the trace the monitor sends back.
	raw := peer.receiveTransfer()
	opSide.Write([]byte("q\n"))
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor never quit")
	}

	if len(raw) < 3*TRACE_ENTRY_SIZE {
		t.Fatalf("log transfer too short: %d bytes", len(raw))
	}
	// The program landed in RAM before the run.
	if got := ec.Space.ReadByte(0); got != 0x90 {
		t.Fatalf("mem[0] = %02X, want the received program", got)
	}
	type rec struct {
		addr uint32
		data uint16
		kind byte
		ctrl byte
	}
	want := []rec{
		{0x00000, 0x9090, LOG_MEM_RD, CTRL_BHE},
		{0x00200, 0xBEEF, LOG_MEM_WR, CTRL_BHE},
		{COM2_PORT, 0x0041, LOG_IO_WR, 0},
	}
	for i, w := range want {
		off := i * TRACE_ENTRY_SIZE
		got := rec{
			addr: binary.LittleEndian.Uint32(raw[off:]),
			data: binary.LittleEndian.Uint16(raw[off+4:]),
			kind: raw[off+6],
			ctrl: raw[off+7],
		}
		if got != w {
			t.Errorf("record %d = %+v, want %+v", i, got, w)
		}
	}
}

// Hosted HIDOS session: the simulated processor raises one disk
// media-change call through the mailbox, polls until the host has
// consumed it, then goes quiet; the session ends on the bus timeout.
func TestMonitorHidosSession(t *testing.T) {
	feed := func(i int, last uint16) (SimOp, bool) {
		switch {
		case i == 0:
			return SimOp{Kind: SIM_WRITE, Addr: HIDOS_TRIGGER_PORT, IO: true, BHE: false, Data: 0x100}, true
		case i > 1 && last == 0:
			// The status port read 0: the call is done.
			return SimOp{}, false
		default:
			return SimOp{Kind: SIM_READ, Addr: HIDOS_STATUS_PORT, IO: true, BHE: false}, true
		}
	}
	sim := NewSimStream(feed)
	m, con := newTestMonitor(t, sim, "h\nq\n")
	addr := writeCallBlock(m.space, 0x100, DEV_DISK, 0, CMD_MEDIA, 0, 0, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("session never quit; output:\n%s", con.OutputString())
	}

	out := con.OutputString()
	if !strings.Contains(out, "Start embedded HIDOS machine") {
		t.Errorf("session banner missing:\n%s", out)
	}
	if !strings.Contains(out, "HIDOS stopped (bus timeout).") {
		t.Errorf("session end line missing:\n%s", out)
	}
	if got := m.space.ReadWord(addr + IOBUF); got != 1 {
		t.Fatalf("media-change status = %d, want 1", got)
	}
}
