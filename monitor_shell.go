// monitor_shell.go - Interactive V30 monitor shell for Cradle86

/*
monitor_shell.go - Monitor command shell

The operator's surface: a line-edited command loop over the console
stream. Commands inspect and edit the memory space, assemble and
disassemble the monitor's instruction subset, start engine runs under
the different logging policies, move RAM and trace data over XMODEM,
and host the embedded HIDOS session. The shell owns no bus state of
its own; everything goes through the run controller and the shared
space/trace pair.

(c) 2025 - 2026 ikeji
https://github.com/ikeji/cradle86
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VERSION is the monitor's reported version.
const VERSION = "0.0.1"

// keyPollInterval paces the stop-key poll during infinite runs and
// the blocking byte reads of the line editor.
const keyPollInterval = 10 * time.Millisecond

// Monitor is the interactive command shell.
type Monitor struct {
	con      Console
	space    *AddressSpace
	trace    *TraceLog
	rc       *RunController
	clockSrc ClockSource // nil when the bus clock is not adjustable
	disk     []byte
	bootPath string

	quit bool
}

// NewMonitor wires a shell over an engine's run controller. disk backs
// the hosted session's disk device; bootPath is the default image for
// the k and h commands.
func NewMonitor(con Console, rc *RunController, clockSrc ClockSource, disk []byte, bootPath string) *Monitor {
	ec := rc.Engine()
	return &Monitor{
		con:      con,
		space:    ec.Space,
		trace:    ec.Trace,
		rc:       rc,
		clockSrc: clockSrc,
		disk:     disk,
		bootPath: bootPath,
	}
}

func (m *Monitor) printf(format string, args ...any) {
	fmt.Fprintf(m.con, format, args...)
}

// readKey blocks until a byte arrives.
func (m *Monitor) readKey() byte {
	for {
		if b, ok := m.con.ReadByte(keyPollInterval); ok {
			return b
		}
	}
}

// readLine runs the line editor: echo, backspace, CR or LF ends the
// line, non-printable bytes are dropped.
func (m *Monitor) readLine() string {
	var line []byte
	for len(line) < 127 {
		b := m.readKey()
		switch {
		case b == '\r' || b == '\n':
			m.printf("\n")
			return string(line)
		case b == 0x08 || b == 0x7F:
			if len(line) > 0 {
				line = line[:len(line)-1]
				m.printf("\b \b")
			}
		case b >= 0x20 && b < 0x7F:
			line = append(line, b)
			m.con.Write([]byte{b})
		}
	}
	return string(line)
}

// Run is the monitor main loop. It returns when the operator quits.
func (m *Monitor) Run() {
	m.printf("\n\n=== V30 Monitor v%s ===\nType '?' for help.\n", VERSION)
	for !m.quit {
		m.printf("mon> ")
		line := m.readLine()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, args, _ := strings.Cut(strings.TrimSpace(line), " ")
		m.dispatch(cmd, strings.TrimSpace(args))
	}
}

func (m *Monitor) dispatch(cmd, args string) {
	switch cmd {
	case "?":
		m.cmdHelp()
	case "d":
		m.cmdDump(args)
	case "e":
		m.cmdEdit(args)
	case "f":
		m.cmdFill(args)
	case "a":
		m.cmdAssemble(args)
	case "l":
		m.cmdDisasm(args)
	case "r":
		m.cmdRun(LogFull, "Log", "", args)
	case "i":
		m.cmdRun(LogIO, "IO Log", " IO", args)
	case "g":
		m.cmdGo()
	case "c":
		m.cmdClock(args)
	case "xr":
		m.cmdReceiveRAM()
	case "xs":
		m.cmdSendRAM()
	case "xl":
		m.cmdSendLog()
	case "v":
		m.printf("Ver: %s, RAM: %dKB\n", VERSION, m.space.Size()/1024)
	case "autotest":
		m.cmdAutotest(args)
	case "k":
		m.cmdLoadBoot(args)
	case "h":
		m.cmdHidos(args)
	case "q":
		m.quit = true
	default:
		m.printf("Unknown command: %s\n", cmd)
	}
}

func (m *Monitor) cmdHelp() {
	m.printf(" d <addr> [len] : Dump memory\n")
	m.printf(" e <addr> <val> : Edit memory\n")
	m.printf(" f [val]        : Fill memory with byte (default F4)\n")
	m.printf(" a <addr>       : Assemble interactively\n")
	m.printf(" l <addr> [len] : Disassemble\n")
	m.printf(" r [cycles]     : Run & Log for specified cycles (0 or omit for infinite)\n")
	m.printf(" i [cycles]     : Run & Log IO only for specified cycles (0 or omit for infinite)\n")
	m.printf(" g              : Run Loop (Key stop)\n")
	m.printf(" c <kHz>        : Set V30 clock speed\n")
	m.printf(" xr/xs          : XMODEM Recv/Send RAM\n")
	m.printf(" xl             : XMODEM Send Log\n")
	m.printf(" v              : Version\n")
	m.printf(" autotest [io]  : Full auto test (Rx -> Run -> Tx Log)\n")
	m.printf(" k [file]       : Load boot image into RAM\n")
	m.printf(" h [loglevel]   : Start hidos vm\n")
	m.printf(" q              : Quit monitor\n")
}

func (m *Monitor) cmdDump(args string) {
	fields := strings.Fields(args)
	var addr uint32
	length := 256
	if len(fields) > 0 {
		addr, _ = parseNum(fields[0])
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			length = n
		}
	}
	for i := 0; i < length; i += 16 {
		m.printf("%05X: ", addr+uint32(i))
		for j := 0; j < 16; j++ {
			if i+j < length {
				m.printf("%02X ", m.space.ReadByte(addr+uint32(i+j)))
			} else {
				m.printf("   ")
			}
		}
		m.printf("|")
		for j := 0; j < 16; j++ {
			if i+j >= length {
				break
			}
			b := m.space.ReadByte(addr + uint32(i+j))
			if b < 0x20 || b >= 0x7F {
				b = '.'
			}
			m.con.Write([]byte{b})
		}
		m.printf("|\n")
	}
}

func (m *Monitor) cmdEdit(args string) {
	fields := strings.Fields(args)
	if len(fields) < 1 {
		m.printf("Usage: e <addr> <val> ...\n")
		return
	}
	addr, ok := parseNum(fields[0])
	if !ok {
		m.printf("Usage: e <addr> <val> ...\n")
		return
	}
	for _, f := range fields[1:] {
		v, _ := parseNum(f)
		m.space.WriteByte(addr, byte(v))
		addr++
	}
	m.printf("Updated.\n")
}

func (m *Monitor) cmdFill(args string) {
	val := byte(FILL_HALT)
	if args != "" {
		if v, ok := parseNum(args); ok {
			val = byte(v)
		}
	}
	m.space.Fill(val)
	m.printf("Memory filled with 0x%02X.\n", val)
}

func (m *Monitor) cmdAssemble(args string) {
	addrStr := strings.Fields(args)
	if len(addrStr) == 0 {
		m.printf("Usage: a <addr>\n")
		return
	}
	addr, ok := parseNum(addrStr[0])
	if !ok {
		m.printf("Usage: a <addr>\n")
		return
	}
	for {
		m.printf("%05X: ", addr)
		line := m.readLine()
		if line == "." {
			return
		}
		if line == "" {
			continue
		}
		n := AssembleLine(m.space, addr, line)
		if n == 0 {
			m.printf("Error: Unknown instruction or invalid operands.\n")
			continue
		}
		m.printf(" ->")
		for i := 0; i < n; i++ {
			m.printf(" %02X", m.space.ReadByte(addr+uint32(i)))
		}
		m.printf("\n")
		addr += uint32(n)
	}
}

func (m *Monitor) cmdDisasm(args string) {
	fields := strings.Fields(args)
	var addr uint32
	length := 16
	if len(fields) > 0 {
		addr, _ = parseNum(fields[0])
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			length = n
		}
	}
	for _, line := range DisassembleRange(m.space, addr, length) {
		m.printf("%s\n", line)
	}
}

// cmdRun handles the r and i commands: a logging run for a finite
// budget, or an infinite one stopped by a keypress.
func (m *Monitor) cmdRun(policy LogPolicy, header, tag, args string) {
	budget := 0
	if args != "" {
		budget, _ = strconv.Atoi(args)
	}
	maxCycles := m.trace.Capacity()
	switch {
	case budget == 0:
		m.printf("Running V30 (Logging%s, Infinite cycles). Press any key to stop...\n", tag)
	case budget < 0 || budget > maxCycles:
		m.printf("Invalid cycle count (%d). Using default %d.\n", budget, maxCycles)
		budget = maxCycles
		m.printf("Running V30 (Logging%s %d cycles)...\n", tag, budget)
	default:
		m.printf("Running V30 (Logging%s %d cycles)...\n", tag, budget)
	}

	var res RunResult
	if budget == 0 {
		res = m.runUntilKey(policy)
	} else {
		res = m.rc.Run(policy, budget)
	}

	m.printf("--- %s (%d bus cycles executed, %d us) ---\n", header, res.Cycles, res.Elapsed.Microseconds())
	m.printTrace()
}

func (m *Monitor) cmdGo() {
	m.printf("Running V30 (No Log). Press any key to stop...\n")
	res := m.runUntilKey(LogNone)
	m.printf("Stopped. Ran %d cycles in %d us.\n", res.Cycles, res.Elapsed.Microseconds())
}

// runUntilKey starts a budgetless run and stops it on the first
// keypress, or returns when the run ends on its own.
func (m *Monitor) runUntilKey(policy LogPolicy) RunResult {
	m.rc.Start(policy, 0)
	for m.rc.Active() {
		if _, ok := m.con.ReadByte(keyPollInterval); ok {
			m.rc.RequestStop()
			break
		}
	}
	return m.rc.Wait()
}

func (m *Monitor) printTrace() {
	m.printf("ADDR  |B|TY|DATA\n")
	n := m.trace.ValidCount()
	for i := 0; i < n; i++ {
		m.printf("%s\n", m.trace.Entry(i))
	}
}

func (m *Monitor) cmdClock(args string) {
	if m.clockSrc == nil {
		m.printf("Error: Bus clock is not adjustable.\n")
		return
	}
	if args == "" {
		m.printf("Available frequencies (kHz):")
		for _, f := range SUPPORTED_FREQS {
			m.printf(" %d", f)
		}
		m.printf("\nCurrent: %d kHz\n", m.clockSrc.ClockKHz())
		return
	}
	khz, err := strconv.Atoi(args)
	if err != nil || m.clockSrc.SetClockKHz(uint32(khz)) != nil {
		m.printf("Error: Unsupported frequency. Use 'c' to list available options.\n")
		return
	}
	m.printf("Clock set to %d Hz\n", khz*1000)
}

func (m *Monitor) cmdReceiveRAM() {
	buf := make([]byte, m.space.Size())
	n, ok := NewXmodem(m.con).Receive(buf)
	if !ok {
		m.printf("XMODEM receive failed.\n")
		return
	}
	m.space.Load(0, buf[:n])
	m.printf("XMODEM receive completed successfully.\n")
}

func (m *Monitor) cmdSendRAM() {
	if NewXmodem(m.con).Send(m.space.Snapshot()) {
		m.printf("XMODEM send completed successfully.\n")
	} else {
		m.printf("XMODEM send failed.\n")
	}
}

func (m *Monitor) cmdSendLog() {
	n := m.trace.ValidCount()
	if n == 0 {
		m.printf("No log data to send.\n")
		return
	}
	m.printf("Sending %d valid log entries (%d bytes)...\n", n, n*TRACE_ENTRY_SIZE)
	if !NewXmodem(m.con).Send(m.trace.Pack()) {
		m.printf("Log send failed.\n")
	}
}

// cmdAutotest is the end-to-end self-test: receive a program, run it
// under the requested logging policy until the bus goes quiet, send
// the log back.
func (m *Monitor) cmdAutotest(args string) {
	policy := LogFull
	switch args {
	case "io":
		policy = LogIO
		m.printf("[AUTOTEST] Mode: I/O Log\n")
	case "com2":
		policy = LogPort
		m.printf("[AUTOTEST] Mode: COM Log\n")
	default:
		m.printf("[AUTOTEST] Mode: Full Log\n")
	}

	m.printf("[AUTOTEST] Receiving test binary...\n")
	buf := make([]byte, m.space.Size())
	n, ok := NewXmodem(m.con).Receive(buf)
	if !ok {
		m.printf("[AUTOTEST] Aborting: Failed to receive test binary.\n")
		m.printf("[AUTOTEST] Handler finished. Returning to main loop.\n")
		return
	}
	m.space.Load(0, buf[:n])

	m.printf("[AUTOTEST] Receive success. Running test...\n")
	m.printf("[AUTOTEST] Waiting for engine to complete...\n")
	res := m.rc.Run(policy, 0)
	m.printf("[AUTOTEST] Engine finished. Bus Cycles: %d, Time: %d us\n", res.Cycles, res.Elapsed.Microseconds())

	// Give the receiver on the far side a moment to get ready.
	m.rc.Engine().Clock.Sleep(500 * time.Millisecond)

	entries := m.trace.ValidCount()
	if entries > 0 {
		m.printf("[AUTOTEST] Sending log data (%d entries, %d bytes)...\n", entries, entries*TRACE_ENTRY_SIZE)
		if !NewXmodem(m.con).Send(m.trace.Pack()) {
			m.printf("[AUTOTEST] Failed to send log data.\n")
		}
	} else {
		m.printf("[AUTOTEST] No log data to send.\n")
	}
	m.printf("\nDone. Bus Cycles: %d, Log Entries: %d, Time: %d us\n", res.Cycles, entries, res.Elapsed.Microseconds())
	m.printf("[AUTOTEST] Handler finished. Returning to main loop.\n")
}

func (m *Monitor) cmdLoadBoot(args string) {
	path := m.bootPath
	if args != "" {
		path = args
	}
	if path == "" {
		m.printf("Error: No boot image configured.\n")
		return
	}
	n, err := LoadBootImage(m.space, path)
	if err != nil {
		m.printf("Error: %v\n", err)
		return
	}
	m.printf("Loaded boot image (%d bytes) into RAM at address 0x00000.\n", n)
}

// cmdHidos boots the hosted HIDOS machine: boot image at the bottom of
// RAM, service-call dispatch on the mailbox ports, engine run until
// the bus goes quiet. The console belongs to the hosted system for the
// whole session, so there is no stop key; the session ends when the
// engine halts.
func (m *Monitor) cmdHidos(args string) {
	if m.bootPath != "" {
		n, err := LoadBootImage(m.space, m.bootPath)
		if err != nil {
			m.printf("Error: %v\n", err)
			return
		}
		m.printf("Loaded boot image (%d bytes) into RAM at address 0x00000.\n", n)
	}
	loglevel := 9
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil {
			loglevel = n
		}
	}

	m.printf("Start embedded HIDOS machine\n")
	d := NewHidosDispatcher(m.space, m.disk, m.con)
	d.SetLogLevel(uint8(loglevel))
	ec := m.rc.Engine()
	prev := ec.IO
	ec.IO = d
	d.Start()
	res := m.rc.Run(LogNone, 0)
	d.Stop()
	ec.IO = prev
	m.printf("HIDOS stopped (%s). Ran %d cycles in %d us.\n", res.Reason, res.Cycles, res.Elapsed.Microseconds())
}
