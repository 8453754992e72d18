package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"golang.org/x/term"
)

// Console is the byte stream between the monitor and its operator. The
// command shell, the transfer protocol and the hosted-service console
// device all talk through it. Write is the output side (an io.Writer,
// so fmt prints straight to it); ReadByte polls the input side with a
// bounded wait, where a zero timeout is a pure poll.
type Console interface {
	Write(p []byte) (int, error)
	ReadByte(timeout time.Duration) (byte, bool)
}

// binaryToggler is implemented by consoles that translate line endings
// for display and need that turned off during binary transfers.
type binaryToggler interface {
	SetBinaryMode(on bool)
}

func setBinaryMode(c Console, on bool) {
	if bt, ok := c.(binaryToggler); ok {
		bt.SetBinaryMode(on)
	}
}

// drainInput discards pending input until the line stays quiet for the
// given window.
func drainInput(c Console, quiet time.Duration) {
	for {
		if _, ok := c.ReadByte(quiet); !ok {
			return
		}
	}
}

func readConsoleChan(in <-chan byte, timeout time.Duration) (byte, bool) {
	if timeout <= 0 {
		select {
		case b := <-in:
			return b, true
		default:
			return 0, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-in:
		return b, true
	case <-t.C:
		return 0, false
	}
}

// StdioConsole runs the monitor over the local terminal. Stdin goes to
// raw non-blocking mode so single keystrokes arrive immediately and
// echo stays under the shell's control; Stop restores it. Only
// instantiated in main for interactive use, never in tests.
type StdioConsole struct {
	in      chan byte
	stopCh  chan struct{}
	done    chan struct{}
	stopped sync.Once

	fd          int
	nonblockSet bool
	oldState    *term.State
	binary      atomic.Bool
}

func NewStdioConsole() *StdioConsole {
	return &StdioConsole{
		in:     make(chan byte, 4096),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start switches stdin to raw mode and begins the reader goroutine.
func (c *StdioConsole) Start() error {
	c.fd = int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		close(c.done)
		return fmt.Errorf("console: failed to set raw mode: %w", err)
	}
	c.oldState = oldState

	if err := syscall.SetNonblock(c.fd, true); err != nil {
		_ = term.Restore(c.fd, c.oldState)
		c.oldState = nil
		close(c.done)
		return fmt.Errorf("console: failed to set nonblocking stdin: %w", err)
	}
	c.nonblockSet = true

	go func() {
		defer close(c.done)
		buf := make([]byte, 1)
		for {
			select {
			case <-c.stopCh:
				return
			default:
			}
			n, err := syscall.Read(c.fd, buf)
			if n > 0 {
				select {
				case c.in <- buf[0]:
				default:
					// Input overrun: the shell is not consuming.
				}
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			if n == 0 {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	return nil
}

// Stop terminates the reader and restores the terminal.
func (c *StdioConsole) Stop() {
	c.stopped.Do(func() {
		close(c.stopCh)
	})
	<-c.done
	if c.nonblockSet {
		_ = syscall.SetNonblock(c.fd, false)
		c.nonblockSet = false
	}
	if c.oldState != nil {
		_ = term.Restore(c.fd, c.oldState)
		c.oldState = nil
	}
}

func (c *StdioConsole) ReadByte(timeout time.Duration) (byte, bool) {
	return readConsoleChan(c.in, timeout)
}

// Write sends bytes to the terminal. Outside binary mode a bare LF
// becomes CRLF, since raw mode disables the line discipline that would
// normally do it.
func (c *StdioConsole) Write(p []byte) (int, error) {
	if c.binary.Load() {
		return os.Stdout.Write(p)
	}
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *StdioConsole) SetBinaryMode(on bool) {
	c.binary.Store(on)
}

// SerialConsole runs the monitor over a serial line, the usual
// arrangement when the operator sits on another machine. The line is
// 8N1 at the configured rate and carries raw bytes, so transfers need
// no special handling.
type SerialConsole struct {
	port io.ReadWriteCloser
	in   chan byte
	done chan struct{}
}

func OpenSerialConsole(device string, baud uint) (*SerialConsole, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        device,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial console %s: %w", device, err)
	}
	c := &SerialConsole{
		port: port,
		in:   make(chan byte, 4096),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *SerialConsole) readLoop() {
	defer close(c.done)
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case c.in <- buf[i]:
			default:
				// Input overrun: the shell is not consuming.
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *SerialConsole) ReadByte(timeout time.Duration) (byte, bool) {
	return readConsoleChan(c.in, timeout)
}

func (c *SerialConsole) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

// Close shuts the port down, which also ends the reader goroutine.
func (c *SerialConsole) Close() error {
	err := c.port.Close()
	<-c.done
	return err
}
