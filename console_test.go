package main

import (
	"sync"
	"testing"
	"time"
)

// BufferConsole is an in-memory console: input is scripted up front,
// output accumulates for inspection.
type BufferConsole struct {
	mu  sync.Mutex
	in  []byte
	out []byte
}

func NewBufferConsole() *BufferConsole { return &BufferConsole{} }

func (c *BufferConsole) FeedString(s string) { c.FeedInput([]byte(s)) }

func (c *BufferConsole) FeedInput(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, p...)
}

func (c *BufferConsole) ReadByte(timeout time.Duration) (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

func (c *BufferConsole) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, p...)
	return len(p), nil
}

func (c *BufferConsole) OutputString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.out)
}

// TakeOutput returns and clears the captured output, for asserting on
// one phase of a session at a time.
func (c *BufferConsole) TakeOutput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := string(c.out)
	c.out = nil
	return s
}

// consolePipe cross-connects two ends so a sender and a receiver can
// run against each other in-process.
func consolePipe() (Console, Console) {
	ab := make(chan byte, 4096)
	ba := make(chan byte, 4096)
	return &pipeEnd{in: ba, out: ab}, &pipeEnd{in: ab, out: ba}
}

type pipeEnd struct {
	in  chan byte
	out chan byte
}

func (e *pipeEnd) ReadByte(timeout time.Duration) (byte, bool) {
	return readConsoleChan(e.in, timeout)
}

func (e *pipeEnd) Write(p []byte) (int, error) {
	for _, b := range p {
		e.out <- b
	}
	return len(p), nil
}

func TestDrainInputEmptiesPendingBytes(t *testing.T) {
	con := NewBufferConsole()
	con.FeedString("stale bytes")
	drainInput(con, 0)
	if b, ok := con.ReadByte(0); ok {
		t.Fatalf("byte %02X survived the drain", b)
	}
}
