// address_space.go - Wraparound byte store backing the V30 bus
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"fmt"
	"sync"
)

const (
	// DEFAULT_RAM_SIZE is the emulated RAM behind the V30 bus.
	DEFAULT_RAM_SIZE = 0x20000 // 128KB

	// FILL_HALT is the byte the store is initialised with. 0xF4 is HLT,
	// so a CPU wandering into unwritten memory stops instead of running
	// off into garbage.
	FILL_HALT = 0xF4
)

// AddressSpace is the fixed-size store every external bus address is
// folded into. Capacity is a power of two so the fold is a single mask.
// The bus engine and the service-call host run on separate goroutines
// and both mutate the store, hence the lock.
type AddressSpace struct {
	mu   sync.RWMutex
	mem  []byte
	mask uint32
}

// NewAddressSpace allocates a store of the given capacity, filled with
// the halt sentinel. Capacity must be a power of two.
func NewAddressSpace(capacity uint32) *AddressSpace {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("address space capacity %#x is not a power of two", capacity))
	}
	s := &AddressSpace{
		mem:  make([]byte, capacity),
		mask: capacity - 1,
	}
	s.Fill(FILL_HALT)
	return s
}

// Size returns the store capacity in bytes.
func (s *AddressSpace) Size() uint32 {
	return s.mask + 1
}

// Map folds an external address into the store bounds.
func (s *AddressSpace) Map(addr uint32) uint32 {
	return addr & s.mask
}

// ReadByte returns the byte at the mapped address.
func (s *AddressSpace) ReadByte(addr uint32) byte {
	s.mu.RLock()
	b := s.mem[addr&s.mask]
	s.mu.RUnlock()
	return b
}

// WriteByte stores one byte at the mapped address.
func (s *AddressSpace) WriteByte(addr uint32, val byte) {
	s.mu.Lock()
	s.mem[addr&s.mask] = val
	s.mu.Unlock()
}

// ReadWord returns the little-endian word at (addr, addr+1). Each byte
// is mapped separately, so a word straddling the top of the store wraps
// to offset zero.
func (s *AddressSpace) ReadWord(addr uint32) uint16 {
	s.mu.RLock()
	lo := s.mem[addr&s.mask]
	hi := s.mem[(addr+1)&s.mask]
	s.mu.RUnlock()
	return uint16(lo) | uint16(hi)<<8
}

// WriteWord stores a little-endian word at (addr, addr+1).
func (s *AddressSpace) WriteWord(addr uint32, val uint16) {
	s.mu.Lock()
	s.mem[addr&s.mask] = byte(val)
	s.mem[(addr+1)&s.mask] = byte(val >> 8)
	s.mu.Unlock()
}

// ReadDword returns the little-endian 32-bit value at addr.
func (s *AddressSpace) ReadDword(addr uint32) uint32 {
	return uint32(s.ReadWord(addr)) | uint32(s.ReadWord(addr+2))<<16
}

// WriteDword stores a little-endian 32-bit value at addr.
func (s *AddressSpace) WriteDword(addr uint32, val uint32) {
	s.WriteWord(addr, uint16(val))
	s.WriteWord(addr+2, uint16(val>>16))
}

// Fill overwrites the whole store with one byte value.
func (s *AddressSpace) Fill(val byte) {
	s.mu.Lock()
	for i := range s.mem {
		s.mem[i] = val
	}
	s.mu.Unlock()
}

// Load copies data into the store starting at the mapped offset,
// wrapping if it runs past the top.
func (s *AddressSpace) Load(offset uint32, data []byte) {
	s.mu.Lock()
	for i, b := range data {
		s.mem[(offset+uint32(i))&s.mask] = b
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the whole store.
func (s *AddressSpace) Snapshot() []byte {
	s.mu.RLock()
	out := make([]byte, len(s.mem))
	copy(out, s.mem)
	s.mu.RUnlock()
	return out
}
