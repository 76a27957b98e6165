// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package simflash is a host-testable double for the dfu.Flash external
// collaborator: a plain byte array standing in for internal program flash,
// styled like the pack's other test doubles (a struct with a mutex, no
// mocking framework).
package simflash

import "sync"

// Flash simulates a byte-addressable internal flash array starting at
// Base, with erase leaving a page as 0xff (NOR/embedded-flash convention)
// and WriteWord only ever clearing bits (as on real flash, a program
// operation cannot set an erased bit back to 1).
type Flash struct {
	mu   sync.Mutex
	Base uint32
	PageSize int

	mem    []byte
	Locked bool

	ErasedPages map[uint32]int
	WrittenWords int
}

// New constructs a simulated flash array of size bytes starting at base,
// erased (all 0xff) as it would be fresh off the production line.
func New(base uint32, size, pageSize int) *Flash {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xff
	}

	return &Flash{
		Base:        base,
		PageSize:    pageSize,
		mem:         mem,
		ErasedPages: make(map[uint32]int),
	}
}

func (f *Flash) ErasePage(addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	page := addr - (addr-f.Base)%uint32(f.PageSize)
	start := page - f.Base

	for i := 0; i < f.PageSize; i++ {
		f.mem[int(start)+i] = 0xff
	}

	f.ErasedPages[page]++

	return nil
}

func (f *Flash) WriteWord(addr uint32, word uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	off := addr - f.Base
	f.mem[off] &= byte(word)
	f.mem[off+1] &= byte(word >> 8)
	f.mem[off+2] &= byte(word >> 16)
	f.mem[off+3] &= byte(word >> 24)
	f.WrittenWords++

	return nil
}

func (f *Flash) ReadAt(addr uint32, buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	off := addr - f.Base
	copy(buf, f.mem[off:])
}

func (f *Flash) Lock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Locked = true
}

func (f *Flash) Unlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Locked = false
}

func (f *Flash) AppFlashEnd() uint32 {
	return f.Base + uint32(len(f.mem))
}
