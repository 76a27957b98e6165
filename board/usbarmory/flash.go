// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbarmory

import (
	"github.com/usbarmory/tamago-dfu/internal/reg"
)

// InternalFlash implements dfu.Flash against the SoC's internal NOR flash
// controller. Register-level erase/program sequencing is named explicitly
// out of scope by spec §1 ("flash controller register programming...
// purely mechanical"); this type exists only so the cmd entry point has a
// concrete Flash to construct a dfu.Engine with on real hardware. The
// sequencing below follows the generic unlock/erase/program/lock ladder
// common to the pack's other register-sequenced controllers (compare
// soc/imx6/usb's Init: unlock-equivalent reset, configure, run).
type InternalFlash struct {
	// Base register of the flash controller.
	Base uint32
	// PageSize is the erase granularity in bytes.
	PageSize uint32
	// End is the last writable address + 1 (app_flash_end()).
	End uint32

	// Flash controller operations, board-specific and supplied by the
	// concrete board package.
	UnlockFn func()
	LockFn   func()
	EraseFn  func(addr uint32)
	WriteFn  func(addr, word uint32)
}

// ErasePage erases the flash page containing addr.
func (f *InternalFlash) ErasePage(addr uint32) error {
	f.EraseFn(addr)
	return nil
}

// WriteWord programs one 32-bit word at addr.
func (f *InternalFlash) WriteWord(addr uint32, word uint32) error {
	f.WriteFn(addr, word)
	return nil
}

// ReadAt reads len(buf) bytes starting at addr directly out of the memory-
// mapped flash array (C2's UPLOAD data path reads flash by address, not
// through a staging buffer; see dfu.Flash's doc comment).
func (f *InternalFlash) ReadAt(addr uint32, buf []byte) {
	for i := range buf {
		buf[i] = byte(reg.Read(addr + uint32(i&^3)) >> (8 * (i & 3)))
	}
}

// Lock re-enables flash write protection, called by the engine on the
// DnLoadIdle->ManifestSync transition (zero-length DNLOAD, spec §4.1).
func (f *InternalFlash) Lock() {
	f.LockFn()
}

// Unlock disables flash write protection, called by the boot decider
// before entering the DFU wait loop (spec §4.4 step 3).
func (f *InternalFlash) Unlock() {
	f.UnlockFn()
}

// AppFlashEnd returns the end of the writable application region.
func (f *InternalFlash) AppFlashEnd() uint32 {
	return f.End
}
