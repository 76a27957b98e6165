// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dfu

// Flash is the external collaborator that owns the internal program flash
// array. It is purely mechanical (register-level erase/program sequencing,
// flash controller unlock sequence) and out of scope for this package; a
// board package supplies the concrete implementation for its SoC.
//
// ReadAt is not part of spec's literal external-collaborator contract
// (erase_page/write_word/lock/unlock/app_flash_end) but is required glue for
// the UPLOAD data path (C2), which in the original C reads flash directly
// through a pointer cast at the running address. Go has no equivalent of
// that cast outside package unsafe, so the board's Flash implementation
// performs it once, here, instead of leaking unsafe into this package.
type Flash interface {
	ErasePage(addr uint32) error
	WriteWord(addr uint32, word uint32) error
	ReadAt(addr uint32, buf []byte)
	Lock()
	Unlock()
	AppFlashEnd() uint32
}

// Commit programs the receive buffer to flash at the current write cursor
// (C3, spec §4.3). It is invoked once, by Engine.Handle, on the
// DnLoadSync->DnLoadIdle transition (GETSTATUS while a block is pending).
//
// Bounds violations are rejected silently: flash is left untouched but the
// state machine still advances, matching the original firmware's behaviour
// (dfuCopyBufferToExec in the reference source returns early on an
// out-of-range target without setting an error status). See DESIGN.md for
// why this is preserved rather than promoted to errADDRESS.
func (e *Engine) Commit() {
	target := e.appBase + e.userFirmwareLen
	end := target + uint32(e.thisBlockLen)

	if end < target || target < e.appBase || end > e.appEnd {
		return
	}

	e.flash.ErasePage(target)

	for off := uint32(0); off < uint32(e.thisBlockLen); off += 4 {
		word := uint32(e.recvBuf[off]) |
			uint32(e.recvBuf[off+1])<<8 |
			uint32(e.recvBuf[off+2])<<16 |
			uint32(e.recvBuf[off+3])<<24

		e.flash.WriteWord(target+off, word)
	}

	e.userFirmwareLen += uint32(e.thisBlockLen)
	e.thisBlockLen = 0
	e.latch = End
}
