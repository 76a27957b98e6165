// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dfu

import (
	"bytes"
	"testing"
)

func TestCommitProgramsExactWindow(t *testing.T) {
	e, flash := newTestEngine()

	block := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 8) // 32 bytes
	copy(e.recvBuf, block)
	e.thisBlockLen = uint16(len(block))

	e.Commit()

	if e.userFirmwareLen != uint32(len(block)) {
		t.Fatalf("expected userFirmwareLen advanced to %d, got %d", len(block), e.userFirmwareLen)
	}
	if e.thisBlockLen != 0 {
		t.Fatalf("expected thisBlockLen reset to 0, got %d", e.thisBlockLen)
	}
	if e.latch != End {
		t.Fatalf("expected latch reset to End")
	}

	got := make([]byte, len(block))
	flash.ReadAt(testAppBase, got)
	if !bytes.Equal(got, block) {
		t.Fatalf("flash contents do not match the committed block")
	}
	if flash.ErasedPages[testAppBase] != 1 {
		t.Fatalf("expected exactly one erase of the target page, got %d", flash.ErasedPages[testAppBase])
	}
}

func TestCommitRejectsOutOfBoundsSilently(t *testing.T) {
	e, flash := newTestEngine()

	// Push the cursor to the last word of the region, then attempt a block
	// that would overrun appEnd.
	e.userFirmwareLen = (e.appEnd - e.appBase) - 4
	e.thisBlockLen = 64
	copy(e.recvBuf, bytes.Repeat([]byte{0xff}, 64))

	before := e.userFirmwareLen

	e.Commit()

	if e.userFirmwareLen != before {
		t.Fatalf("an out-of-bounds commit must not advance the write cursor")
	}
	if flash.WrittenWords != 0 {
		t.Fatalf("an out-of-bounds commit must not touch flash, wrote %d words", flash.WrittenWords)
	}
	if len(flash.ErasedPages) != 0 {
		t.Fatalf("an out-of-bounds commit must not erase any page")
	}
}

func TestCommitRejectsWraparound(t *testing.T) {
	e, flash := newTestEngine()

	// thisBlockLen large enough that target+thisBlockLen overflows uint32.
	e.userFirmwareLen = 0
	e.thisBlockLen = 0xffff
	e.appBase = 0xfffffff0
	e.appEnd = 0xffffffff

	e.Commit()

	if flash.WrittenWords != 0 {
		t.Fatalf("a wraparound commit must not touch flash")
	}
}
