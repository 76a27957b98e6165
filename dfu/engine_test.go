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

	"github.com/usbarmory/tamago-dfu/dfu/simflash"
)

const (
	testAppBase  = 0x08002000
	testPageSize = 1024
	testPages    = (0x08020000 - testAppBase) / testPageSize
)

func newTestEngine() (*Engine, *simflash.Flash) {
	flash := simflash.New(testAppBase, testPages*testPageSize, testPageSize)
	recvBuf := make([]byte, LargestFlashPageSize)

	return NewEngine(flash, testAppBase, recvBuf), flash
}

func TestHappyDownload(t *testing.T) {
	e, flash := newTestEngine()

	block := bytes.Repeat([]byte{0xaa}, testPageSize)

	if !e.Handle(DnLoad, 0, uint16(len(block))) {
		t.Fatalf("DNLOAD should be accepted from dfuIDLE")
	}

	if e.State() != DnLoadSync {
		t.Fatalf("expected dfuDNLOAD_SYNC, got %s", e.State())
	}

	e.BeginDnload(uint16(len(block)))
	e.CopyDNLOAD(0, 0) // announce: latches thisBlockLen from pendingDnloadLen
	copy(e.recvBuf, block)

	if !e.Handle(GetStatus, 0, 0) {
		t.Fatalf("GETSTATUS should be accepted from dfuDNLOAD_SYNC")
	}

	if e.State() != DnLoadIdle {
		t.Fatalf("expected dfuDNLOAD_IDLE, got %s", e.State())
	}

	got := make([]byte, len(block))
	flash.ReadAt(testAppBase, got)

	if !bytes.Equal(got, block) {
		t.Fatalf("flash page not committed correctly")
	}

	if !e.Handle(DnLoad, 0, 0) {
		t.Fatalf("zero-length DNLOAD should be accepted from dfuDNLOAD_IDLE")
	}

	if e.State() != ManifestSync {
		t.Fatalf("expected dfuMANIFEST_SYNC, got %s", e.State())
	}

	if !flash.Locked {
		t.Fatalf("flash should be locked on entry to dfuMANIFEST_SYNC")
	}

	if !e.Handle(GetStatus, 0, 0) {
		t.Fatalf("GETSTATUS should be accepted from dfuMANIFEST_SYNC")
	}

	if e.State() != ManifestWaitReset {
		t.Fatalf("expected dfuMANIFEST_WAIT_RESET, got %s", e.State())
	}

	if e.Status().Status != StatusOK {
		t.Fatalf("expected status OK, got %d", e.Status().Status)
	}

	if hard := e.BusReset(); !hard {
		t.Fatalf("bus reset from dfuMANIFEST_WAIT_RESET must require a hard reset")
	}
}

func TestAbortMidTransfer(t *testing.T) {
	e, _ := newTestEngine()

	e.Handle(DnLoad, 0, 64)
	e.BeginDnload(64)
	e.CopyDNLOAD(0, 0)
	e.Handle(GetStatus, 0, 0)

	committed := e.userFirmwareLen

	if !e.Handle(Abort, 0, 0) {
		t.Fatalf("ABORT should be accepted")
	}

	if e.State() != Idle {
		t.Fatalf("expected dfuIDLE after ABORT, got %s", e.State())
	}

	if e.userFirmwareLen != committed {
		t.Fatalf("ABORT must not rewind the write cursor: got %d, want %d", e.userFirmwareLen, committed)
	}
}

func TestStallOnBadRequest(t *testing.T) {
	e, _ := newTestEngine()

	if e.Handle(ClrStatus, 0, 0) {
		t.Fatalf("CLRSTATUS from dfuIDLE is not in the transition table and must stall")
	}

	if e.State() != Error {
		t.Fatalf("expected dfuERROR, got %s", e.State())
	}

	if e.Status().Status != StatusErrStalledPkt {
		t.Fatalf("expected errSTALLEDPKT, got %d", e.Status().Status)
	}

	if !e.Handle(ClrStatus, 0, 0) {
		t.Fatalf("CLRSTATUS from dfuERROR should be accepted")
	}

	if e.State() != Idle {
		t.Fatalf("expected dfuIDLE after CLRSTATUS, got %s", e.State())
	}

	if e.Status().Status != StatusOK {
		t.Fatalf("expected status OK after CLRSTATUS, got %d", e.Status().Status)
	}
}

func TestUploadBoundary(t *testing.T) {
	e, _ := newTestEngine()

	const blockSize = 1024
	const regionSize = 120 * 1024 // keep region small for this test

	e2 := &Engine{
		state:   Idle,
		status:  Status{Status: StatusOK, State: Idle},
		appBase: testAppBase,
		appEnd:  testAppBase + regionSize,
		latch:   End,
		recvBuf: make([]byte, blockSize),
		flash:   e.flash,
	}

	if !e2.Handle(Upload, 0, blockSize) {
		t.Fatalf("first UPLOAD should be accepted")
	}

	if e2.State() != UploadIdle {
		t.Fatalf("expected dfuUPLOAD_IDLE, got %s", e2.State())
	}

	// wValue=120 lands exactly at the end of the region: 120*1024 == regionSize.
	if !e2.Handle(Upload, 120, blockSize) {
		t.Fatalf("boundary UPLOAD should be accepted")
	}

	if e2.State() != Idle {
		t.Fatalf("expected dfuIDLE at the upload boundary, got %s", e2.State())
	}

	if e2.thisBlockLen != 0 {
		t.Fatalf("expected a 0-byte final block, got %d", e2.thisBlockLen)
	}
}

func TestZeroLengthDnloadFromIdle(t *testing.T) {
	e, _ := newTestEngine()

	if e.Handle(DnLoad, 0, 0) {
		t.Fatalf("zero-length DNLOAD from dfuIDLE must be rejected")
	}

	if e.State() != Error {
		t.Fatalf("expected dfuERROR, got %s", e.State())
	}

	if e.Status().Status != StatusErrNotDone {
		t.Fatalf("expected errNOTDONE, got %d", e.Status().Status)
	}

	if !e.Handle(ClrStatus, 0, 0) {
		t.Fatalf("CLRSTATUS should restore dfuIDLE")
	}
}

func TestZeroLengthUploadIsError(t *testing.T) {
	e, _ := newTestEngine()

	e.Handle(Upload, 0, 64)

	if e.Handle(Upload, 1, 0) {
		t.Fatalf("zero-length UPLOAD must be rejected")
	}

	if e.Status().Status != StatusErrNotDone {
		t.Fatalf("expected errNOTDONE, got %d", e.Status().Status)
	}
}

func TestManifestWaitResetIsSticky(t *testing.T) {
	e, _ := newTestEngine()

	e.setState(ManifestWaitReset)

	for _, req := range []Request{GetStatus, GetState, Abort, DnLoad, ClrStatus} {
		e.Handle(req, 0, 0)

		if e.State() != ManifestWaitReset {
			t.Fatalf("request %s must not move out of dfuMANIFEST_WAIT_RESET, got %s", req, e.State())
		}
	}
}

func TestOnlyClrStatusLeavesError(t *testing.T) {
	e, _ := newTestEngine()

	e.fail(StatusErrFirmware)

	for _, req := range []Request{GetStatus, GetState, DnLoad, Upload, Abort} {
		e.Handle(req, 0, 0)

		if e.State() != Error {
			t.Fatalf("request %s must not leave dfuERROR, got %s", req, e.State())
		}
	}

	if !e.Handle(ClrStatus, 0, 0) {
		t.Fatalf("CLRSTATUS must be accepted from dfuERROR")
	}

	if e.State() != Idle {
		t.Fatalf("expected dfuIDLE, got %s", e.State())
	}
}

func TestBusResetInIdleIsNoop(t *testing.T) {
	e, _ := newTestEngine()

	if hard := e.BusReset(); hard {
		t.Fatalf("bus reset from dfuIDLE must not require a hard reset")
	}

	if e.State() != Idle {
		t.Fatalf("expected dfuIDLE, got %s", e.State())
	}
}

func TestBusResetInAppDetachReturnsToIdle(t *testing.T) {
	e, _ := newTestEngine()

	e.setState(AppDetach)

	if hard := e.BusReset(); hard {
		t.Fatalf("bus reset from appDETACH must not require a hard reset")
	}

	if e.State() != Idle {
		t.Fatalf("expected dfuIDLE after appDETACH reset, got %s", e.State())
	}
}
