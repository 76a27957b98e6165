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

func TestCopyStateAnnounceThenFetch(t *testing.T) {
	e, _ := newTestEngine()
	e.setState(DnLoadIdle)

	announce := e.CopyState(0, 0)
	if !announce.IsAnnounce() {
		t.Fatalf("expected an Announce stage")
	}
	if announce.Length() != 1 {
		t.Fatalf("expected length 1, got %d", announce.Length())
	}

	fetch := e.CopyState(0, 1)
	if fetch.IsAnnounce() {
		t.Fatalf("expected a Buffer stage")
	}
	if !bytes.Equal(fetch.Data(), []byte{byte(DnLoadIdle)}) {
		t.Fatalf("unexpected state byte: %v", fetch.Data())
	}
}

func TestCopyStatusWireLayout(t *testing.T) {
	e, _ := newTestEngine()
	e.status = Status{Status: StatusErrVerify, PollTimeout: 0x030201, State: DnLoadSync, StringIndex: 7}

	announce := e.CopyStatus(0, 0)
	if announce.Length() != 6 {
		t.Fatalf("expected length 6, got %d", announce.Length())
	}

	fetch := e.CopyStatus(0, 6)
	want := []byte{byte(StatusErrVerify), 0x01, 0x02, 0x03, byte(DnLoadSync), 7}
	if !bytes.Equal(fetch.Data(), want) {
		t.Fatalf("unexpected status bytes: got %v, want %v", fetch.Data(), want)
	}
}

func TestCopyStatusMidTransferOffset(t *testing.T) {
	e, _ := newTestEngine()
	e.status = Status{Status: StatusOK, State: Idle}

	fetch := e.CopyStatus(4, 2)
	if len(fetch.Data()) != 2 {
		t.Fatalf("expected a 2-byte window at offset 4, got %d bytes", len(fetch.Data()))
	}
}

func TestCopyDNLOADAnnounceLatchesBlockLen(t *testing.T) {
	e, _ := newTestEngine()
	e.BeginDnload(512)

	announce := e.CopyDNLOAD(0, 0)
	if announce.Length() != 512 {
		t.Fatalf("expected announced length 512, got %d", announce.Length())
	}
	if e.thisBlockLen != 512 {
		t.Fatalf("expected thisBlockLen latched to 512, got %d", e.thisBlockLen)
	}

	fetch := e.CopyDNLOAD(0, 512)
	if len(fetch.Data()) != len(e.recvBuf) {
		t.Fatalf("expected the full receive buffer window")
	}
}

func TestCopyUPLOADReadsFromFlashAtCursor(t *testing.T) {
	e, flash := newTestEngine()

	payload := bytes.Repeat([]byte{0x42}, 16)
	for i, b := range payload {
		flash.WriteWord(testAppBase+uint32(i-i%4), uint32(b)|uint32(b)<<8|uint32(b)<<16|uint32(b)<<24)
	}

	e.thisBlockLen = 16
	e.userFirmwareLen = 0

	announce := e.CopyUPLOAD(0, 0)
	if announce.Length() != 16 {
		t.Fatalf("expected announced length 16, got %d", announce.Length())
	}

	fetch := e.CopyUPLOAD(0, 16)
	if !bytes.Equal(fetch.Data(), payload) {
		t.Fatalf("unexpected upload bytes: got %v, want %v", fetch.Data(), payload)
	}
}
