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
	"log"
)

// LargestFlashPageSize bounds the receive buffer (spec §3). Boards with a
// larger erase page size must reserve accordingly when constructing an
// Engine; this is the size cmd/dfu-bootloader reserves for NewEngine.
const LargestFlashPageSize = 2048

// Engine is the DFU protocol state machine (C1) plus its data-path cursors
// (C2/C3's shared state). There is exactly one Engine per bootloader
// session: it is constructed once at reset and every USB callback dispatches
// through it, never re-entering (spec §5: "the engine must not be
// re-entered").
type Engine struct {
	state  State
	status Status

	appBase uint32
	appEnd  uint32

	userFirmwareLen  uint32
	thisBlockLen     uint16
	uploadBlockLen   uint16
	pendingDnloadLen uint16

	latch Latch
	busy  bool

	recvBuf []byte
	flash   Flash
}

// NewEngine constructs an Engine bound to flash, with the writable region
// starting at appBase and ending at flash.AppFlashEnd(). recvBuf must be a
// page-sized, DMA-visible buffer (see cmd/dfu-bootloader's receive buffer
// allocation); the Engine does not allocate it so that callers can choose
// the allocation strategy (dma.Reserve on hardware, a plain make([]byte, n)
// in tests).
func NewEngine(flash Flash, appBase uint32, recvBuf []byte) *Engine {
	return &Engine{
		state:   Idle,
		status:  Status{Status: StatusOK, State: Idle},
		appBase: appBase,
		appEnd:  flash.AppFlashEnd(),
		latch:   End,
		recvBuf: recvBuf,
		flash:   flash,
	}
}

// State returns the current DFU state.
func (e *Engine) State() State {
	return e.state
}

// Status returns a copy of the current DFU status block.
func (e *Engine) Status() Status {
	return e.status
}

// Busy reports whether the engine has serviced any DFU request since DFU
// entry; the boot decider (C4) polls this to decide whether to keep
// servicing USB indefinitely (spec §3 "dfuBusy").
func (e *Engine) Busy() bool {
	return e.busy
}

// BusReset applies the engine's reaction to a USB bus reset (spec §5,
// dfuUpdateByReset in the reference source): from appDETACH it returns to
// dfuIDLE (USB servicing itself is left to package usb, whose Start loop
// keeps running across a bus reset); from appIDLE/dfuIDLE it is a no-op
// (ordinary bus activity); from any other state it reports that a hard
// reset is required, since the bootloader's recovery story for a reset
// mid-transfer or post-manifest is to restart the whole process.
func (e *Engine) BusReset() (hardReset bool) {
	switch e.state {
	case AppDetach:
		e.ok(Idle)
	case AppIdle, Idle:
		// ordinary bus activity, no state change
	default:
		e.ok(Idle)
		hardReset = true
	}

	return
}

// Reset reinitializes the engine to dfuIDLE, as on entry to DFU mode.
func (e *Engine) Reset() {
	e.state = Idle
	e.status = Status{Status: StatusOK, State: Idle}
	e.userFirmwareLen = 0
	e.thisBlockLen = 0
	e.uploadBlockLen = 0
	e.latch = End
	e.busy = false
}

func (e *Engine) setState(s State) {
	e.state = s
	e.status.State = s
}

func (e *Engine) fail(code StatusCode) {
	e.status.Status = code
	e.setState(Error)
}

func (e *Engine) ok(s State) {
	e.status.Status = StatusOK
	e.setState(s)
}

// Handle applies one transition of the Mealy machine in spec §4.1 for the
// control request (req, wValue, wLength) and returns true iff the resulting
// bStatus is OK; the caller (package usb's class setup hook) stalls the
// control transfer on false.
func (e *Engine) Handle(req Request, wValue uint16, wLength uint16) bool {
	e.busy = true
	e.status.Status = StatusOK

	switch e.state {
	case Idle:
		switch req {
		case DnLoad:
			if wLength > 0 {
				e.userFirmwareLen = 0
				e.setState(DnLoadSync)
			} else {
				e.fail(StatusErrNotDone)
			}
		case Upload:
			e.uploadBlockLen = wLength
			e.thisBlockLen = wLength
			e.userFirmwareLen = uint32(wLength) * uint32(wValue)
			e.setState(UploadIdle)
		case Abort, GetStatus, GetState:
			e.setState(Idle)
		default:
			e.fail(StatusErrStalledPkt)
		}

	case DnLoadSync:
		switch req {
		case GetStatus:
			e.setState(DnLoadIdle)
			e.Commit()
		case GetState:
			e.setState(DnLoadSync)
		default:
			e.fail(StatusErrStalledPkt)
		}

	case DnBusy:
		// Reached only if a future asynchronous flash writer leaves the
		// latch at Wait across a poll; this implementation's Commit is
		// synchronous so the latch already reads End.
		if e.latch == End {
			e.latch = Wait
			e.setState(DnLoadIdle)
		} else {
			e.setState(DnBusy)
		}

	case DnLoadIdle:
		switch req {
		case DnLoad:
			if wLength > 0 {
				e.setState(DnLoadSync)
			} else {
				e.setState(ManifestSync)
				e.flash.Lock()
			}
		case Abort, GetStatus, GetState:
			e.setState(Idle)
		default:
			e.fail(StatusErrStalledPkt)
		}

	case ManifestSync:
		switch req {
		case GetStatus:
			e.ok(ManifestWaitReset)
		case GetState:
			e.setState(ManifestSync)
		default:
			e.fail(StatusErrStalledPkt)
		}

	case Manifest:
		// Not visibly reachable: manifestation is synchronous with
		// GETSTATUS (see ManifestSync above). Any request nominally
		// arriving here is treated as reset-to-wait, matching the
		// reference firmware's recovery branch.
		e.ok(ManifestWaitReset)

	case ManifestWaitReset:
		// Awaits a USB bus reset; no request changes state.
		e.setState(ManifestWaitReset)

	case UploadIdle:
		switch req {
		case Upload:
			if wLength == 0 {
				e.fail(StatusErrNotDone)
				break
			}

			e.userFirmwareLen = uint32(e.uploadBlockLen) * uint32(wValue)
			regionLen := e.appEnd - e.appBase

			if e.userFirmwareLen+uint32(e.uploadBlockLen) <= regionLen {
				e.thisBlockLen = e.uploadBlockLen
				e.setState(UploadIdle)
			} else {
				var residual uint32

				if e.userFirmwareLen < regionLen {
					residual = regionLen - e.userFirmwareLen
				}

				if residual >= uint32(wLength) {
					// wValue wrapped past the region.
					residual = 0
				}

				e.thisBlockLen = uint16(residual)
				e.setState(Idle)
			}
		case Abort:
			e.setState(Idle)
		case GetStatus, GetState:
			e.setState(UploadIdle)
		default:
			e.fail(StatusErrStalledPkt)
		}

	case Error:
		switch req {
		case GetStatus, GetState:
			e.setState(Error)
		case ClrStatus:
			e.ok(Idle)
		default:
			e.fail(StatusErrStalledPkt)
		}

	default:
		e.fail(StatusErrStalledPkt)
	}

	if e.status.Status != StatusOK {
		log.Printf("usb_dfu: %s rejected in %s, status now %d", req, e.state, e.status.Status)
	}

	return e.status.Status == StatusOK
}

func (r Request) String() string {
	switch r {
	case Detach:
		return "DETACH"
	case DnLoad:
		return "DNLOAD"
	case Upload:
		return "UPLOAD"
	case GetStatus:
		return "GETSTATUS"
	case ClrStatus:
		return "CLRSTATUS"
	case GetState:
		return "GETSTATE"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}
