// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dfu implements the USB Device Firmware Upgrade (DFU 1.0) protocol
// state machine and its coupling to flash programming, for a bootloader
// resident on a microcontroller with internal program flash.
//
// The package owns no USB or flash hardware itself: the Flash interface and
// the Source/Stage callback surface describe everything it expects from its
// collaborators, so it is fully testable without a board.
package dfu

// State is a DFU 1.0 protocol state (USB DFU 1.0, Table 4.1).
type State uint8

// DFU states (USB DFU 1.0, Table 4.1). Values match the bState wire
// encoding.
const (
	AppIdle State = iota
	AppDetach
	Idle
	DnLoadSync
	DnBusy
	DnLoadIdle
	ManifestSync
	Manifest
	ManifestWaitReset
	UploadIdle
	Error
)

func (s State) String() string {
	switch s {
	case AppIdle:
		return "appIDLE"
	case AppDetach:
		return "appDETACH"
	case Idle:
		return "dfuIDLE"
	case DnLoadSync:
		return "dfuDNLOAD_SYNC"
	case DnBusy:
		return "dfuDNBUSY"
	case DnLoadIdle:
		return "dfuDNLOAD_IDLE"
	case ManifestSync:
		return "dfuMANIFEST_SYNC"
	case Manifest:
		return "dfuMANIFEST"
	case ManifestWaitReset:
		return "dfuMANIFEST_WAIT_RESET"
	case UploadIdle:
		return "dfuUPLOAD_IDLE"
	case Error:
		return "dfuERROR"
	default:
		return "dfuUNKNOWN"
	}
}

// Request is a DFU class-specific bRequest code (USB DFU 1.0, Table 3.2).
type Request uint8

const (
	Detach Request = iota
	DnLoad
	Upload
	GetStatus
	ClrStatus
	GetState
	Abort
)

// Latch is the copy-completion signal the flash writer would set on
// completion of an asynchronous page program, observed by the
// DnBusy->DnLoadIdle transition. This implementation's flash writer is
// synchronous (see Engine.Commit) so the latch is always End by the time a
// poll observes it; the DnBusy state and the latch type are retained so a
// future asynchronous flash writer can use them without changing the
// protocol surface (spec's dfuDNBUSY reachability note).
type Latch uint8

const (
	Wait Latch = iota
	End
)
