// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"fmt"

	"github.com/usbarmory/tamago-dfu/dfu"
)

// dfuEngine is the subset of dfu.Engine that the class setup hook needs.
// Kept narrow so this file documents exactly what it drives.
type dfuEngine interface {
	Handle(req dfu.Request, wValue, wLength uint16) bool
	CopyState(wOffset, length int) dfu.Stage
	CopyStatus(wOffset, length int) dfu.Stage
	CopyDNLOAD(wOffset, length int) dfu.Stage
	CopyUPLOAD(wOffset, length int) dfu.Stage
	BeginDnload(wLength uint16)
}

// NewDFUSetup returns a class-specific SetupFunction that dispatches DFU
// requests (USB DFU 1.0, Table 3.2) addressed to iface to e.
//
// The public SetupFunction contract
// (in []byte, ack bool, done bool, err error) has no way to receive
// OUT-phase (host-to-device) data, which DNLOAD strictly needs. This hook
// lives inside package usb, rather than in a board-level collaborator,
// specifically so DNLOAD can reach past that contract and drive hw.rx
// directly for the data phase.
func NewDFUSetup(hw *USB, iface uint8, e dfuEngine) SetupFunction {
	return func(setup *SetupData) (in []byte, ack bool, done bool, err error) {
		if setup.RequestType&REQUEST_TYPE_TYPE_MASK != REQUEST_TYPE_CLASS ||
			setup.RequestType&REQUEST_TYPE_RECIPIENT_MASK != REQUEST_TYPE_RECIPIENT_INTERFACE ||
			uint8(setup.Index) != iface {
			// Not a DFU class request (e.g. GET_DESCRIPTOR for the
			// functional descriptor bytes embedded in the configuration
			// descriptor): let the standard handlers in setup.go serve it.
			return nil, false, false, nil
		}

		req := dfu.Request(setup.Request)

		// SetupData.swap leaves Value byte-reversed (getDescriptor and
		// SET_ADDRESS in setup.go decode it that way); restore wValue,
		// the DFU block number.
		wValue := setup.Value<<8 | setup.Value>>8

		if !e.Handle(req, wValue, setup.Length) {
			return nil, false, true, fmt.Errorf("usb: dfu request %s rejected", req)
		}

		switch req {
		case dfu.DnLoad:
			if setup.Length == 0 {
				return nil, true, true, nil
			}

			e.BeginDnload(setup.Length)

			announce := e.CopyDNLOAD(0, 0)
			n := announce.Length()

			buf := e.CopyDNLOAD(0, n).Data()[:n]

			if _, err := hw.rx(0, buf); err != nil {
				return nil, false, true, err
			}

			// hw.rx already closed the status phase (IMX6ULLRM
			// 56.4.6.4.2.3) for endpoint 0.
			return nil, false, true, nil

		case dfu.Upload:
			announce := e.CopyUPLOAD(0, 0)
			n := announce.Length()

			if n < 0 {
				n = 0
			}

			data := e.CopyUPLOAD(0, n).Data()

			return data, true, true, nil

		case dfu.GetStatus:
			announce := e.CopyStatus(0, 0)
			n := announce.Length()

			return e.CopyStatus(0, n).Data(), true, true, nil

		case dfu.GetState:
			announce := e.CopyState(0, 0)
			n := announce.Length()

			return e.CopyState(0, n).Data(), true, true, nil

		default:
			// CLRSTATUS, ABORT: no data phase, a zero length IN ack is
			// the entire response.
			return nil, true, true, nil
		}
	}
}
