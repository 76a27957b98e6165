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
	"log"
	"time"

	"github.com/usbarmory/tamago-dfu/internal/reg"
)

// Start waits for and handles setup packets on endpoint 0, it never
// returns. Unlike the teacher's device-mode loop this bootloader never
// brings up endpoints beyond EP0: the DFU class has no bulk/interrupt
// transfers, every byte of firmware moves through control transfers on
// GETSTATUS/DNLOAD/UPLOAD.
//
// OnReset, when set, is invoked whenever the host issues a USB bus reset,
// letting the DFU engine fold a bus reset into its state machine
// (spec'd as BusReset in the dfu package).
func (hw *USB) Start(dev *Device) {
	for {
		if reg.Get(hw.sts, USBSTS_URI, 1) == 1 {
			dev.ConfigurationValue = 0
			hw.Reset()

			if hw.OnReset != nil {
				hw.OnReset()
			}
		}

		if !reg.WaitFor(10*time.Millisecond, hw.setup, 0, 1, 1) {
			continue
		}

		if _, err := hw.handleSetup(); err != nil {
			log.Printf("usb: setup error, %v", err)
		}
	}
}
