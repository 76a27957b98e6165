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
	"bytes"
	"encoding/binary"
)

// DFU interface class/subclass/protocol
// (USB Device Class Specification for Device Firmware Upgrade, Version 1.0).
const (
	DFU_INTERFACE_CLASS    = 0xfe
	DFU_INTERFACE_SUBCLASS = 0x01
	DFU_PROTOCOL_RUNTIME   = 0x01
	DFU_PROTOCOL_DFU_MODE  = 0x02

	DFU_FUNCTIONAL          = 0x21
	DFU_FUNCTIONAL_LENGTH   = 9
	DFU_FUNCTIONAL_BCD      = 0x0100
)

// DFU class-specific request codes. Their numeric values collide with the
// standard request codes in setup.go (DFU_DETACH == GET_STATUS == 0, for
// example); the collision is harmless because the two sets are only ever
// compared against bmRequestType-qualified requests (class+interface
// recipient) in dfu_setup.go, never mixed in a single switch.
const (
	DFU_DETACH    = 0
	DFU_DNLOAD    = 1
	DFU_UPLOAD    = 2
	DFU_GETSTATUS = 3
	DFU_CLRSTATUS = 4
	DFU_GETSTATE  = 5
	DFU_ABORT     = 6
)

// bmRequestType masks (p248, Table 9-2, USB2.0) used to recognize a DFU
// class request addressed to the DFU interface.
const (
	REQUEST_TYPE_TYPE_MASK           = 0x60
	REQUEST_TYPE_CLASS               = 0x20
	REQUEST_TYPE_RECIPIENT_MASK      = 0x1f
	REQUEST_TYPE_RECIPIENT_INTERFACE = 0x01
)

// DFUFunctionalDescriptor implements the DFU Functional Descriptor
// (Table 4.1.3, DFU 1.0).
type DFUFunctionalDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	Attributes      uint8
	DetachTimeOut   uint16
	TransferSize    uint16
	DFUVersion      uint16
}

// SetDefaults initializes default values for the DFU Functional Descriptor.
//
//   - bitCanDnload (bit 0), bitCanUpload (bit 1): this bootloader supports
//     both DNLOAD and UPLOAD (spec §1).
//   - bitManifestationTolerant (bit 2): left clear, manifestation always
//     requires a bus reset (spec §4.3, dfuMANIFEST_SYNC -> dfuMANIFEST_WAIT_RESET).
//   - bitWillDetach (bit 3): left clear, this is a DFU-mode-only bootloader
//     with no runtime-mode detach/re-enumerate handling to offer.
func (d *DFUFunctionalDescriptor) SetDefaults() {
	d.Length = DFU_FUNCTIONAL_LENGTH
	d.DescriptorType = DFU_FUNCTIONAL
	d.Attributes = 0x03 // bitCanDnload | bitCanUpload
	d.DetachTimeOut = 0
	d.DFUVersion = DFU_FUNCTIONAL_BCD
}

// Bytes converts the descriptor structure to byte array format.
func (d *DFUFunctionalDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}
