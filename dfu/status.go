// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dfu

// StatusCode is the bStatus field of the DFU status block (USB DFU 1.0,
// Table 6.2).
type StatusCode uint8

const (
	StatusOK StatusCode = iota
	StatusErrTarget
	StatusErrFile
	StatusErrWrite
	StatusErrErase
	StatusErrCheckErased
	StatusErrProg
	StatusErrVerify
	StatusErrAddress
	StatusErrNotDone
	StatusErrFirmware
	StatusErrVendor
	StatusErrUSBR
	StatusErrPOR
	StatusErrUnknown
	StatusErrStalledPkt
)

// Status is the 6-byte DFU status block returned by GETSTATUS (USB DFU 1.0,
// Table 6.2). Field order and width are fixed by the standard and must be
// preserved byte-for-byte on the wire.
type Status struct {
	Status       StatusCode
	PollTimeout  uint32 // 24 bits on the wire, little-endian
	State        State
	StringIndex  uint8
}

// Bytes converts the status block to its 6-byte wire representation. Built
// field-by-field, like the descriptor encoders in package usb, because
// PollTimeout is a non-native 24-bit width that encoding/binary cannot pack
// directly.
func (s Status) Bytes() []byte {
	b := make([]byte, 6)

	b[0] = byte(s.Status)
	b[1] = byte(s.PollTimeout)
	b[2] = byte(s.PollTimeout >> 8)
	b[3] = byte(s.PollTimeout >> 16)
	b[4] = byte(s.State)
	b[5] = s.StringIndex

	return b
}
