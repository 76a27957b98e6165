// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dfu

// Stage is the result of one invocation of a Source callback (C2, spec
// §4.2/§9). The original firmware's endpoint-0 callbacks are invoked twice
// per transfer: once with length 0 to announce the total transfer size,
// once with length>0 to fetch a pointer to the bytes at the current
// wOffset. Returning a null sentinel pointer for the first case is awkward
// and unsafe in Go, so a Stage is a discriminated union instead (spec §9's
// "Announce{length} / Buffer{&mut [u8]}" suggestion): exactly one of
// Length or Data is meaningful, selected by IsAnnounce.
type Stage struct {
	isAnnounce bool
	length     int
	data       []byte
}

// Announce reports the total length of the upcoming transfer.
func Announce(length int) Stage {
	return Stage{isAnnounce: true, length: length}
}

// Buffer supplies the bytes for the transfer, or a window into them
// starting at the requested offset.
func Buffer(data []byte) Stage {
	return Stage{data: data}
}

// IsAnnounce reports whether this Stage is an Announce (first invocation).
func (s Stage) IsAnnounce() bool {
	return s.isAnnounce
}

// Length returns the announced transfer length. Valid only when IsAnnounce.
func (s Stage) Length() int {
	return s.length
}

// Data returns the transfer bytes. Valid only when !IsAnnounce.
func (s Stage) Data() []byte {
	return s.data
}

// Source is the shape of each of the four endpoint-0 control-source
// callbacks (C2, spec §4.2): CopyState, CopyStatus, CopyDNLOAD, CopyUPLOAD.
// wOffset is the current offset into the transfer, owned by the USB driver;
// length is 0 on the announcing call and the requested chunk size
// thereafter.
type Source func(wOffset, length int) Stage

// CopyState serves GETSTATE: a single byte, the current bState.
func (e *Engine) CopyState(wOffset, length int) Stage {
	if length == 0 {
		return Announce(1)
	}

	return Buffer([]byte{byte(e.state)})
}

// CopyStatus serves GETSTATUS: the 6-byte status block.
func (e *Engine) CopyStatus(wOffset, length int) Stage {
	if length == 0 {
		return Announce(6)
	}

	return Buffer(e.status.Bytes()[wOffset:])
}

// CopyDNLOAD serves the OUT data phase of DNLOAD. On the announcing call it
// records thisBlockLen from the request's wLength (set by the caller via
// BeginDnload before the transfer starts) and reports the remaining bytes
// to receive; on the fetch call it returns the window of the receive buffer
// the driver should write into.
func (e *Engine) CopyDNLOAD(wOffset, length int) Stage {
	if length == 0 {
		e.thisBlockLen = e.pendingDnloadLen
		return Announce(int(e.pendingDnloadLen) - wOffset)
	}

	return Buffer(e.recvBuf[wOffset:])
}

// BeginDnload records the wLength of an incoming DNLOAD data phase before
// the USB driver starts invoking CopyDNLOAD. The engine's DnLoadSync state
// entry (Handle) happens before the data phase is transferred, so the
// driver must tell the engine the transfer's length separately from the
// SETUP-phase Handle call.
func (e *Engine) BeginDnload(wLength uint16) {
	e.pendingDnloadLen = wLength
}

// CopyUPLOAD serves the IN data phase of UPLOAD, reading directly from the
// flash region at the running cursor rather than staging through
// recvBuffer, matching the original firmware's direct pointer read.
func (e *Engine) CopyUPLOAD(wOffset, length int) Stage {
	if length == 0 {
		return Announce(int(e.thisBlockLen) - wOffset)
	}

	addr := e.appBase + e.userFirmwareLen + uint32(wOffset)
	buf := make([]byte, int(e.thisBlockLen)-wOffset)
	e.flash.ReadAt(addr, buf)

	return Buffer(buf)
}
