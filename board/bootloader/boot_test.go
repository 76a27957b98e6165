// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bootloader

import (
	"testing"
	"time"
)

func TestDecideForceFlag(t *testing.T) {
	d := Decide(FlagForceDFU, false, true, false)

	if !d.ForceDFU || !d.BlinkStartup || d.DontWait {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideSkipWaitFlag(t *testing.T) {
	d := Decide(FlagSkipWait, false, true, false)

	if d.ForceDFU || d.BlinkStartup || !d.DontWait {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideDefaultNoUserCode(t *testing.T) {
	d := Decide(0, false, false, false)

	if !d.ForceDFU || !d.BlinkStartup {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideDefaultButtonHeld(t *testing.T) {
	d := Decide(0, false, true, true)

	if !d.ForceDFU || d.DontWait {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideFastBootButtonOverridesDontWait(t *testing.T) {
	// FASTBOOT sets dont_wait, but if the button is held the original
	// source re-clears it so the device still offers a DFU window.
	d := Decide(0, true, true, true)

	if !d.ForceDFU || d.DontWait {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideFastBootHappyPath(t *testing.T) {
	d := Decide(0, true, true, false)

	if d.ForceDFU || !d.DontWait || d.BlinkStartup {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

// fakePlatform is a host-testable double for Platform, recording calls
// instead of touching hardware.
type fakePlatform struct {
	flag          uint8
	userCode      bool
	button        bool
	blinks        []int
	waits         int
	jumped        bool
	hardReset     bool
	usbEnabled    bool
	interruptsOff bool
}

func (f *fakePlatform) SystemHardReset()           { f.hardReset = true }
func (f *fakePlatform) DisableInterrupts()         { f.interruptsOff = true }
func (f *fakePlatform) EnableUSBISR()              { f.usbEnabled = true }
func (f *fakePlatform) ReadButton() bool           { return f.button }
func (f *fakePlatform) CheckUserCodePresent() bool { return f.userCode }
func (f *fakePlatform) PersistentBootFlag() uint8  { return f.flag }
func (f *fakePlatform) JumpToApplication()         { f.jumped = true }
func (f *fakePlatform) Blink(count int, cadence time.Duration) {
	f.blinks = append(f.blinks, count)
}
func (f *fakePlatform) Wait(d time.Duration) { f.waits++ }

type fakeFlash struct{ unlocked bool }

func (f *fakeFlash) ErasePage(addr uint32) error              { return nil }
func (f *fakeFlash) WriteWord(addr uint32, word uint32) error { return nil }
func (f *fakeFlash) ReadAt(addr uint32, buf []byte)           {}
func (f *fakeFlash) Lock()                                    {}
func (f *fakeFlash) Unlock()                                  { f.unlocked = true }
func (f *fakeFlash) AppFlashEnd() uint32                      { return 0 }

type fakeEngine struct{ busy bool }

func (e *fakeEngine) Busy() bool { return e.busy }

func TestRunJumpsToApplicationWhenIdle(t *testing.T) {
	p := &fakePlatform{userCode: true}
	fl := &fakeFlash{}
	e := &fakeEngine{}

	Run(p, fl, e, Config{Wait: 3})

	if !p.jumped || p.hardReset {
		t.Fatalf("expected jump, got jumped=%v hardReset=%v", p.jumped, p.hardReset)
	}
	if !fl.unlocked {
		t.Fatalf("expected flash to be unlocked during the wait loop")
	}
	if !p.interruptsOff {
		t.Fatalf("expected interrupts disabled before jump")
	}
	if len(p.blinks) != 1+3 {
		t.Fatalf("expected the startup blink plus 3 wait-loop blinks, got %d blinks", len(p.blinks))
	}
}

func TestRunHardResetsWhenNothingToRun(t *testing.T) {
	p := &fakePlatform{userCode: false}
	fl := &fakeFlash{}
	e := &fakeEngine{}

	Run(p, fl, e, Config{Wait: 1})

	if p.jumped || !p.hardReset {
		t.Fatalf("expected hard reset, got jumped=%v hardReset=%v", p.jumped, p.hardReset)
	}
}

func TestRunSkipsWaitLoopOnSkipWaitFlag(t *testing.T) {
	p := &fakePlatform{flag: FlagSkipWait, userCode: true}
	fl := &fakeFlash{}
	e := &fakeEngine{}

	Run(p, fl, e, Config{Wait: 5})

	if fl.unlocked {
		t.Fatalf("expected flash to remain locked when the wait loop is skipped")
	}
	if !p.jumped {
		t.Fatalf("expected an immediate jump to the application")
	}
}
