// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bootloader implements the boot-mode decision (C4, spec §4.4) that
// surrounds DFU state entry/exit: at power-on it chooses between entering
// DFU and jumping to the resident application, based on a persistent flag,
// a user-button input, and an application-present check.
//
// The package is split the way package dfu is: Decide is a pure function
// (host-testable, no hardware), Run sequences the side effects against a
// Platform collaborator, and a separate board-specific file supplies the
// concrete Platform for real hardware.
package bootloader

import (
	"time"

	"github.com/usbarmory/tamago-dfu/dfu"
)

// Persistent boot flag values (spec §4.4/§6). Any other value (including
// the flag's erased/zero state) takes the default branch.
const (
	FlagForceDFU uint8 = 0x01
	FlagSkipWait uint8 = 0x02
)

// Blink cadences, named after STARTUP_BLINKS/BLINK_FAST/BLINK_SLOW in the
// original source (main.c).
const (
	StartupBlinks = 4
	ErrorBlinks   = 5

	BlinkFast = 100 * time.Millisecond
	BlinkSlow = 500 * time.Millisecond
)

// BootloaderWait is the number of slow-blink ticks the boot loop spends
// waiting for DFU activity before giving up and jumping to the application
// (main.c's BOOTLOADER_WAIT). Boards may override by constructing Config
// with a different value.
const BootloaderWait = 20

// Platform is the C4 external collaborator contract (spec §2): everything
// the boot decider needs from the board beyond the DFU engine and flash
// itself.
type Platform interface {
	// SystemHardReset restarts the whole process; the bootloader's
	// recovery story for "nothing to run" and for mid-transfer USB
	// resets (via dfu.Engine.BusReset) is always a full restart.
	SystemHardReset()

	// DisableInterrupts masks interrupts before handing control to the
	// application, matching nvicDisableInterrupts() in the reference
	// dfuUpdateByReset.
	DisableInterrupts()

	// EnableUSBISR brings up the USB controller's interrupt so the
	// protocol engine starts receiving control transfers.
	EnableUSBISR()

	// ReadButton reports whether the user-forces-DFU button is held.
	ReadButton() bool

	// CheckUserCodePresent reports whether a valid application image
	// is resident at APP_BASE (spec: "typically tests that the
	// stack-pointer word at APP_BASE lies inside RAM").
	CheckUserCodePresent() bool

	// PersistentBootFlag reads and clears the warm-reset-preserved
	// boot flag word (spec §6).
	PersistentBootFlag() uint8

	// JumpToApplication performs vector table relocation and transfers
	// control to APP_BASE. Purely mechanical, out of scope (spec §1);
	// never returns on success.
	JumpToApplication()

	// Blink strobes the status LED count times at the given cadence.
	Blink(count int, cadence time.Duration)

	// Wait blocks for d, yielding to the USB ISR goroutine so polled
	// DFU activity (dfu.Engine.Busy) can be observed between ticks.
	Wait(d time.Duration)
}

// Decision is the pure outcome of applying spec §4.4 step 2's switch over
// the persistent boot flag (and, in the default case, the user-code and
// button checks). Kept separate from Run so the branch table is testable
// without a Platform.
type Decision struct {
	// ForceDFU corresponds to the reference source's no_user_jump: the
	// boot loop runs even when DontWait is set.
	ForceDFU bool

	// DontWait corresponds to dont_wait: skip the blink-wait loop
	// unless ForceDFU also holds.
	DontWait bool

	// BlinkStartup requests the STARTUP_BLINKS fast-blink announcing
	// bootloader entry.
	BlinkStartup bool
}

// Decide applies spec §4.4 step 2 (main.c's checkAndClearBootloaderFlag
// switch) given the already-read flag value and the FastBoot build-time
// configuration (SPEC_FULL.md §6's carried-over #ifdef FASTBOOT behaviour).
func Decide(flag uint8, fastBoot, userCodePresent, buttonHeld bool) Decision {
	switch flag {
	case FlagForceDFU:
		return Decision{ForceDFU: true, BlinkStartup: true}

	case FlagSkipWait:
		return Decision{DontWait: true}

	default:
		d := Decision{}

		if fastBoot {
			d.DontWait = true
		} else {
			d.BlinkStartup = true
		}

		if !userCodePresent {
			d.ForceDFU = true
		} else if buttonHeld {
			d.ForceDFU = true

			if fastBoot {
				d.DontWait = false
			}
		}

		return d
	}
}

// Config selects the compile-time boot behaviour that spec.md leaves to
// the board (FastBoot, BootloaderWait override).
type Config struct {
	// FastBoot mirrors the reference source's #ifdef FASTBOOT: skip the
	// blink-wait loop by default, still entering DFU if no application
	// is present or the button is held (SPEC_FULL.md §6).
	FastBoot bool

	// Wait overrides BootloaderWait when non-zero.
	Wait int
}

// busyEngine is the subset of *dfu.Engine the boot loop polls.
type busyEngine interface {
	Busy() bool
}

// Run executes the C4 boot decider end-to-end: read the persistent flag,
// decide, optionally blink and wait for DFU activity, then either jump to
// the application or hard-reset. It never returns when JumpToApplication
// or SystemHardReset succeed; it returns only to let callers in tests
// observe the outcome via a fake Platform whose JumpToApplication/
// SystemHardReset just record the call instead of halting.
func Run(p Platform, flash dfu.Flash, engine busyEngine, cfg Config) {
	flag := p.PersistentBootFlag()
	d := Decide(flag, cfg.FastBoot, p.CheckUserCodePresent(), p.ReadButton())

	if d.BlinkStartup {
		p.Blink(StartupBlinks, BlinkFast)
	}

	if !d.DontWait || d.ForceDFU {
		p.EnableUSBISR()
		flash.Unlock()

		wait := BootloaderWait
		if cfg.Wait != 0 {
			wait = cfg.Wait
		}

		for tick := 0; tick < wait; tick++ {
			p.Blink(1, BlinkSlow)
			p.Wait(BlinkSlow)

			if engine.Busy() {
				finishUpload(p)
				return
			}
		}
	}

	if p.CheckUserCodePresent() {
		p.DisableInterrupts()
		p.JumpToApplication()
		return
	}

	p.Blink(ErrorBlinks, BlinkFast)
	p.SystemHardReset()
}

// finishUpload surrenders the main thread to DFU indefinitely once a
// transfer has started (spec §4.4 step 3). The actual end of the session
// is a USB bus reset, which reaches the protocol engine through
// dfu.Engine.BusReset (invoked from the usb package's OnReset hook, not
// from here); that hook calls Platform.SystemHardReset when BusReset
// reports a hard reset is required. This loop only needs to stop polling
// the boot decider's own timeout.
func finishUpload(p Platform) {
	for {
		p.Wait(BlinkSlow)
	}
}
