// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbarmory wires the DFU core (packages dfu, usb, board/bootloader)
// to a concrete i.MX6ULL target: the USB armory Mk II. It supplies the
// board.bootloader.Platform and dfu.Flash implementations that are purely
// mechanical per spec §1 ("flash controller register programming...
// clock/GPIO/LED setup... are purely mechanical") and the USB controller
// instance the usb package drives.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package usbarmory

import (
	"time"

	"github.com/usbarmory/tamago-dfu/internal/reg"
	"github.com/usbarmory/tamago-dfu/usb"
)

// Peripheral registers (p3823 IMX6ULLRM, 56.6 USB Core Memory Map), matching
// the addresses soc/imx6/imx6ul.go assigns to USB controller 1, the
// controller wired to the armory's type-C port.
const (
	USBAnalog1Base = 0x020c81a0
	USBPHY1Base    = 0x020c9000
	USB1Base       = 0x02184000

	// CCM_CCGR6, clock gate 0: USB OH3 clock (p1084/1096, IMX6ULLRM).
	CCMCCGR6 = 0x020c4080
	CCGUSBOH = 0

	// LED GPIOs (usbarmory/mark-two/led.go): pad CSI_DATA00/01 on GPIO4.
	GPIO4DR   = 0x020a8000
	GPIO4GDIR = 0x020a8004
	LEDWhite  = 21
	LEDBlue   = 22

	// User button, same GPIO4 bank, next pad over (CSI_DATA02).
	ButtonPin = 23
)

// USB is the USB armory Mk II's USB controller 1 instance, configured the
// way soc/imx6/imx6ul.go configures USB1 for the armory's exposed port.
var USB = &usb.USB{
	Base:   USB1Base,
	CCGR:   CCMCCGR6,
	CG:     CCGUSBOH,
	Analog: USBAnalog1Base,
	PHY:    USBPHY1Base,
	EnablePLL: func() error {
		// USB1 PLL bring-up (CCM_ANALOG_PLL_USB1) is mechanical
		// clock-tree programming, out of scope per spec §1; a real
		// board package performs it here before Init is called.
		return nil
	},
}

func init() {
	reg.Set(GPIO4GDIR, LEDWhite)
	reg.Set(GPIO4GDIR, LEDBlue)
	reg.Clear(GPIO4GDIR, ButtonPin)
}

// Platform implements board/bootloader.Platform for the USB armory Mk II.
type Platform struct {
	hw      *usb.USB
	appBase uint32
}

// NewPlatform constructs a Platform bound to the USB controller instance
// (its Device field must already carry the DFU descriptor set and class
// setup hook the cmd entry point assembles) and to the flash offset the
// application is expected to boot from.
func NewPlatform(hw *usb.USB, appBase uint32) *Platform {
	return &Platform{hw: hw, appBase: appBase}
}

// SystemHardReset panics. Restarting the SoC through the watchdog (the
// mechanism every tamago board in the pack uses in place of a dedicated
// reset register, pi/watchdog.go's Start/pet pair being the same
// peripheral family) is not implemented in this package; this stub
// documents the contract a board collaborator fulfils.
func (p *Platform) SystemHardReset() {
	panic("usbarmory: SystemHardReset must be supplied by a watchdog-backed board build")
}

// DisableInterrupts stops the USB controller (clears USBCMD.RS) before
// handing control to the application, in the place of nvicDisableInterrupts
// in the reference dfuUpdateByReset; other interrupt sources are not masked.
func (p *Platform) DisableInterrupts() {
	reg.Clear(USB1Base+usb.USB_UOGx_USBCMD, usb.USBCMD_RS)
}

// EnableUSBISR brings up the USB controller and starts servicing endpoint 0.
func (p *Platform) EnableUSBISR() {
	p.hw.Init()
	p.hw.DeviceMode()
	go p.hw.Start(p.hw.Device)
}

// ReadButton reports whether the user-forces-DFU button is held, active low
// per usbarmory/mark-two's GPIO convention (button.go in the f-secure
// layout; here inlined since this package only needs a single bit).
func (p *Platform) ReadButton() bool {
	return reg.Get(GPIO4DR, ButtonPin, 1) == 0
}

// CheckUserCodePresent reports whether a valid application image is
// resident at APP_BASE: the stack-pointer word stored there must point
// inside the SoC's on-chip RAM (OCRAM, 0x00900000-0x0093ffff on i.MX6ULL).
func (p *Platform) CheckUserCodePresent() bool {
	sp := reg.Read(p.appBase)
	return sp >= 0x00900000 && sp < 0x00940000
}

// PersistentBootFlag reads and clears the warm-reset-preserved boot flag
// word, linked into a fixed SNVS general-purpose register the way
// usbarmory/mark-two/mem.go links ramSize into a runtime symbol: both
// survive a warm reset but not a cold power-up, which is exactly the
// "force bootloader entry without a physical button" contract spec §6
// wants.
const bootFlagReg = 0x020cc034 // SNVS_LPGPR0, survives warm reset

func (p *Platform) PersistentBootFlag() uint8 {
	v := uint8(reg.Read(bootFlagReg))
	reg.Write(bootFlagReg, 0)
	return v
}

// Blink strobes the white LED count times at the given cadence, the way
// usbarmory/mark-two/led.go's LED() function drives the same GPIO pair
// (active low: Low() turns the LED on).
func (p *Platform) Blink(count int, cadence time.Duration) {
	for i := 0; i < count; i++ {
		reg.Clear(GPIO4DR, LEDWhite)
		time.Sleep(cadence)
		reg.Set(GPIO4DR, LEDWhite)
		time.Sleep(cadence)
	}
}

// Wait blocks for d. On tamago this yields to the runtime scheduler so the
// USB ISR goroutine started by EnableUSBISR can observe control transfers
// during the blink-wait loop.
func (p *Platform) Wait(d time.Duration) {
	time.Sleep(d)
}

// JumpToApplication panics: vector table relocation and the transfer of
// control to p.appBase are not implemented in this package. The reference
// trampoline (ARM `bx` through a relocated VTOR) is
// architecture assembly, out of scope for this package same as the flash
// controller sequencing in InternalFlash (flash.go).
func (p *Platform) JumpToApplication() {
	panic("usbarmory: JumpToApplication must be supplied by an architecture-specific trampoline")
}
