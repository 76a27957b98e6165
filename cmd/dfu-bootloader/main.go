// USB DFU 1.0 bootloader core
// https://github.com/usbarmory/tamago-dfu
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// +build tamago,arm

// Command dfu-bootloader wires the DFU protocol engine (package dfu), the
// USB control-transfer driver (package usb), and the boot decider (package
// board/bootloader) to the USB armory Mk II (package board/usbarmory),
// following example/example.go's role as the thing that is actually run on
// the board rather than imported by it.
package main

import (
	"io/ioutil"
	"log"
	"os"

	"github.com/usbarmory/tamago-dfu/board/bootloader"
	"github.com/usbarmory/tamago-dfu/board/usbarmory"
	"github.com/usbarmory/tamago-dfu/dfu"
	"github.com/usbarmory/tamago-dfu/dma"
	"github.com/usbarmory/tamago-dfu/usb"
)

// Flash layout (spec §6): 8 KiB reserved for this bootloader, the rest of
// a 2 MiB NOR part for the application.
const (
	appBase  = 0x08002000
	appEnd   = 0x08200000
	pageSize = 2048
)

const verbose = true

func init() {
	log.SetFlags(0)

	if verbose {
		log.SetOutput(os.Stdout)
	} else {
		log.SetOutput(ioutil.Discard)
	}
}

func newDevice(iface *usb.InterfaceDescriptor) *usb.Device {
	dev := &usb.Device{
		Descriptor: &usb.DeviceDescriptor{},
	}
	dev.Descriptor.SetDefaults()

	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()
	conf.AddInterface(iface)

	dev.AddConfiguration(conf)
	dev.SetLanguageCodes([]uint16{0x0409}) // en-us

	return dev
}

func newInterface() *usb.InterfaceDescriptor {
	dfuFn := &usb.DFUFunctionalDescriptor{}
	dfuFn.SetDefaults()

	iface := &usb.InterfaceDescriptor{}
	iface.SetDefaults()
	iface.InterfaceClass = usb.DFU_INTERFACE_CLASS
	iface.InterfaceSubClass = usb.DFU_INTERFACE_SUBCLASS
	iface.InterfaceProtocol = usb.DFU_PROTOCOL_DFU_MODE
	iface.ClassDescriptors = [][]byte{dfuFn.Bytes()}

	return iface
}

func main() {
	flash := &usbarmory.InternalFlash{
		Base:     appBase,
		PageSize: pageSize,
		End:      appEnd,
		UnlockFn: func() {},
		LockFn:   func() {},
		EraseFn:  func(addr uint32) {},
		WriteFn:  func(addr, word uint32) {},
	}

	recvAddr, recvBuf := dma.Reserve(dfu.LargestFlashPageSize, 32)
	defer dma.Release(recvAddr)

	engine := dfu.NewEngine(flash, appBase, recvBuf)

	iface := newInterface()
	dev := newDevice(iface)
	dev.Setup = usb.NewDFUSetup(usbarmory.USB, iface.InterfaceNumber, engine)

	platform := usbarmory.NewPlatform(usbarmory.USB, appBase)

	usbarmory.USB.Device = dev
	usbarmory.USB.OnReset = func() {
		if engine.BusReset() {
			platform.SystemHardReset()
		}
	}

	bootloader.Run(platform, flash, engine, bootloader.Config{})
}
