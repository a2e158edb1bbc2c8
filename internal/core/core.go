package core

import (
	"fmt"
)

// Package with "core logic" of the download-mode transport:
// descriptor model, interface selection and the session primitives.
//
// The usb package is not imported here on purpose - it uses gousb,
// which needs cgo and libusb headers to build. Keeping this package
// free of it lets the selection and framing rules build and test
// on their own; the usb package implements USBBus instead.

// USBBus finds the download-mode interface and returns an opened,
// claimed session. It is implemented in the usb package.
type USBBus interface {
	Open() (*Session, error)
}

const (
	VendorQualcomm   = 0x05c6
	ProductEDL       = 0x9008
	ClassVendorSpec  = 0xff
	ProtocolFirehose = 0x10
)

// Identity is the exact vendor/product pair a device must report.
type Identity struct {
	Vendor  uint16
	Product uint16
}

// DownloadMode is the identity of a bootloader in emergency download mode.
var DownloadMode = Identity{Vendor: VendorQualcomm, Product: ProductEDL}

func (id Identity) Matches(vendor, product uint16) bool {
	return id.Vendor == vendor && id.Product == product
}

func (id Identity) String() string {
	return fmt.Sprintf("%04x:%04x", id.Vendor, id.Product)
}

// Signature is the interface class triple of the download-mode interface.
// Class and SubClass must match exactly, Protocol must be one of Protocols.
type Signature struct {
	Class     uint8
	SubClass  uint8
	Protocols []uint8
}

// VendorSignature is ff/ff with protocol ff or 0x10.
var VendorSignature = Signature{
	Class:     ClassVendorSpec,
	SubClass:  ClassVendorSpec,
	Protocols: []uint8{ClassVendorSpec, ProtocolFirehose},
}

func (s Signature) Matches(class, subClass, protocol uint8) bool {
	if class != s.Class {
		return false
	}
	if subClass != s.SubClass {
		return false
	}
	for _, p := range s.Protocols {
		if protocol == p {
			return true
		}
	}
	return false
}
