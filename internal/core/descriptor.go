package core

import (
	"encoding/binary"
	"fmt"
)

// Descriptor types and sizes from chapter 9 of the USB specification.
const (
	DTDevice    = 0x01
	DTConfig    = 0x02
	DTString    = 0x03
	DTInterface = 0x04
	DTEndpoint  = 0x05

	DTDeviceSize    = 18
	DTConfigSize    = 9
	DTInterfaceSize = 9
	DTEndpointSize  = 7

	EndpointDirIn       = 0x80
	EndpointNumberMask  = 0x0f
	TransferTypeMask    = 0x03
	TransferTypeControl = 0x00
	TransferTypeIso     = 0x01
	TransferTypeBulk    = 0x02
	TransferTypeIntr    = 0x03
)

// DeviceDescriptor is the standard device descriptor, plus the bus
// position it was read from.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USB               uint16
	Class             uint8
	SubClass          uint8
	Protocol          uint8
	MaxPacketSize0    uint8
	Vendor            uint16
	Product           uint16
	Device            uint16
	NumConfigurations uint8

	Bus     int
	Address int
}

// ConfigDescriptor holds a configuration with its interfaces in the order
// they appear on the wire.
type ConfigDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Attributes         uint8
	MaxPower           uint8

	Interfaces []Interface
}

// Interface groups the alternate settings sharing one interface number.
type Interface struct {
	AltSettings []InterfaceSetting
}

type InterfaceSetting struct {
	Length           uint8
	DescriptorType   uint8
	Number           uint8
	AlternateSetting uint8
	NumEndpoints     uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8

	Endpoints []EndpointDescriptor
}

type EndpointDescriptor struct {
	Length         uint8
	DescriptorType uint8
	Address        uint8
	Attributes     uint8
	MaxPacketSize  uint16
	Interval       uint8
}

func (e EndpointDescriptor) IsIn() bool {
	return e.Address&EndpointDirIn != 0
}

func (e EndpointDescriptor) IsBulk() bool {
	return e.Attributes&TransferTypeMask == TransferTypeBulk
}

func (e EndpointDescriptor) Number() int {
	return int(e.Address & EndpointNumberMask)
}

// ParseDeviceDescriptor decodes the 18 byte device descriptor.
func ParseDeviceDescriptor(data []byte) (DeviceDescriptor, error) {
	if len(data) < DTDeviceSize {
		return DeviceDescriptor{}, fmt.Errorf("device descriptor: %w: %d bytes", ErrShortDescriptor, len(data))
	}
	le := binary.LittleEndian
	return DeviceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		USB:               le.Uint16(data[2:4]),
		Class:             data[4],
		SubClass:          data[5],
		Protocol:          data[6],
		MaxPacketSize0:    data[7],
		Vendor:            le.Uint16(data[8:10]),
		Product:           le.Uint16(data[10:12]),
		Device:            le.Uint16(data[12:14]),
		NumConfigurations: data[17],
	}, nil
}

// ParseConfigDescriptor decodes a full configuration descriptor set
// (wTotalLength bytes). Interface and endpoint descriptors keep their wire
// order; class-specific descriptors are skipped. Only structural problems
// (truncation, zero-length descriptors) are reported here - field sanity
// is checked by the Selector so it applies to any descriptor source.
func ParseConfigDescriptor(data []byte) (ConfigDescriptor, error) {
	var c ConfigDescriptor
	if len(data) < DTConfigSize {
		return c, fmt.Errorf("config descriptor: %w: %d bytes", ErrShortDescriptor, len(data))
	}
	le := binary.LittleEndian
	c.Length = data[0]
	c.DescriptorType = data[1]
	c.TotalLength = le.Uint16(data[2:4])
	c.NumInterfaces = data[4]
	c.ConfigurationValue = data[5]
	c.Attributes = data[7]
	c.MaxPower = data[8]

	if int(c.TotalLength) < len(data) {
		data = data[:c.TotalLength]
	}

	index := make(map[uint8]int) // interface number => position in c.Interfaces
	var current *InterfaceSetting

	flush := func() {
		if current == nil {
			return
		}
		i, ok := index[current.Number]
		if !ok {
			i = len(c.Interfaces)
			index[current.Number] = i
			c.Interfaces = append(c.Interfaces, Interface{})
		}
		c.Interfaces[i].AltSettings = append(c.Interfaces[i].AltSettings, *current)
		current = nil
	}

	pos := int(c.Length)
	if pos < DTConfigSize {
		pos = DTConfigSize
	}
	for pos+2 <= len(data) {
		length := int(data[pos])
		descType := data[pos+1]
		if length == 0 {
			return c, fmt.Errorf("config descriptor: zero-length descriptor at offset %d", pos)
		}
		if pos+length > len(data) {
			return c, fmt.Errorf("config descriptor: descriptor at offset %d overruns buffer: %w", pos, ErrShortDescriptor)
		}

		switch descType {
		case DTInterface:
			flush()
			if pos+DTInterfaceSize > len(data) {
				return c, fmt.Errorf("interface descriptor at offset %d: %w", pos, ErrShortDescriptor)
			}
			current = &InterfaceSetting{
				Length:           data[pos],
				DescriptorType:   data[pos+1],
				Number:           data[pos+2],
				AlternateSetting: data[pos+3],
				NumEndpoints:     data[pos+4],
				Class:            data[pos+5],
				SubClass:         data[pos+6],
				Protocol:         data[pos+7],
			}
		case DTEndpoint:
			if current == nil {
				break
			}
			if pos+DTEndpointSize > len(data) {
				return c, fmt.Errorf("endpoint descriptor at offset %d: %w", pos, ErrShortDescriptor)
			}
			current.Endpoints = append(current.Endpoints, EndpointDescriptor{
				Length:         data[pos],
				DescriptorType: data[pos+1],
				Address:        data[pos+2],
				Attributes:     data[pos+3],
				MaxPacketSize:  le.Uint16(data[pos+4 : pos+6]),
				Interval:       data[pos+6],
			})
		}
		pos += length
	}
	flush()
	return c, nil
}
