package core

import (
	"fmt"

	"github.com/qdl-go/qdl/internal/logs"
)

// Endpoint is a selected bulk endpoint.
type Endpoint struct {
	Address       uint8
	MaxPacketSize int
}

// Candidate is an interface that passed identity and signature checks.
type Candidate struct {
	Bus     int
	Address int
	Vendor  uint16
	Product uint16

	ConfigIndex int
	Config      uint8 // bConfigurationValue
	Interface   uint8
	AltSetting  uint8

	Class    uint8
	SubClass uint8
	Protocol uint8

	In  Endpoint
	Out Endpoint
}

func (c Candidate) String() string {
	return fmt.Sprintf("%d:%d %04x:%04x config %d interface %d (%02x/%02x/%02x) in 0x%02x/%d out 0x%02x/%d",
		c.Bus, c.Address, c.Vendor, c.Product, c.Config, c.Interface,
		c.Class, c.SubClass, c.Protocol,
		c.In.Address, c.In.MaxPacketSize, c.Out.Address, c.Out.MaxPacketSize)
}

// DeviceSource gives access to the descriptors of one attached device.
// Configs is only called for devices whose identity matched.
type DeviceSource interface {
	Descriptor() (DeviceDescriptor, error)
	Configs(count int) ([]ConfigDescriptor, error)
}

// Selector decides which interface of which device becomes the session.
//
// A descriptor that reads fine but is inconsistent aborts the whole walk
// with a *DescriptorError unless SkipMalformed is set, in which case only
// the offending interface (or configuration, or device) is skipped.
type Selector struct {
	Identity      Identity
	Signature     Signature
	SkipMalformed bool
	Log           *logs.Logger
}

// NewSelector returns a selector for the download-mode identity and signature.
func NewSelector(log *logs.Logger) *Selector {
	return &Selector{
		Identity:  DownloadMode,
		Signature: VendorSignature,
		Log:       log,
	}
}

// Walk inspects devices in order and returns the first candidate together
// with the index of the device it belongs to. Devices after it are not
// inspected. Failing to read a descriptor aborts the walk.
func (s *Selector) Walk(devices []DeviceSource) (Candidate, int, error) {
	for i, d := range devices {
		desc, err := d.Descriptor()
		if err != nil {
			return Candidate{}, -1, fmt.Errorf("reading device descriptor: %w", err)
		}
		if !s.Identity.Matches(desc.Vendor, desc.Product) {
			s.Log.Debugf("device %d:%d %04x:%04x does not match %s", desc.Bus, desc.Address, desc.Vendor, desc.Product, s.Identity)
			continue
		}
		configs, err := d.Configs(int(desc.NumConfigurations))
		if err != nil {
			return Candidate{}, -1, fmt.Errorf("reading config descriptors of %d:%d: %w", desc.Bus, desc.Address, err)
		}
		c, ok, err := s.Select(desc, configs)
		if err != nil {
			return Candidate{}, -1, err
		}
		if ok {
			return c, i, nil
		}
	}
	return Candidate{}, -1, ErrNotFound
}

// Select looks for the download-mode interface on one device.
// It returns ok == false when the device does not carry one.
func (s *Selector) Select(dev DeviceDescriptor, configs []ConfigDescriptor) (Candidate, bool, error) {
	s.Log.Debugf("device %d:%d: vendor 0x%04x product 0x%04x type %d configurations %d",
		dev.Bus, dev.Address, dev.Vendor, dev.Product, dev.DescriptorType, dev.NumConfigurations)

	if !s.Identity.Matches(dev.Vendor, dev.Product) {
		return Candidate{}, false, nil
	}
	if dev.DescriptorType != DTDevice {
		err := &DescriptorError{
			Level:   "device",
			Bus:     dev.Bus,
			Address: dev.Address,
			Reason:  fmt.Sprintf("descriptor type %d, want %d", dev.DescriptorType, DTDevice),
		}
		return Candidate{}, false, s.malformed(err)
	}

	for i, cfg := range configs {
		s.Log.Debugf("config %d: type %d interfaces %d", i, cfg.DescriptorType, len(cfg.Interfaces))
		if cfg.DescriptorType != DTConfig {
			err := &DescriptorError{
				Level:   "config",
				Bus:     dev.Bus,
				Address: dev.Address,
				Config:  i,
				Reason:  fmt.Sprintf("descriptor type %d, want %d", cfg.DescriptorType, DTConfig),
			}
			if err := s.malformed(err); err != nil {
				return Candidate{}, false, err
			}
			continue
		}

		for j, intf := range cfg.Interfaces {
			c, ok, derr := s.selectInterface(dev, i, cfg, j, intf)
			if derr != nil {
				if err := s.malformed(derr); err != nil {
					return Candidate{}, false, err
				}
				continue
			}
			if ok {
				return c, true, nil
			}
		}
	}
	return Candidate{}, false, nil
}

func (s *Selector) selectInterface(
	dev DeviceDescriptor,
	cfgIndex int,
	cfg ConfigDescriptor,
	intfIndex int,
	intf Interface,
) (Candidate, bool, *DescriptorError) {
	bad := func(reason string) *DescriptorError {
		return &DescriptorError{
			Level:     "interface",
			Bus:       dev.Bus,
			Address:   dev.Address,
			Config:    cfgIndex,
			Interface: intfIndex,
			Reason:    reason,
		}
	}

	if len(intf.AltSettings) == 0 {
		return Candidate{}, false, bad("no alternate settings")
	}
	alt := intf.AltSettings[0]
	if alt.DescriptorType != DTInterface {
		return Candidate{}, false, bad(fmt.Sprintf("descriptor type %d, want %d", alt.DescriptorType, DTInterface))
	}
	if alt.Length < DTInterfaceSize {
		return Candidate{}, false, bad(fmt.Sprintf("length %d, want at least %d", alt.Length, DTInterfaceSize))
	}

	// If there are several bulk endpoints of one direction the last one
	// wins. Download-mode firmware exposes exactly one pair.
	var in, out *Endpoint
	for k, ep := range alt.Endpoints {
		if ep.DescriptorType != DTEndpoint {
			return Candidate{}, false, &DescriptorError{
				Level:     "endpoint",
				Bus:       dev.Bus,
				Address:   dev.Address,
				Config:    cfgIndex,
				Interface: intfIndex,
				Endpoint:  k,
				Reason:    fmt.Sprintf("descriptor type %d, want %d", ep.DescriptorType, DTEndpoint),
			}
		}
		if !ep.IsBulk() {
			continue
		}
		if ep.MaxPacketSize == 0 {
			return Candidate{}, false, &DescriptorError{
				Level:     "endpoint",
				Bus:       dev.Bus,
				Address:   dev.Address,
				Config:    cfgIndex,
				Interface: intfIndex,
				Endpoint:  k,
				Reason:    fmt.Sprintf("bulk endpoint 0x%02x has max packet size 0", ep.Address),
			}
		}
		e := &Endpoint{Address: ep.Address, MaxPacketSize: int(ep.MaxPacketSize)}
		if ep.IsIn() {
			in = e
		} else {
			out = e
		}
	}

	if !s.Signature.Matches(alt.Class, alt.SubClass, alt.Protocol) {
		s.Log.Debugf("interface %d: class %02x/%02x/%02x rejected", alt.Number, alt.Class, alt.SubClass, alt.Protocol)
		return Candidate{}, false, nil
	}
	// the pair is per interface; half a pair cannot make a session
	if in == nil || out == nil {
		s.Log.Logf("interface %d has the download-mode signature but lacks a bulk endpoint pair, skipping", alt.Number)
		return Candidate{}, false, nil
	}

	return Candidate{
		Bus:         dev.Bus,
		Address:     dev.Address,
		Vendor:      dev.Vendor,
		Product:     dev.Product,
		ConfigIndex: cfgIndex,
		Config:      cfg.ConfigurationValue,
		Interface:   alt.Number,
		AltSetting:  alt.AlternateSetting,
		Class:       alt.Class,
		SubClass:    alt.SubClass,
		Protocol:    alt.Protocol,
		In:          *in,
		Out:         *out,
	}, true, nil
}

func (s *Selector) malformed(err *DescriptorError) error {
	if !s.SkipMalformed {
		return err
	}
	s.Log.Logf("skipping: %s", err)
	return nil
}
