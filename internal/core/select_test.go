package core

import (
	"errors"
	"testing"

	"github.com/qdl-go/qdl/internal/logs"
)

func bulk(addr uint8, size uint16) EndpointDescriptor {
	return EndpointDescriptor{
		Length:         DTEndpointSize,
		DescriptorType: DTEndpoint,
		Address:        addr,
		Attributes:     TransferTypeBulk,
		MaxPacketSize:  size,
	}
}

func intr(addr uint8) EndpointDescriptor {
	return EndpointDescriptor{
		Length:         DTEndpointSize,
		DescriptorType: DTEndpoint,
		Address:        addr,
		Attributes:     TransferTypeIntr,
		MaxPacketSize:  64,
	}
}

func iface(number, class, subClass, protocol uint8, eps ...EndpointDescriptor) Interface {
	return Interface{AltSettings: []InterfaceSetting{{
		Length:         DTInterfaceSize,
		DescriptorType: DTInterface,
		Number:         number,
		NumEndpoints:   uint8(len(eps)),
		Class:          class,
		SubClass:       subClass,
		Protocol:       protocol,
		Endpoints:      eps,
	}}}
}

func config(value uint8, ifaces ...Interface) ConfigDescriptor {
	return ConfigDescriptor{
		Length:             DTConfigSize,
		DescriptorType:     DTConfig,
		NumInterfaces:      uint8(len(ifaces)),
		ConfigurationValue: value,
		Interfaces:         ifaces,
	}
}

func edlDevice() DeviceDescriptor {
	return DeviceDescriptor{
		Length:            DTDeviceSize,
		DescriptorType:    DTDevice,
		Vendor:            VendorQualcomm,
		Product:           ProductEDL,
		NumConfigurations: 1,
		Bus:               1,
		Address:           7,
	}
}

func edlInterface(number uint8) Interface {
	return iface(number, 0xff, 0xff, 0xff, bulk(0x81, 512), bulk(0x01, 512))
}

func TestSelectPicksMatchingInterfaceAnywhere(t *testing.T) {
	others := []Interface{
		iface(0, 0x08, 0x06, 0x50, bulk(0x82, 512), bulk(0x02, 512)), // mass storage
		iface(1, 0xff, 0x42, 0x01, bulk(0x83, 64), bulk(0x03, 64)),   // adb-like
		iface(2, 0x02, 0x02, 0x01, intr(0x84)),                       // cdc
	}
	for pos := 0; pos <= len(others); pos++ {
		var ifaces []Interface
		ifaces = append(ifaces, others[:pos]...)
		ifaces = append(ifaces, edlInterface(9))
		ifaces = append(ifaces, others[pos:]...)

		s := NewSelector(logs.Discard())
		c, ok, err := s.Select(edlDevice(), []ConfigDescriptor{config(1, ifaces...)})
		if err != nil || !ok {
			t.Fatalf("position %d: ok=%v err=%v", pos, ok, err)
		}
		if c.Interface != 9 {
			t.Errorf("position %d: selected interface %d", pos, c.Interface)
		}
		if c.In.Address != 0x81 || c.Out.Address != 0x01 {
			t.Errorf("position %d: endpoints %+v %+v", pos, c.In, c.Out)
		}
	}
}

func TestSelectProtocols(t *testing.T) {
	testcases := []struct {
		class, subClass, protocol uint8
		ok                        bool
	}{
		{0xff, 0xff, 0xff, true},
		{0xff, 0xff, 0x10, true},
		{0xff, 0xff, 0x11, false},
		{0xff, 0xfe, 0xff, false},
		{0xfe, 0xff, 0xff, false},
		{0x00, 0x00, 0x00, false},
	}
	for _, tc := range testcases {
		in := iface(0, tc.class, tc.subClass, tc.protocol, bulk(0x81, 512), bulk(0x01, 512))
		_, ok, err := NewSelector(logs.Discard()).Select(edlDevice(), []ConfigDescriptor{config(1, in)})
		if err != nil {
			t.Fatal(err)
		}
		if ok != tc.ok {
			t.Errorf("%02x/%02x/%02x: selected = %v, want %v", tc.class, tc.subClass, tc.protocol, ok, tc.ok)
		}
	}
}

func TestSelectLastBulkEndpointWins(t *testing.T) {
	in := iface(0, 0xff, 0xff, 0xff,
		bulk(0x81, 64),
		bulk(0x01, 64),
		intr(0x83),
		bulk(0x82, 512),
		bulk(0x02, 1024),
	)
	c, ok, err := NewSelector(logs.Discard()).Select(edlDevice(), []ConfigDescriptor{config(1, in)})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if c.In != (Endpoint{Address: 0x82, MaxPacketSize: 512}) {
		t.Errorf("in endpoint %+v", c.In)
	}
	if c.Out != (Endpoint{Address: 0x02, MaxPacketSize: 1024}) {
		t.Errorf("out endpoint %+v", c.Out)
	}
}

func TestSelectIdentityMismatch(t *testing.T) {
	ids := []struct{ vendor, product uint16 }{
		{0x05c6, 0x9025},
		{0x18d1, 0x9008},
		{0x0000, 0x0000},
	}
	for _, id := range ids {
		dev := edlDevice()
		dev.Vendor, dev.Product = id.vendor, id.product
		_, ok, err := NewSelector(logs.Discard()).Select(dev, []ConfigDescriptor{config(1, edlInterface(0))})
		if ok || err != nil {
			t.Errorf("%04x:%04x: ok=%v err=%v", id.vendor, id.product, ok, err)
		}
	}
}

func TestSelectFirstConfigurationWins(t *testing.T) {
	dev := edlDevice()
	dev.NumConfigurations = 2
	configs := []ConfigDescriptor{
		config(1, iface(0, 0x08, 0x06, 0x50), edlInterface(3)),
		config(2, edlInterface(0)),
	}
	c, ok, err := NewSelector(logs.Discard()).Select(dev, configs)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if c.Config != 1 || c.ConfigIndex != 0 || c.Interface != 3 {
		t.Errorf("selected %s", c)
	}
}

func TestSelectOnlyFirstAltSetting(t *testing.T) {
	in := iface(0, 0x00, 0x00, 0x00)
	in.AltSettings = append(in.AltSettings, edlInterface(0).AltSettings[0])
	_, ok, err := NewSelector(logs.Discard()).Select(edlDevice(), []ConfigDescriptor{config(1, in)})
	if ok || err != nil {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestSelectRequiresBothDirections(t *testing.T) {
	onlyIn := iface(0, 0xff, 0xff, 0xff, bulk(0x81, 512), intr(0x02))
	_, ok, err := NewSelector(logs.Discard()).Select(edlDevice(), []ConfigDescriptor{config(1, onlyIn)})
	if ok || err != nil {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func malformedConfigs() map[string][]ConfigDescriptor {
	badConfig := config(1, edlInterface(0))
	badConfig.DescriptorType = DTInterface

	badType := edlInterface(0)
	badType.AltSettings[0].DescriptorType = DTEndpoint

	badLength := edlInterface(0)
	badLength.AltSettings[0].Length = 5

	badEndpoint := iface(0, 0x08, 0x06, 0x50, bulk(0x81, 512))
	badEndpoint.AltSettings[0].Endpoints[0].DescriptorType = DTConfig

	zeroPacket := iface(0, 0xff, 0xff, 0xff, bulk(0x81, 512), bulk(0x01, 0))

	return map[string][]ConfigDescriptor{
		"zero packet":    {config(1, zeroPacket)},
		"config type":    {badConfig},
		"interface type": {config(1, badType)},
		"short iface":    {config(1, badLength)},
		"endpoint type":  {config(1, badEndpoint)},
		"no altsettings": {config(1, Interface{})},
	}
}

func TestSelectMalformedAborts(t *testing.T) {
	for name, configs := range malformedConfigs() {
		// a valid interface after the broken one must not be reached
		configs = append(configs, config(2, edlInterface(1)))
		_, ok, err := NewSelector(logs.Discard()).Select(edlDevice(), configs)
		var de *DescriptorError
		if ok || !errors.As(err, &de) {
			t.Errorf("%s: ok=%v err=%v", name, ok, err)
		}
	}
}

func TestSelectMalformedSkipped(t *testing.T) {
	for name, configs := range malformedConfigs() {
		configs = append(configs, config(2, edlInterface(1)))
		s := NewSelector(logs.Discard())
		s.SkipMalformed = true
		c, ok, err := s.Select(edlDevice(), configs)
		if err != nil || !ok {
			t.Errorf("%s: ok=%v err=%v", name, ok, err)
			continue
		}
		if c.Config != 2 || c.Interface != 1 {
			t.Errorf("%s: selected %s", name, c)
		}
	}
}

func TestSelectRejectsZeroPacketSize(t *testing.T) {
	zero := iface(0, 0xff, 0xff, 0xff, bulk(0x81, 512), bulk(0x01, 0))
	_, ok, err := NewSelector(logs.Discard()).Select(edlDevice(), []ConfigDescriptor{config(1, zero)})
	var de *DescriptorError
	if ok || !errors.As(err, &de) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if de.Level != "endpoint" || de.Endpoint != 1 {
		t.Errorf("unexpected error %+v", de)
	}
}

func TestSelectMalformedDevice(t *testing.T) {
	dev := edlDevice()
	dev.DescriptorType = DTConfig
	_, _, err := NewSelector(logs.Discard()).Select(dev, []ConfigDescriptor{config(1, edlInterface(0))})
	var de *DescriptorError
	if !errors.As(err, &de) || de.Level != "device" {
		t.Errorf("err=%v", err)
	}
}

type fakeSource struct {
	desc        DeviceDescriptor
	configs     []ConfigDescriptor
	descErr     error
	configCalls int
}

func (f *fakeSource) Descriptor() (DeviceDescriptor, error) {
	return f.desc, f.descErr
}

func (f *fakeSource) Configs(n int) ([]ConfigDescriptor, error) {
	f.configCalls++
	return f.configs, nil
}

func TestWalkStopsAtFirstMatch(t *testing.T) {
	other := edlDevice()
	other.Vendor = 0x1d6b
	noSig := &fakeSource{desc: edlDevice(), configs: []ConfigDescriptor{config(1, iface(0, 0x08, 0x06, 0x50))}}
	stranger := &fakeSource{desc: other, configs: []ConfigDescriptor{config(1, edlInterface(0))}}
	match := &fakeSource{desc: edlDevice(), configs: []ConfigDescriptor{config(1, edlInterface(4))}}
	after := &fakeSource{desc: edlDevice(), configs: []ConfigDescriptor{config(1, edlInterface(5))}}

	c, i, err := NewSelector(logs.Discard()).Walk([]DeviceSource{noSig, stranger, match, after})
	if err != nil {
		t.Fatal(err)
	}
	if i != 2 || c.Interface != 4 {
		t.Errorf("selected device %d interface %d", i, c.Interface)
	}
	if stranger.configCalls != 0 {
		t.Error("configs of a device with a foreign identity were read")
	}
	if after.configCalls != 0 {
		t.Error("devices after the selected one were inspected")
	}
}

func TestWalkNotFound(t *testing.T) {
	other := edlDevice()
	other.Product = 0x1234
	_, _, err := NewSelector(logs.Discard()).Walk([]DeviceSource{
		&fakeSource{desc: other, configs: []ConfigDescriptor{config(1, edlInterface(0))}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v", err)
	}
	_, _, err = NewSelector(logs.Discard()).Walk(nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("empty bus: err=%v", err)
	}
}

func TestWalkDescriptorReadFailureAborts(t *testing.T) {
	cause := errors.New("io")
	_, _, err := NewSelector(logs.Discard()).Walk([]DeviceSource{
		&fakeSource{descErr: cause},
		&fakeSource{desc: edlDevice(), configs: []ConfigDescriptor{config(1, edlInterface(0))}},
	})
	if !errors.Is(err, cause) {
		t.Errorf("err=%v", err)
	}
}
