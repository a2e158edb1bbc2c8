// Package usb finds the download-mode device with libusb (through gousb)
// and hands it over as a core.Session. This is the only package using cgo.
package usb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"github.com/qdl-go/qdl/internal/core"
	"github.com/qdl-go/qdl/internal/logs"
)

const (
	requestTypeStandardIn = 0x80
	requestGetDescriptor  = 0x06
)

type Config struct {
	Identity      core.Identity
	SkipMalformed bool
	Debug         int // libusb log level, 0 is off
}

type LibUSB struct {
	usb      *gousb.Context
	log      *logs.Logger
	selector *core.Selector
}

func InitLibUSB(log *logs.Logger, cfg Config) *LibUSB {
	log.Log("init")
	ctx := gousb.NewContext()
	if cfg.Debug > 0 {
		ctx.Debug(cfg.Debug)
	}
	log.Log("init done")

	selector := core.NewSelector(log)
	if cfg.Identity != (core.Identity{}) {
		selector.Identity = cfg.Identity
	}
	selector.SkipMalformed = cfg.SkipMalformed

	return &LibUSB{
		usb:      ctx,
		log:      log,
		selector: selector,
	}
}

// Close releases the libusb context. Sessions must be closed first.
func (b *LibUSB) Close() error {
	b.log.Log("all close (should happen only on exit)")
	return b.usb.Close()
}

// Open enumerates the bus, selects the first download-mode interface and
// claims it. Every device of the right identity is opened to read its raw
// descriptors; the ones not selected are closed again before Open returns.
func (b *LibUSB) Open() (*core.Session, error) {
	b.log.Log("enumerating")
	devs, err := b.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		match := b.selector.Identity.Matches(uint16(desc.Vendor), uint16(desc.Product))
		b.log.Debugf("device %d:%d %s:%s matched %t", desc.Bus, desc.Address, desc.Vendor, desc.Product, match)
		return match
	})
	if err != nil {
		b.closeAll(devs, nil)
		return nil, &core.ClaimError{Interface: -1, Err: err}
	}
	b.log.Logf("enumerating done, %d candidate devices", len(devs))

	sources := make([]core.DeviceSource, len(devs))
	for i, dev := range devs {
		sources[i] = &rawSource{
			c:       dev,
			bus:     dev.Desc.Bus,
			address: dev.Desc.Address,
		}
	}
	cand, idx, err := b.selector.Walk(sources)
	if err != nil {
		b.closeAll(devs, nil)
		return nil, err
	}
	dev := devs[idx]
	b.closeAll(devs, dev)
	b.log.Logf("selected %s", cand)

	return b.claim(dev, cand)
}

func (b *LibUSB) claim(dev *gousb.Device, cand core.Candidate) (*core.Session, error) {
	fail := func(err error) (*core.Session, error) {
		return nil, &core.ClaimError{Interface: int(cand.Interface), Err: err}
	}

	b.log.Log("detaching kernel driver")
	if err := dev.SetAutoDetach(true); err != nil {
		// not supported on every platform, claiming may still work
		b.log.Logf("Warning: error at auto detach: %s", err)
	}

	b.log.Logf("set configuration %d", cand.Config)
	cfg, err := dev.Config(int(cand.Config))
	if err != nil {
		dev.Close()
		return fail(err)
	}

	b.log.Log("claiming interface")
	intf, err := cfg.Interface(int(cand.Interface), int(cand.AltSetting))
	if err != nil {
		cfg.Close()
		dev.Close()
		return fail(err)
	}
	h := &handle{intf: intf, cfg: cfg, dev: dev, log: b.log}

	in, err := intf.InEndpoint(int(cand.In.Address & core.EndpointNumberMask))
	if err != nil {
		h.Close()
		return fail(err)
	}
	out, err := intf.OutEndpoint(int(cand.Out.Address & core.EndpointNumberMask))
	if err != nil {
		h.Close()
		return fail(err)
	}
	b.log.Log("claiming interface done")

	return newSession(h, in, out, cand, b.log)
}

// newSession releases the claimed handle when the session cannot be built.
func newSession(h io.Closer, in core.BulkIn, out core.BulkOut, cand core.Candidate, log *logs.Logger) (*core.Session, error) {
	session, err := core.NewSession(h, in, out, cand, log)
	if err != nil {
		if cerr := h.Close(); cerr != nil {
			log.Logf("Warning: releasing interface: %s", cerr)
		}
		return nil, &core.ClaimError{Interface: int(cand.Interface), Err: err}
	}
	return session, nil
}

// closeAll closes every device except keep, logging the collected errors.
func (b *LibUSB) closeAll(devs []*gousb.Device, keep *gousb.Device) {
	var result error
	for _, dev := range devs {
		if dev == keep {
			continue
		}
		if err := dev.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		b.log.Logf("Warning: closing unselected devices: %s", result)
	}
}

// handle owns the claimed interface and releases it in reverse order.
type handle struct {
	intf *gousb.Interface
	cfg  *gousb.Config
	dev  *gousb.Device
	log  *logs.Logger
}

func (h *handle) Close() error {
	h.log.Log("releasing interface")
	h.intf.Close()

	var result error
	if err := h.cfg.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("releasing configuration: %w", err))
	}
	h.log.Log("low level close")
	if err := h.dev.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing device: %w", err))
	}
	return result
}

// controller issues control transfers on endpoint 0.
// *gousb.Device satisfies it.
type controller interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// rawSource reads descriptors with GET_DESCRIPTOR requests instead of
// using the parsed copies gousb keeps, which do not preserve endpoint order.
type rawSource struct {
	c       controller
	bus     int
	address int
}

func (s *rawSource) getDescriptor(dt uint8, index uint8, buf []byte) (int, error) {
	return s.c.Control(requestTypeStandardIn, requestGetDescriptor, uint16(dt)<<8|uint16(index), 0, buf)
}

func (s *rawSource) Descriptor() (core.DeviceDescriptor, error) {
	buf := make([]byte, core.DTDeviceSize)
	n, err := s.getDescriptor(core.DTDevice, 0, buf)
	if err != nil {
		return core.DeviceDescriptor{}, err
	}
	d, err := core.ParseDeviceDescriptor(buf[:n])
	if err != nil {
		return d, err
	}
	d.Bus = s.bus
	d.Address = s.address
	return d, nil
}

func (s *rawSource) Configs(count int) ([]core.ConfigDescriptor, error) {
	res := make([]core.ConfigDescriptor, 0, count)
	for i := 0; i < count; i++ {
		header := make([]byte, core.DTConfigSize)
		n, err := s.getDescriptor(core.DTConfig, uint8(i), header)
		if err != nil {
			return nil, fmt.Errorf("config %d: %w", i, err)
		}
		if n < core.DTConfigSize {
			return nil, fmt.Errorf("config %d: %w: %d bytes", i, core.ErrShortDescriptor, n)
		}

		total := binary.LittleEndian.Uint16(header[2:4])
		full := make([]byte, total)
		n, err = s.getDescriptor(core.DTConfig, uint8(i), full)
		if err != nil {
			return nil, fmt.Errorf("config %d: %w", i, err)
		}
		c, err := core.ParseConfigDescriptor(full[:n])
		if err != nil {
			return nil, fmt.Errorf("config %d: %w", i, err)
		}
		res = append(res, c)
	}
	return res, nil
}
