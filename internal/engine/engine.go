// Package engine has the default handshake and flash engines. They only
// exercise the session far enough to prove it works; full protocol engines
// plug into the same bootstrap interfaces.
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/qdl-go/qdl/internal/bootstrap"
	"github.com/qdl-go/qdl/internal/core"
	"github.com/qdl-go/qdl/internal/filetype"
	"github.com/qdl-go/qdl/internal/logs"
	"github.com/qdl-go/qdl/internal/stage"
)

const (
	helloHeaderSize = 8
	maxHelloPacket  = 4096

	DefaultHelloTimeout = 5 * time.Second
)

var (
	ErrShortHello   = errors.New("hello packet too short")
	ErrEmptyProgram = errors.New("programmer image is empty")
)

// Hello waits for the first packet a device in download mode sends on its
// own and checks the programmer image can be read.
type Hello struct {
	Timeout time.Duration
	Log     *logs.Logger
}

func (h *Hello) Handshake(ctx context.Context, s *core.Session, programmer string) error {
	fi, err := os.Stat(programmer)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%s: %w", programmer, ErrEmptyProgram)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHelloTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}

	buf := make([]byte, maxHelloPacket)
	n, err := s.Read(buf, timeout)
	if err != nil {
		return fmt.Errorf("waiting for hello: %w", err)
	}
	if n < helloHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortHello, n)
	}
	cmd := binary.LittleEndian.Uint32(buf[0:4])
	length := binary.LittleEndian.Uint32(buf[4:8])
	h.Log.Logf("hello: command 0x%x, length %d, received %d bytes", cmd, length, n)
	h.Log.Logf("programmer %s (%d bytes) ready", programmer, fi.Size())
	return nil
}

// Report logs what would be flashed and over which session.
type Report struct {
	Manifest *stage.Manifest
	Log      *logs.Logger
}

func (r *Report) Flash(ctx context.Context, s *core.Session, opts bootstrap.FlashOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, out := s.InEndpoint(), s.OutEndpoint()
	r.Log.Logf("flashing %s storage over in 0x%02x (%d) out 0x%02x (%d)",
		opts.Storage, in.Address, in.MaxPacketSize, out.Address, out.MaxPacketSize)
	if opts.Include != "" {
		r.Log.Logf("image search path %s", opts.Include)
	}

	var total int64
	for _, e := range r.Manifest.Entries() {
		line := fmt.Sprintf("%-20s %10d %s", e.Kind, e.Size, e.Path)
		if e.Kind == filetype.StorageProvisioning && e.Finalize {
			line += " (finalize)"
		}
		r.Log.Log(line)
		total += e.Size
	}
	r.Log.Logf("%d support files, %d bytes", len(r.Manifest.Entries()), total)
	return nil
}
