package core

import (
	"context"
	"io"
	"time"

	"github.com/qdl-go/qdl/internal/logs"
)

// BulkIn is the receiving half of a bulk endpoint pair.
// *gousb.InEndpoint satisfies it.
type BulkIn interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// BulkOut is the sending half of a bulk endpoint pair.
// *gousb.OutEndpoint satisfies it.
type BulkOut interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Session is an opened device with a claimed interface and its selected
// bulk endpoints. All transport I/O goes through it; there is one in-flight
// transfer at a time, so it is not safe for concurrent use.
type Session struct {
	handle io.Closer
	in     BulkIn
	out    BulkOut
	cand   Candidate
	log    *logs.Logger
	closed bool
}

// NewSession bundles an opened handle with its endpoints. It fails, without
// touching the handle, unless every part of the session is present.
func NewSession(handle io.Closer, in BulkIn, out BulkOut, cand Candidate, log *logs.Logger) (*Session, error) {
	if handle == nil {
		return nil, ErrNilHandle
	}
	if in == nil || out == nil {
		return nil, ErrNilEndpoint
	}
	if cand.In.MaxPacketSize <= 0 || cand.Out.MaxPacketSize <= 0 {
		return nil, ErrBadPacketSize
	}
	if cand.In.Address&EndpointDirIn == 0 || cand.Out.Address&EndpointDirIn != 0 {
		return nil, ErrWrongDirection
	}
	return &Session{
		handle: handle,
		in:     in,
		out:    out,
		cand:   cand,
		log:    log,
	}, nil
}

func (s *Session) Candidate() Candidate {
	return s.cand
}

func (s *Session) InEndpoint() Endpoint {
	return s.cand.In
}

func (s *Session) OutEndpoint() Endpoint {
	return s.cand.Out
}

// Read issues one bulk-IN transfer of at most len(buf) bytes and returns
// how many bytes arrived. A timeout <= 0 waits forever. Errors, including
// timeouts, are returned as *TransportError wrapping the USB error; it is up
// to the protocol on top to decide whether a short or missing read is fine.
func (s *Session) Read(buf []byte, timeout time.Duration) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	n, err := s.in.ReadContext(ctx, buf)
	if err != nil {
		s.log.Debugf("read on 0x%02x failed after %d bytes: %s", s.cand.In.Address, n, err)
		return n, &TransportError{Op: "read", Endpoint: s.cand.In.Address, Err: err}
	}
	s.log.Debugf("read %d bytes", n)
	return n, nil
}

// Write sends buf on the bulk-OUT endpoint without a timeout.
// See WriteContext.
func (s *Session) Write(buf []byte, eot bool) (int, error) {
	return s.WriteContext(context.Background(), buf, eot)
}

// WriteContext splits buf into transfers of at most the OUT max packet size.
// With eot set and len(buf) a multiple of the packet size (zero included),
// a zero-length packet follows so the peer sees the end of the transfer;
// otherwise the final short chunk already marks it.
//
// The first failed chunk ends the write. Partial writes are not resumable.
func (s *Session) WriteContext(ctx context.Context, buf []byte, eot bool) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	size := s.cand.Out.MaxPacketSize
	written := 0
	for written < len(buf) {
		xfer := len(buf) - written
		if xfer > size {
			xfer = size
		}
		n, err := s.out.WriteContext(ctx, buf[written:written+xfer])
		written += n
		if err != nil {
			return written, &TransportError{Op: "write", Endpoint: s.cand.Out.Address, Err: err}
		}
		if n != xfer {
			return written, &TransportError{Op: "write", Endpoint: s.cand.Out.Address, Err: io.ErrShortWrite}
		}
	}

	if eot && len(buf)%size == 0 {
		s.log.Debugf("write of %d bytes fills whole packets, sending zero-length packet", len(buf))
		_, err := s.out.WriteContext(ctx, nil)
		if err != nil {
			return written, &TransportError{Op: "write", Endpoint: s.cand.Out.Address, Err: err}
		}
	}
	s.log.Debugf("wrote %d bytes", written)
	return written, nil
}

// Close releases the interface and the device. It is safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Log("closing session")
	return s.handle.Close()
}
