package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means enumeration finished without a device of the
	// expected identity exposing an interface with the expected signature.
	ErrNotFound = errors.New("download-mode device not found")

	ErrNilHandle       = errors.New("session needs an open device handle")
	ErrNilEndpoint     = errors.New("session needs both bulk endpoints")
	ErrBadPacketSize   = errors.New("max packet size must be positive")
	ErrWrongDirection  = errors.New("endpoint address has the wrong direction")
	ErrSessionClosed   = errors.New("session closed")
	ErrShortDescriptor = errors.New("descriptor too short")
)

// DescriptorError reports a descriptor that was read successfully
// but is internally inconsistent.
type DescriptorError struct {
	Level     string // "device", "config", "interface" or "endpoint"
	Bus       int
	Address   int
	Config    int
	Interface int
	Endpoint  int
	Reason    string
}

func (e *DescriptorError) Error() string {
	where := fmt.Sprintf("device %d:%d", e.Bus, e.Address)
	switch e.Level {
	case "config":
		where += fmt.Sprintf(" config %d", e.Config)
	case "interface":
		where += fmt.Sprintf(" config %d interface %d", e.Config, e.Interface)
	case "endpoint":
		where += fmt.Sprintf(" config %d interface %d endpoint %d", e.Config, e.Interface, e.Endpoint)
	}
	return fmt.Sprintf("inconsistent %s descriptor (%s): %s", e.Level, where, e.Reason)
}

// TransportError wraps a failed bulk transfer. Err is whatever the
// USB stack returned, unchanged.
type TransportError struct {
	Op       string // "read" or "write"
	Endpoint uint8
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bulk %s on endpoint 0x%02x: %s", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClaimError is returned when the selected interface cannot be opened
// or claimed (busy, permission denied). It is not recoverable.
// Interface is -1 when the device itself could not be opened.
type ClaimError struct {
	Interface int
	Err       error
}

func (e *ClaimError) Error() string {
	if e.Interface < 0 {
		return fmt.Sprintf("opening device: %s", e.Err)
	}
	return fmt.Sprintf("claiming interface %d: %s", e.Interface, e.Err)
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}
