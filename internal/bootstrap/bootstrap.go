// Package bootstrap runs a flashing session in its fixed order: every
// support file is classified and staged first, then the download-mode device
// is opened, then the handshake and flash engines get the session.
// No USB transfer happens before all inputs were accepted.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/qdl-go/qdl/internal/core"
	"github.com/qdl-go/qdl/internal/filetype"
	"github.com/qdl-go/qdl/internal/logs"
)

// Loaders stage support files. Their semantics belong to the flashing
// protocol; here only success or failure matters.
type Loaders interface {
	LoadPatch(path string) error
	LoadProgram(path string) error
	LoadStorageProvisioning(path string, finalize bool) error
}

// Handshaker negotiates programmer execution over the session.
type Handshaker interface {
	Handshake(ctx context.Context, s *core.Session, programmer string) error
}

// Flasher streams the staged images over the session.
type Flasher interface {
	Flash(ctx context.Context, s *core.Session, opts FlashOptions) error
}

type FlashOptions struct {
	Include string
	Storage string
}

type DetectFunc func(path string) (filetype.Kind, error)

type Options struct {
	Programmer           string
	Files                []string
	Storage              string
	Include              string
	FinalizeProvisioning bool
}

type Bootstrap struct {
	Detect     DetectFunc
	Loaders    Loaders
	Bus        core.USBBus
	Handshaker Handshaker
	Flasher    Flasher
	Log        *logs.Logger
	State      *State // optional, read by the status page
}

// Run executes the whole session and returns the first failure.
// The opened session is closed before Run returns.
func (b *Bootstrap) Run(ctx context.Context, opts Options) (err error) {
	defer func() {
		if err != nil {
			b.State.fail(err)
			b.Log.Logf("run failed: %s", err)
		}
	}()

	b.State.setPhase(PhaseStaging)
	if _, err := os.Stat(opts.Programmer); err != nil {
		return fmt.Errorf("programmer image: %w", err)
	}
	for _, path := range opts.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.stage(path, opts.FinalizeProvisioning); err != nil {
			return err
		}
	}

	b.State.setPhase(PhaseOpening)
	b.Log.Log("looking for download-mode device")
	session, err := b.Bus.Open()
	if err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	defer func() {
		cerr := session.Close()
		if cerr != nil {
			b.Log.Logf("closing session: %s", cerr)
		}
	}()
	b.State.setDevice(session.Candidate())
	b.Log.Logf("session on %s", session.Candidate())

	if err := ctx.Err(); err != nil {
		return err
	}
	b.State.setPhase(PhaseHandshake)
	if err := b.Handshaker.Handshake(ctx, session, opts.Programmer); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	b.State.setPhase(PhaseFlashing)
	err = b.Flasher.Flash(ctx, session, FlashOptions{
		Include: opts.Include,
		Storage: opts.Storage,
	})
	if err != nil {
		return fmt.Errorf("flash: %w", err)
	}

	b.State.setPhase(PhaseDone)
	b.Log.Log("run finished")
	return nil
}

func (b *Bootstrap) stage(path string, finalize bool) error {
	kind, err := b.Detect(path)
	if err != nil {
		return err
	}
	b.Log.Logf("%s is a %s file", path, kind)

	switch kind {
	case filetype.Patch:
		err = b.Loaders.LoadPatch(path)
	case filetype.Program:
		err = b.Loaders.LoadProgram(path)
	case filetype.StorageProvisioning:
		err = b.Loaders.LoadStorageProvisioning(path, finalize)
	default:
		return &UnsupportedFileError{Path: path, Kind: kind}
	}
	if err != nil {
		return &LoadError{Path: path, Kind: kind, Err: err}
	}
	b.State.addStaged(path, kind)
	return nil
}
