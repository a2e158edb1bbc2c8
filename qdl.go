package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/qdl-go/qdl/internal/bootstrap"
	"github.com/qdl-go/qdl/internal/engine"
	"github.com/qdl-go/qdl/internal/filetype"
	"github.com/qdl-go/qdl/internal/server"
	"github.com/qdl-go/qdl/internal/stage"
	"github.com/qdl-go/qdl/internal/usb"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(runCmd).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd(cmd *cobra.Command, o initOptions, args []string) error {
	return run(cmd.Context(), o, args[0], args[1:])
}

func run(ctx context.Context, o initOptions, programmer string, files []string) error {
	l, err := initLoggers(o.logfile, o.debug)
	if err != nil {
		return err
	}
	logger := l.log

	l.user.Printf("qdl %s is starting.", version)
	logger.Logf("programmer %s, %d support files, storage %s", programmer, len(files), o.storage)

	state := bootstrap.NewState()
	if o.status != "" {
		s, err := server.New(o.status, state, l.stderr, l.short, l.long, version)
		if err != nil {
			return err
		}
		go func() {
			err := s.Run()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.user.Printf("status: %s", err)
			}
		}()
		defer s.Close()
		l.user.Printf("status page on http://%s/status/", o.status)
	}

	bus := usb.InitLibUSB(logger, usb.Config{
		Identity:      o.identity,
		SkipMalformed: o.skipMalformed,
		Debug:         o.usbDebug,
	})
	defer func() {
		err := bus.Close()
		if err != nil {
			logger.Logf("closing libusb: %s", err)
		}
	}()

	manifest := stage.New(logger)
	b := &bootstrap.Bootstrap{
		Detect:     (&filetype.Detector{Log: logger}).Detect,
		Loaders:    manifest,
		Bus:        bus,
		Handshaker: &engine.Hello{Timeout: o.helloTimeout, Log: logger},
		Flasher:    &engine.Report{Manifest: manifest, Log: logger},
		Log:        logger,
		State:      state,
	}

	l.user.Printf("waiting for %s", o.identity)
	err = b.Run(ctx, bootstrap.Options{
		Programmer:           programmer,
		Files:                files,
		Storage:              o.storage,
		Include:              o.include,
		FinalizeProvisioning: o.finalize,
	})
	if err != nil {
		return err
	}
	l.user.Print("done.")
	return nil
}
