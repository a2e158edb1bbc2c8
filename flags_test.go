package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qdl-go/qdl/internal/core"
	"github.com/qdl-go/qdl/internal/server"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, args ...string) (initOptions, []string, error) {
	var got initOptions
	var gotArgs []string
	cmd := newRootCmd(func(cmd *cobra.Command, o initOptions, args []string) error {
		got = o
		gotArgs = args
		return nil
	})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	// no .qdl.yaml in an empty home
	t.Setenv("HOME", t.TempDir())
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, gotArgs, err
}

func TestParseHexID(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
		err  bool
	}{
		{"05c6", 0x05c6, false},
		{"0x9008", 0x9008, false},
		{"0X18D1", 0x18d1, false},
		{"", 0, true},
		{"12345", 0, true},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHexID(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("parseHexID(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseHexID(%q) = %04x, want %04x", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	good := initOptions{storage: "ufs", helloTimeout: time.Second}
	if err := good.validate(); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	bad := good
	bad.storage = "nand"
	if err := bad.validate(); !errors.Is(err, errStorage) {
		t.Errorf("storage: got %v", err)
	}
	bad = good
	bad.helloTimeout = 0
	if err := bad.validate(); !errors.Is(err, errTimeout) {
		t.Errorf("timeout: got %v", err)
	}
	bad = good
	bad.status = ":8080"
	if err := bad.validate(); !errors.Is(err, server.ErrNoHost) {
		t.Errorf("status: got %v", err)
	}
	bad = good
	bad.status = "127.0.0.1:8080"
	if err := bad.validate(); err != nil {
		t.Errorf("status with host: got %v", err)
	}
	bad = good
	bad.usbDebug = 5
	if err := bad.validate(); !errors.Is(err, errUSBLog) {
		t.Errorf("usb debug: got %v", err)
	}
}

func TestRootCommandDefaults(t *testing.T) {
	o, args, err := execute(t, "prog.mbn", "rawprogram0.xml")
	if err != nil {
		t.Fatal(err)
	}
	if o.storage != "ufs" || o.debug || o.finalize || o.include != "" {
		t.Errorf("unexpected defaults %+v", o)
	}
	if o.identity != core.DownloadMode {
		t.Errorf("identity = %s", o.identity)
	}
	if o.helloTimeout != 5*time.Second {
		t.Errorf("hello timeout = %s", o.helloTimeout)
	}
	if len(args) != 2 || args[0] != "prog.mbn" {
		t.Errorf("args = %q", args)
	}
}

func TestRootCommandFlags(t *testing.T) {
	o, _, err := execute(t,
		"-d", "-i", "/images", "--storage", "EMMC", "--finalize-provisioning",
		"--vid", "0x18d1", "--pid", "d00d", "--skip-malformed",
		"prog.mbn", "provision.xml",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := initOptions{
		debug:         true,
		include:       "/images",
		storage:       "emmc",
		finalize:      true,
		identity:      core.Identity{Vendor: 0x18d1, Product: 0xd00d},
		helloTimeout:  5 * time.Second,
		skipMalformed: true,
	}
	if o != want {
		t.Errorf("options = %+v, want %+v", o, want)
	}
}

func TestRootCommandNeedsTwoArguments(t *testing.T) {
	if _, _, err := execute(t, "prog.mbn"); err == nil {
		t.Error("expected an error with a single argument")
	}
}

func TestRootCommandRejectsBadStorage(t *testing.T) {
	if _, _, err := execute(t, "-s", "nand", "prog.mbn", "a.xml"); !errors.Is(err, errStorage) {
		t.Errorf("got %v", err)
	}
}

func TestRootCommandEnvironment(t *testing.T) {
	t.Setenv("QDL_STORAGE", "emmc")
	t.Setenv("QDL_HELLO_TIMEOUT", "30s")

	o, _, err := execute(t, "prog.mbn", "a.xml")
	if err != nil {
		t.Fatal(err)
	}
	if o.storage != "emmc" || o.helloTimeout != 30*time.Second {
		t.Errorf("environment ignored: %+v", o)
	}
}

func TestRootCommandConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qdl.yaml")
	err := os.WriteFile(path, []byte("storage: emmc\nskip-malformed: true\n"), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	var got initOptions
	cmd := newRootCmd(func(cmd *cobra.Command, o initOptions, args []string) error {
		got = o
		return nil
	})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", path, "prog.mbn", "a.xml"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "prog.mbn", "a.xml"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for a missing config file")
	}
	if got.storage != "emmc" || !got.skipMalformed {
		t.Errorf("config file ignored: %+v", got)
	}
}
