package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qdl-go/qdl/internal/core"
	"github.com/qdl-go/qdl/internal/engine"
	"github.com/qdl-go/qdl/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var storageTypes = []string{"emmc", "ufs"}

// hexID is a vendor or product id given in hex, with or without 0x.
type hexID uint16

var _ pflag.Value = (*hexID)(nil)

func (h *hexID) String() string {
	return fmt.Sprintf("%04x", uint16(*h))
}

func (h *hexID) Set(value string) error {
	v, err := parseHexID(value)
	if err != nil {
		return err
	}
	*h = hexID(v)
	return nil
}

func (h *hexID) Type() string {
	return "hex"
}

func parseHexID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return uint16(v), nil
}

type initOptions struct {
	logfile       string
	debug         bool
	include       string
	storage       string
	finalize      bool
	status        string
	identity      core.Identity
	usbDebug      int
	helloTimeout  time.Duration
	skipMalformed bool
}

var (
	errStorage = errors.New("unknown storage type")
	errTimeout = errors.New("timeout must be positive")
	errUSBLog  = errors.New("usb debug level must be between 0 and 4")
)

func (o initOptions) validate() error {
	ok := false
	for _, s := range storageTypes {
		if o.storage == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("%w %q, expected one of %s", errStorage, o.storage, strings.Join(storageTypes, ", "))
	}
	if o.helloTimeout <= 0 {
		return errTimeout
	}
	if o.usbDebug < 0 || o.usbDebug > 4 {
		return errUSBLog
	}
	if o.status != "" {
		return server.CheckAddr(o.status)
	}
	return nil
}

func addFlags(flags *pflag.FlagSet) {
	vid := hexID(core.VendorQualcomm)
	pid := hexID(core.ProductEDL)

	flags.BoolP("debug", "d", false, "Print detailed debug info")
	flags.StringP("include", "i", "", "Set an optional folder to search for files")
	flags.StringP("storage", "s", "ufs", "Set the storage type to flash: "+strings.Join(storageTypes, ", "))
	flags.Bool("finalize-provisioning", false, "Finalize storage provisioning (irreversible)")
	flags.StringP("log", "l", "", "Log into a file, rotating after 20MB")
	flags.String("status", "", "Serve a status page on this address while running, e.g. 127.0.0.1:21339")
	flags.Var(&vid, "vid", "USB vendor id of the download-mode device")
	flags.Var(&pid, "pid", "USB product id of the download-mode device")
	flags.Int("usb-debug", 0, "libusb log level (0-4)")
	flags.Duration("hello-timeout", engine.DefaultHelloTimeout, "How long to wait for the device to say hello")
	flags.Bool("skip-malformed", false, "Skip devices with inconsistent descriptors instead of failing")
}

// loadOptions merges flags, QDL_* environment variables and the config
// file, in that order of precedence.
func loadOptions(v *viper.Viper) (initOptions, error) {
	vid, err := parseHexID(v.GetString("vid"))
	if err != nil {
		return initOptions{}, err
	}
	pid, err := parseHexID(v.GetString("pid"))
	if err != nil {
		return initOptions{}, err
	}
	o := initOptions{
		logfile:       v.GetString("log"),
		debug:         v.GetBool("debug"),
		include:       v.GetString("include"),
		storage:       strings.ToLower(v.GetString("storage")),
		finalize:      v.GetBool("finalize-provisioning"),
		status:        v.GetString("status"),
		identity:      core.Identity{Vendor: vid, Product: pid},
		usbDebug:      v.GetInt("usb-debug"),
		helloTimeout:  v.GetDuration("hello-timeout"),
		skipMalformed: v.GetBool("skip-malformed"),
	}
	return o, o.validate()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("QDL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// initConfig reads the config file given with --config, or .qdl.yaml in the
// home directory if there is one.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return v.ReadInConfig()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(home)
	v.SetConfigType("yaml")
	v.SetConfigName(".qdl")

	err = v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func newRootCmd(runner func(cmd *cobra.Command, o initOptions, args []string) error) *cobra.Command {
	var cfgFile string
	v := newViper()

	cmd := &cobra.Command{
		Use:   "qdl [options] <prog.mbn> [<program-xml> | <patch-xml> | <provisioning-xml>]...",
		Short: "Flash a device in emergency download mode",
		Long: `qdl talks to a bootloader in emergency download mode (USB 05c6:9008).

Every support file is classified and staged before the device is touched;
the programmer image is then handed to the device and the staged images
are flashed over the same session.`,
		Version:       version,
		Args:          cobra.MinimumNArgs(2),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := loadOptions(v)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return runner(cmd, o, args)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.qdl.yaml)")
	addFlags(cmd.Flags())
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}
