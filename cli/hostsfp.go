package cli

import (
	"errors"
	"fmt"
	"time"

	"pdtbutler/device/los"
	"pdtbutler/device/powerstate"
	"pdtbutler/device/sfp"
	"pdtbutler/device/smbus"
	"pdtbutler/log"

	"github.com/platinasystems/parms"
)

const defaultLOSWindow = time.Second

// HostSFP drives an SFP cage wired to the host I2C bus and GPIOs.
type HostSFP struct{}

type hostBus interface {
	sfp.Bus
	Close() error
}

var openHostBus = func(name string) (hostBus, error) {
	return smbus.New(name)
}

var watchLOS = func(c *los.Counter, window time.Duration) (*los.Result, error) {
	return c.Watch(window)
}

func (HostSFP) String() string { return "host-sfp" }

func (HostSFP) Usage() string { return "host-sfp NAME status|on|off [-w WINDOW]" }

func (HostSFP) Apropos() string { return "status and transmitter control of a host SFP cage" }

func (c HostSFP) Main(args ...string) error {
	parm, args := parms.New(args, "-w")
	if len(args) != 2 {
		return usageError(c, "NAME and ACTION required")
	}
	name, action := args[0], args[1]
	switch action {
	case "status", "on", "off":
	default:
		return usageError(c, "%s: unknown action", action)
	}
	window := defaultLOSWindow
	if s := parm.ByName["-w"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("-w: %w", err)
		}
		window = d
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := cfg.HostSFP(name)
	if err != nil {
		return err
	}
	cage := powerstate.NewCage(h)

	bus, err := openHostBus(h.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()
	mod := sfp.New(bus)

	switch action {
	case "on", "off":
		on := action == "on"
		// the pin wins when wired, the soft bit otherwise
		if h.TxDisable != 0 {
			if on {
				err = cage.TxOn()
			} else {
				err = cage.TxOff()
			}
			if err != nil {
				return err
			}
		} else if _, err := mod.SwitchTx(on); err != nil {
			return err
		}
	}

	if h.ModAbs != 0 {
		present, err := cage.Present()
		if err != nil {
			return err
		}
		if !present {
			fmt.Fprintf(Stdout, "%s: no module\n", name)
			return nil
		}
	}
	st, err := mod.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "%s\n", st.Report(0))

	if h.TxDisable != 0 {
		dis, err := cage.TxDisabled()
		if err != nil && !errors.Is(err, powerstate.ErrNotWired) {
			return err
		}
		fmt.Fprintf(Stdout, "TX_DISABLE pin: %v\n", dis)
	}
	if h.LosChip != "" && action == "status" {
		r, err := watchLOS(&los.Counter{Chip: h.LosChip, Offset: h.LosLine}, window)
		if err != nil {
			log.Warnf("%s: los: %v", name, err)
		} else {
			fmt.Fprintf(Stdout, "LOS: %v\n", r)
		}
	}
	return nil
}
