package cli

import (
	"fmt"
	"sort"
	"strconv"

	"pdtbutler/config"
	"pdtbutler/device"
	"pdtbutler/system"
	"pdtbutler/util"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"
)

// IO runs board operations on one configured device.
type IO struct{}

type ioCmd struct {
	usage string
	main  func(cfg *config.Config, dev *device.Device, args []string) error
}

var ioCmds = map[string]ioCmd{
	"reset":         {"reset [-s] [-fanout-mode N] [-force-pll-cfg PATH]", ioReset},
	"freq":          {"freq", ioFreq},
	"status":        {"status", ioStatus},
	"clk-status":    {"clk-status [-v]", ioClkStatus},
	"dac-setup":     {"dac-setup VALUE", ioDACSetup},
	"sfp-status":    {"sfp-status [-v] [-sfp N]", ioSFPStatus},
	"switch-sfp-tx": {"switch-sfp-tx -on|-off [-sfp N]", ioSwitchSFPTx},
	"info":          {"info", ioInfo},
}

func (IO) String() string { return "io" }

func (IO) Usage() string { return "io DEVICE COMMAND [OPTIONS]..." }

func (IO) Apropos() string { return "reset, monitor and configure a timing board" }

func (c IO) Main(args ...string) error {
	if len(args) < 2 {
		names := make([]string, 0, len(ioCmds))
		for name := range ioCmds {
			names = append(names, ioCmds[name].usage)
		}
		sort.Strings(names)
		for _, u := range names {
			fmt.Fprintf(Stdout, "  io DEVICE %s\n", u)
		}
		return usageError(c, "DEVICE and COMMAND required")
	}
	id, name := args[0], args[1]
	sub, ok := ioCmds[name]
	if !ok {
		return usageError(c, "%s: unknown io command", name)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := device.NewConnectionManager(cfg)
	defer mgr.Fini()
	dev, err := mgr.GetDevice(id)
	if err != nil {
		return err
	}
	dev.Out = Stdout
	if err := sub.main(cfg, dev, args[2:]); err != nil {
		return fmt.Errorf("%s %s: %w", id, name, err)
	}
	return nil
}

func unexpected(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %v: unexpected", ErrUsage, args)
	}
	return nil
}

func sfpNumber(parm *parms.Parms) (int, error) {
	s := parm.ByName["-sfp"]
	if s == "" {
		return 0, nil
	}
	n, err := util.ParseIntRange(s, 0, 7)
	return int(n), err
}

func ioReset(cfg *config.Config, dev *device.Device, args []string) error {
	flag, args := flags.New(args, "-s")
	parm, args := parms.New(args, "-fanout-mode", "-force-pll-cfg")
	if err := unexpected(args); err != nil {
		return err
	}
	opts := device.ResetOptions{
		Soft:           flag.ByName["-s"],
		ForcePLLConfig: parm.ByName["-force-pll-cfg"],
		ClockRoot:      cfg.ClockDir(),
	}
	if s := parm.ByName["-fanout-mode"]; s != "" {
		n, err := util.ParseIntRange(s, 0, 1)
		if err != nil {
			return fmt.Errorf("-fanout-mode: %w", err)
		}
		opts.Fanout = int(n)
	}
	defer system.ForgetBoardInfo(dev.ID)
	_, err := dev.Reset(opts)
	return err
}

func ioFreq(cfg *config.Config, dev *device.Device, args []string) error {
	if err := unexpected(args); err != nil {
		return err
	}
	freqs, err := dev.MeasureFrequencies()
	if err != nil {
		return err
	}
	fmt.Fprint(Stdout, device.FrequencyReport(freqs))
	return nil
}

func ioStatus(cfg *config.Config, dev *device.Device, args []string) error {
	if err := unexpected(args); err != nil {
		return err
	}
	st, err := dev.IOStatus()
	if err != nil {
		return err
	}
	fmt.Fprint(Stdout, st.Report())
	return nil
}

func ioClkStatus(cfg *config.Config, dev *device.Device, args []string) error {
	flag, args := flags.New(args, "-v")
	if err := unexpected(args); err != nil {
		return err
	}
	return dev.PrintClockStatus(flag.ByName["-v"])
}

func ioDACSetup(cfg *config.Config, dev *device.Device, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: VALUE required", ErrUsage)
	}
	v, err := util.ParseIntRange(args[0], 0, 0xffff)
	if err != nil {
		return err
	}
	return dev.DACSetup(uint16(v))
}

func ioSFPStatus(cfg *config.Config, dev *device.Device, args []string) error {
	flag, args := flags.New(args, "-v")
	parm, args := parms.New(args, "-sfp")
	if err := unexpected(args); err != nil {
		return err
	}
	n, err := sfpNumber(parm)
	if err != nil {
		return err
	}
	st, err := dev.SFPStatus(n, flag.ByName["-v"])
	if err != nil {
		return err
	}
	if cfg.Metrics.Textfile != "" {
		return dev.ExportSFPMetrics(cfg.Metrics.Textfile, n, st)
	}
	return nil
}

func ioSwitchSFPTx(cfg *config.Config, dev *device.Device, args []string) error {
	flag, args := flags.New(args, "-on", "-off")
	parm, args := parms.New(args, "-sfp")
	if err := unexpected(args); err != nil {
		return err
	}
	on, off := flag.ByName["-on"], flag.ByName["-off"]
	if on == off {
		return fmt.Errorf("%w: exactly one of -on or -off", ErrUsage)
	}
	n, err := sfpNumber(parm)
	if err != nil {
		return err
	}
	_, err = dev.SwitchSFPTx(n, on)
	return err
}

func ioInfo(cfg *config.Config, dev *device.Device, args []string) error {
	if err := unexpected(args); err != nil {
		return err
	}
	info, err := system.GetBoardInfo(dev, cfg.ClockDir())
	if err != nil {
		return err
	}
	uid := "-"
	if info.UID != 0 {
		uid = "0x" + strconv.FormatUint(info.UID, 16)
	}
	kvs := []util.KV{
		{Name: "Device", Value: info.DeviceID},
		{Name: "Design", Value: info.Design},
		{Name: "Board", Value: info.Board},
		{Name: "Carrier", Value: info.Carrier},
		{Name: "UID", Value: uid},
		{Name: "Revision", Value: info.Revision},
		{Name: "Clock config", Value: info.ClockConfig},
	}
	fmt.Fprintln(Stdout, util.DictTable(kvs, false))
	return nil
}
