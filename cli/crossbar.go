package cli

import (
	"errors"
	"fmt"

	"pdtbutler/device/ipmi"
	"pdtbutler/util"

	"github.com/platinasystems/parms"
)

var ErrNoMCH = errors.New("no ipmi mch configured")

var newRunner = ipmi.ExecRunner

func ipmiSession() (*ipmi.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.IPMI.MCH == "" {
		return nil, ErrNoMCH
	}
	return ipmi.NewSession(cfg.IPMI.MCH, cfg.IPMI.Slot, newRunner(cfg.IPMI.Ipmitool))
}

// CrossbarStatus shows both crossbar maps and the output states.
type CrossbarStatus struct{}

func (CrossbarStatus) String() string { return "crossbar-status" }

func (CrossbarStatus) Usage() string { return "crossbar-status [-active N]" }

func (CrossbarStatus) Apropos() string { return "show the MCH crossbar maps and TX states" }

func (c CrossbarStatus) Main(args ...string) error {
	parm, args := parms.New(args, "-active")
	if len(args) > 0 {
		return usageError(c, "%v: unexpected", args)
	}
	active := 0
	if s := parm.ByName["-active"]; s != "" {
		n, err := util.ParseIntRange(s, 0, 1)
		if err != nil {
			return fmt.Errorf("-active: %w", err)
		}
		active = int(n)
	}
	s, err := ipmiSession()
	if err != nil {
		return err
	}
	tx, err := s.ReadTxConfig()
	if err != nil {
		return err
	}
	map0, err := s.ReadXPTMap(0)
	if err != nil {
		return err
	}
	map1, err := s.ReadXPTMap(1)
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, ipmi.CrossbarTable(map0, map1, tx, active).Draw())
	return nil
}

// CrossbarConfig enables outputs and loads a crossbar map.
type CrossbarConfig struct{}

func (CrossbarConfig) String() string { return "crossbar-config" }

func (CrossbarConfig) Usage() string {
	return "crossbar-config [-tx MASK | -outputs LIST] [-map HEX16 [-n N]]"
}

func (CrossbarConfig) Apropos() string { return "configure the MCH crossbar" }

func (c CrossbarConfig) Main(args ...string) error {
	parm, args := parms.New(args, "-tx", "-outputs", "-map", "-n")
	if len(args) > 0 {
		return usageError(c, "%v: unexpected", args)
	}
	txs, outs, m := parm.ByName["-tx"], parm.ByName["-outputs"], parm.ByName["-map"]
	if txs != "" && outs != "" {
		return usageError(c, "-tx and -outputs are exclusive")
	}
	if txs == "" && outs == "" && m == "" {
		return usageError(c, "nothing to configure")
	}

	var mask uint16
	switch {
	case txs != "":
		v, err := util.ParseIntRange(txs, 0, 0xffff)
		if err != nil {
			return fmt.Errorf("-tx: %w", err)
		}
		mask = uint16(v)
	case outs != "":
		ns, err := util.SplitInts(outs)
		if err != nil {
			return fmt.Errorf("-outputs: %w", err)
		}
		for _, n := range ns {
			if n < 0 || n >= ipmi.NumOutputs {
				return fmt.Errorf("-outputs: %d is not in the valid range of 0 to %d", n, ipmi.NumOutputs-1)
			}
			mask |= 1 << n
		}
	}
	n := 0
	if s := parm.ByName["-n"]; s != "" {
		v, err := util.ParseIntRange(s, 0, 1)
		if err != nil {
			return fmt.Errorf("-n: %w", err)
		}
		n = int(v)
	}
	if m != "" {
		if _, err := ipmi.EncodeXPTMap(m); err != nil {
			return err
		}
	}

	s, err := ipmiSession()
	if err != nil {
		return err
	}
	if txs != "" || outs != "" {
		if err := s.ApplyTxConfig(mask); err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "TX enable mask: 0x%04x\n", mask)
	}
	if m != "" {
		if err := s.ApplyXPTMap(m, n); err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "Crossbar map %d: %s\n", n, m)
	}
	return nil
}

// GPIOStatus shows a GPIO port of the AMC.
type GPIOStatus struct{}

func (GPIOStatus) String() string { return "gpio-status" }

func (GPIOStatus) Usage() string { return "gpio-status PORT" }

func (GPIOStatus) Apropos() string { return "show direction and level of an AMC GPIO port" }

func (c GPIOStatus) Main(args ...string) error {
	if len(args) != 1 {
		return usageError(c, "PORT required")
	}
	port, err := util.ParseIntRange(args[0], 0, 0xff)
	if err != nil {
		return err
	}
	s, err := ipmiSession()
	if err != nil {
		return err
	}
	p, err := s.ReadGPIOPort(uint8(port))
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "GPIO port %d\n%s\n", p.Number, p.Table().Draw())
	return nil
}

// GPIOConfig sets a pin direction or level on an AMC GPIO port.
type GPIOConfig struct{}

func (GPIOConfig) String() string { return "gpio-config" }

func (GPIOConfig) Usage() string { return "gpio-config PORT MODE PIN [VALUE]" }

func (GPIOConfig) Apropos() string { return "configure a pin of an AMC GPIO port" }

func (c GPIOConfig) Main(args ...string) error {
	if len(args) != 3 && len(args) != 4 {
		return usageError(c, "PORT MODE PIN required")
	}
	var v [3]int64
	for i, hi := range []int64{0xff, ipmi.GPIOSet, ipmi.NumPins - 1} {
		n, err := util.ParseIntRange(args[i], 0, hi)
		if err != nil {
			return err
		}
		v[i] = n
	}
	value := -1
	if len(args) == 4 {
		n, err := util.ParseIntRange(args[3], 0, 1)
		if err != nil {
			return err
		}
		value = int(n)
	}
	s, err := ipmiSession()
	if err != nil {
		return err
	}
	return s.ConfigureGPIOPort(uint8(v[0]), uint8(v[1]), uint8(v[2]), value)
}
