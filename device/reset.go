package device

import (
	"fmt"
	"path/filepath"
	"time"

	"pdtbutler/device/dac"
	"pdtbutler/device/devhdr"
	"pdtbutler/device/expander"
	"pdtbutler/device/ipbus"
	"pdtbutler/device/ocores"
	"pdtbutler/log"
	"pdtbutler/util"
)

const (
	switchAX3   = "AX3_Switch"
	switchKC705 = "KC705_Switch"

	promUIDReg = 0xfa
	promUIDLen = 6

	// NIM level for the beam interlock inputs
	BIThreshold = 0x589D
)

// ResetSettle is the wait before the PLL and I2C reset pulses.
var ResetSettle = time.Second

type ResetOptions struct {
	// Soft skips everything but the final soft reset
	Soft bool
	// Fanout selects the master source of a fanout design, 0 local, 1 sfp
	Fanout int
	// ForcePLLConfig overrides the clock file chosen from the revision
	ForcePLLConfig string
	// ClockRoot is where the revision clock files live
	ClockRoot string
}

// ResetResult records what the hard reset found and loaded.
type ResetResult struct {
	UID         uint64
	Revision    devhdr.Revision
	PLLVersion  uint16
	ClockConfig string
	ConfigID    string
}

// Reset performs a hard reset of the board unless opts.Soft is set or the
// board is a simulation, then always finishes with the global soft reset.
func (my *Device) Reset(opts ResetOptions) (*ResetResult, error) {
	my.printf("Resetting %s\n", util.Style(my.ID, util.Blue))
	ioNode, err := my.ioNode()
	if err != nil {
		return nil, err
	}
	if my.Identity.Board == devhdr.BoardPC059 && opts.Fanout != 0 {
		my.printf("%s\n", util.Style("Fanout mode enabled", util.Green))
	}

	var res *ResetResult
	if !(opts.Soft || my.Identity.Board == devhdr.BoardSim) {
		if res, err = my.hardReset(ioNode, opts); err != nil {
			return nil, err
		}
	}

	if err := my.write(ioNode, 1, nodeCsrCtl+".soft_rst"); err != nil {
		return nil, err
	}
	my.printf("\n")
	return res, nil
}

func (my *Device) hardReset(ioNode *ipbus.Node, opts ResetOptions) (*ResetResult, error) {
	cfg := my.Identity.Config()
	res := &ResetResult{}

	sleep(ResetSettle)
	ctl, err := ioNode.GetNode(nodeCsrCtl)
	if err != nil {
		return nil, err
	}
	if err := my.pulse(ctl, append([]string{"pll_rst"}, cfg.ResetLines...)...); err != nil {
		return nil, fmt.Errorf("pll/i2c reset: %w", err)
	}

	if res.UID, res.Revision, err = my.ReadUID(); err != nil {
		return nil, err
	}

	chip, err := my.clockChip()
	if err != nil {
		return nil, err
	}
	if res.PLLVersion, err = chip.ReadDeviceVersion(); err != nil {
		return nil, err
	}
	my.printf("PLL version : %s\n", util.Style(fmt.Sprintf("0x%x", res.PLLVersion), util.Blue))

	if res.ClockConfig, err = my.clockConfig(res.Revision, opts); err != nil {
		return nil, err
	}
	if err := chip.Configure(res.ClockConfig); err != nil {
		return nil, err
	}
	if res.ConfigID, err = chip.ReadConfigID(); err != nil {
		return nil, err
	}
	my.printf("SI3545 configuration id: %s\n", util.Style(res.ConfigID, util.Green))

	if my.Identity.Design == devhdr.DesignFanout {
		if err := my.selectMasterSource(ctl, opts.Fanout); err != nil {
			return nil, err
		}
	}

	if err := my.PrintClockStatus(false); err != nil {
		return nil, err
	}

	if err := my.enableSFPs(ioNode); err != nil {
		return nil, err
	}

	if err := my.pulse(ctl, "rst_lock_mon"); err != nil {
		return nil, err
	}
	return res, nil
}

// ReadUID opens the I2C switch when the board has one and reads the PROM
// UID, then resolves the board revision. TLU boards have no revision.
func (my *Device) ReadUID() (uint64, devhdr.Revision, error) {
	cfg := my.Identity.Config()
	uid, err := my.master(nodeIO + "." + cfg.UIDNode)
	if err != nil {
		return 0, 0, err
	}
	my.printf("UID I2C Slaves\n")
	for _, s := range uid.Slaves() {
		a, _ := uid.SlaveAddress(s)
		my.printf("  %s: 0x%x\n", s, a)
	}
	if err := my.openSwitch(uid, cfg.SwitchSlave); err != nil {
		return 0, 0, err
	}
	return my.readRevision(uid)
}

// openSwitch wakes up the I2C switch in front of the PROM.
func (my *Device) openSwitch(uid *ocores.Master, name string) error {
	switch name {
	case switchAX3:
		sw, err := uid.Slave(name)
		if err != nil {
			return err
		}
		// the switch may NAK while it wakes up
		if err := sw.WriteI2C(0x01, 0x7f); err != nil {
			log.Debugf("%s wake up: %v", name, err)
		}
		x, err := sw.ReadI2C(0x01)
		if err != nil {
			return err
		}
		my.printf("I2C enable lines: %d\n", x)
	case switchKC705:
		sw, err := uid.Slave(name)
		if err != nil {
			return err
		}
		if err := sw.WriteI2CPrimitive([]byte{0x10}); err != nil {
			return err
		}
		my.printf("KC705 I2C switch enabled\n")
	default:
		log.Warnf("no I2C switch known for %v", my.Identity)
	}
	return nil
}

func (my *Device) readRevision(uid *ocores.Master) (uint64, devhdr.Revision, error) {
	prom, err := uid.Slave(my.Identity.PROMSlave())
	if err != nil {
		return 0, 0, err
	}
	bs, err := prom.ReadI2CArray(promUIDReg, promUIDLen)
	if err != nil {
		return 0, 0, err
	}
	id := devhdr.UIDFromBytes(bs)
	my.printf("Timing Board PROM UID: %s\n", util.Style(fmt.Sprintf("0x%x", id), util.Blue))
	if my.Identity.Board == devhdr.BoardTLU {
		return id, 0, nil
	}
	rev, err := devhdr.LookupRevision(id)
	return id, rev, err
}

func (my *Device) clockConfig(rev devhdr.Revision, opts ResetOptions) (string, error) {
	if opts.ForcePLLConfig != "" {
		my.printf("Using PLL Clock configuration file: %s\n",
			util.Style(filepath.Base(opts.ForcePLLConfig), util.Green))
		return opts.ForcePLLConfig, nil
	}
	rev, overridden := devhdr.ClockRevision(my.Identity, rev, opts.Fanout)
	if overridden {
		my.printf("%s\n", util.Style("Overriding clock config - fanout mode", util.Green))
	}
	path, err := devhdr.ClockConfigPath(opts.ClockRoot, rev)
	if err != nil {
		return "", err
	}
	rel, _ := filepath.Rel(opts.ClockRoot, path)
	my.printf("PLL Clock configuration file: %s\n", util.Style(rel, util.Green))
	return path, nil
}

func (my *Device) selectMasterSource(ctl *ipbus.Node, fanout int) error {
	src, err := my.Root.GetNode("switch.csr.ctrl.master_src")
	if err != nil {
		return err
	}
	if err := src.Write(uint32(fanout)); err != nil {
		return err
	}
	mux, err := ctl.GetNode("mux")
	if err != nil {
		return err
	}
	if err := mux.Write(0); err != nil {
		return err
	}
	return my.Client.Dispatch()
}

// enableSFPs turns on the SFP transmitters the way each board wires them.
func (my *Device) enableSFPs(ioNode *ipbus.Node) error {
	switch my.Identity.Board {
	case devhdr.BoardFMC:
		return my.write(ioNode, 0, nodeCsrCtl+".sfp_tx_dis")
	case devhdr.BoardPC059:
		return my.enablePC059SFPs()
	case devhdr.BoardTLU:
		return my.setupTLU()
	default:
		log.Warnf("SFP enable not supported for %v", my.Identity)
		return nil
	}
}

func (my *Device) i2cSlave(name string) (*ocores.Slave, error) {
	m, err := my.master(nodeIO + ".i2c")
	if err != nil {
		return nil, err
	}
	return m.Slave(name)
}

func (my *Device) enablePC059SFPs() error {
	s, err := my.i2cSlave("SFPExpander")
	if err != nil {
		return err
	}
	exp := expander.New(s)
	if err := exp.SetInversion(0, 0x00); err != nil {
		return err
	}
	if err := exp.SetInversion(1, 0x00); err != nil {
		return err
	}
	// bank 0 drives the enables, bank 1 reads
	if err := exp.SetIO(0, 0x00); err != nil {
		return err
	}
	if err := exp.SetIO(1, 0xff); err != nil {
		return err
	}
	// enables are active low
	if err := exp.SetOutputs(0, 0x00); err != nil {
		return err
	}
	my.printf("%s\n", util.Style("SFPs 0-7 enabled", util.Cyan))
	return nil
}

var tluExpanders = []struct {
	slave string
	banks [2]expander.Bank
}{
	{"Expander1", [2]expander.Bank{{Outputs: 0x00}, {Outputs: 0x88}}},
	{"Expander2", [2]expander.Bank{{Outputs: 0xf0}, {Outputs: 0xf0}}},
}

func (my *Device) setupTLU() error {
	for _, e := range tluExpanders {
		s, err := my.i2cSlave(e.slave)
		if err != nil {
			return err
		}
		exp := expander.New(s)
		for bank, b := range e.banks {
			if err := exp.Setup(bank, b); err != nil {
				return fmt.Errorf("%s: %w", e.slave, err)
			}
		}
	}

	// PLL output swing
	chip, err := my.clockChip()
	if err != nil {
		return err
	}
	if err := chip.WriteI2CArray(0x113, []byte{0x9, 0x33}); err != nil {
		return err
	}
	return my.SetupDACs(BIThreshold)
}

// SetupDACs selects the external reference of both discriminator DACs and
// sets channel 7 to value.
func (my *Device) SetupDACs(value uint16) error {
	for _, name := range []string{"DAC1", "DAC2"} {
		s, err := my.i2cSlave(name)
		if err != nil {
			return err
		}
		if err := dac.New(s).SetInternalRef(false); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, name := range []string{"DAC1", "DAC2"} {
		s, err := my.i2cSlave(name)
		if err != nil {
			return err
		}
		if err := dac.New(s).SetDAC(7, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	my.printf("%s\n", util.Style(fmt.Sprintf("DAC1 and DAC2 set to 0x%x", value), util.Cyan))
	return nil
}

// DACSetup lists the io.i2c slaves then programs the DACs.
func (my *Device) DACSetup(value uint16) error {
	m, err := my.master(nodeIO + ".i2c")
	if err != nil {
		return err
	}
	for _, s := range m.Slaves() {
		a, _ := m.SlaveAddress(s)
		my.printf("  %s: 0x%x\n", s, a)
	}
	return my.SetupDACs(value)
}
