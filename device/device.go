package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"pdtbutler/device/devhdr"
	"pdtbutler/device/ipbus"
	"pdtbutler/device/ocores"
	"pdtbutler/device/pll"
	"pdtbutler/log"
	"pdtbutler/util"
)

const (
	STATUS_ALIVE = iota
	STATUS_SICK
	STATUS_DEAD
	STATUS_NOSTART
	STATUS_INIT
)

func StatusCode(s int) string {
	switch s {
	case STATUS_ALIVE:
		return "Alive"
	case STATUS_SICK:
		return "Sick"
	case STATUS_DEAD:
		return "Dead"
	case STATUS_NOSTART:
		return "NoStart"
	case STATUS_INIT:
		return "Initialising"
	default:
		return "Dead"
	}
}

const (
	nodeIO     = "io"
	nodeConfig = "io.config"
	nodeCsrCtl = "csr.ctrl"
	nodeCsrSt  = "csr.stat"
)

var ErrBoardInitFailure = errors.New("ErrBoardInitFailure")

// sleep is swapped out by tests
var sleep = time.Sleep

// Device is one timing board reached over IPbus.
type Device struct {
	ID       string
	Client   *ipbus.Client
	Root     *ipbus.Node
	Identity devhdr.Identity
	Status   int
	// Out receives the operator reports, stdout by default
	Out io.Writer
}

// NewDevice binds the address table to the client. Init must run before
// any board operation.
func NewDevice(id string, c *ipbus.Client, root *ipbus.Node) *Device {
	return &Device{
		ID:     id,
		Client: c,
		Root:   root.Bind(c),
		Status: STATUS_NOSTART,
		Out:    os.Stdout,
	}
}

// Init reads the board identity from io.config.
func (my *Device) Init() error {
	my.Status = STATUS_INIT
	cfg, err := my.Root.GetNode(nodeConfig)
	if err != nil {
		my.Status = STATUS_DEAD
		return fmt.Errorf("%w: %v", ErrBoardInitFailure, err)
	}
	vals, err := ipbus.ReadSubNodes(cfg)
	if err != nil {
		log.Errorf("Device %s identity read error %v", my.ID, err)
		my.Status = STATUS_DEAD
		return fmt.Errorf("%w: %v", ErrBoardInitFailure, err)
	}
	my.Identity, err = devhdr.ParseIdentity(vals)
	if err != nil {
		my.Status = STATUS_SICK
		return err
	}
	my.Status = STATUS_ALIVE
	log.Debugf("Device %s is alive, %v", my.ID, my.Identity)
	return nil
}

func (my *Device) printf(format string, args ...interface{}) {
	fmt.Fprintf(my.Out, format, args...)
}

func (my *Device) ioNode() (*ipbus.Node, error) {
	return my.Root.GetNode(nodeIO)
}

// write queues a write to every named node, then dispatches.
func (my *Device) write(base *ipbus.Node, v uint32, paths ...string) error {
	for _, p := range paths {
		n, err := base.GetNode(p)
		if err != nil {
			return err
		}
		if err := n.Write(v); err != nil {
			return err
		}
	}
	return my.Client.Dispatch()
}

// pulse raises and lowers the named control lines together.
func (my *Device) pulse(base *ipbus.Node, paths ...string) error {
	if err := my.write(base, 1, paths...); err != nil {
		return err
	}
	return my.write(base, 0, paths...)
}

func (my *Device) master(path string) (*ocores.Master, error) {
	n, err := my.Root.GetNode(path)
	if err != nil {
		return nil, err
	}
	return ocores.New(n)
}

// clockChip finds the PLL, either a named slave on io.i2c or the only
// slave of the dedicated io.pll_i2c master.
func (my *Device) clockChip() (*pll.Chip, error) {
	cfg := my.Identity.Config()
	if cfg.PLLSlave != "" {
		m, err := my.master(nodeIO + ".i2c")
		if err != nil {
			return nil, err
		}
		s, err := m.Slave(cfg.PLLSlave)
		if err != nil {
			return nil, err
		}
		return pll.New(s), nil
	}
	m, err := my.master(nodeIO + "." + devhdr.NodePLLI2C)
	if err != nil {
		return nil, err
	}
	slaves := m.Slaves()
	if len(slaves) != 1 {
		return nil, fmt.Errorf("%s: expected one PLL slave, found %d", m.Name, len(slaves))
	}
	s, err := m.Slave(slaves[0])
	if err != nil {
		return nil, err
	}
	return pll.New(s), nil
}

// IOStatus is the io.csr.stat register dump.
type IOStatus struct {
	Regs map[string]uint32
	// ActiveSFPs lists the cages without loss of signal, PC059 only
	ActiveSFPs []int
}

func (my *Device) IOStatus() (*IOStatus, error) {
	ioNode, err := my.ioNode()
	if err != nil {
		return nil, err
	}
	st, err := ioNode.GetNode(nodeCsrSt)
	if err != nil {
		return nil, err
	}
	regs, err := ipbus.ReadSubNodes(st)
	if err != nil {
		return nil, err
	}
	s := &IOStatus{Regs: regs}
	if my.Identity.Board == devhdr.BoardPC059 {
		s.ActiveSFPs = []int{}
		for i := uint(0); i < 8; i++ {
			if util.DecRng(regs["sfp_los"], i, 1) == 0 {
				s.ActiveSFPs = append(s.ActiveSFPs, int(i))
			}
		}
	}
	return s, nil
}

func (s *IOStatus) Report() string {
	out := util.RegTable(s.Regs, false) + "\n"
	if s.ActiveSFPs != nil {
		out += fmt.Sprintf("Active SFPS: %v\n", s.ActiveSFPs)
	}
	return out
}

// ClockStatus is what clk-status shows about the PLL.
type ClockStatus struct {
	ConfigID string
	Info     []util.KV
	PLL      *pll.Status
}

func (my *Device) ClockStatus(verbose bool) (*ClockStatus, error) {
	chip, err := my.clockChip()
	if err != nil {
		return nil, err
	}
	cs := &ClockStatus{}
	if cs.ConfigID, err = chip.ReadConfigID(); err != nil {
		return nil, err
	}
	if verbose {
		if cs.Info, err = chip.Info(); err != nil {
			return nil, err
		}
	}
	if cs.PLL, err = chip.Status(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *ClockStatus) Report() string {
	out := fmt.Sprintf("PLL Configuration id: %s\n", util.Style(cs.ConfigID, util.Cyan))
	if cs.Info != nil {
		out += util.Style("PLL Information", util.Cyan) + "\n"
		out += util.DictTable(cs.Info, true) + "\n"
	}
	out += util.Style("PLL Status", util.Cyan) + "\n"
	return out + util.DictTable(cs.PLL.Fields, true) + "\n"
}

// PrintClockStatus shows the io status, the measured frequencies and the
// PLL status, in that order.
func (my *Device) PrintClockStatus(verbose bool) error {
	st, err := my.IOStatus()
	if err != nil {
		return err
	}
	my.printf("\n--- %s ---\n%s\n", util.Style("IO status", util.Cyan), st.Report())

	freqs, err := my.MeasureFrequencies()
	if err != nil {
		return err
	}
	my.printf("%s\n", FrequencyReport(freqs))

	cs, err := my.ClockStatus(verbose)
	if err != nil {
		return err
	}
	my.printf("%s", cs.Report())
	return nil
}
