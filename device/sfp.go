package device

import (
	"pdtbutler/device/devhdr"
	"pdtbutler/device/sfp"
	"pdtbutler/log"
	"pdtbutler/util"
)

func (my *Device) sfpModule() (*sfp.Module, error) {
	m, err := my.master(nodeIO + "." + devhdr.NodeSFPI2C)
	if err != nil {
		return nil, err
	}
	return sfp.New(m), nil
}

// SFPStatus reads and prints the status of the board's SFP. With verbose
// the power thresholds of a controllable module are printed too.
func (my *Device) SFPStatus(sfpNumber int, verbose bool) (*sfp.Status, error) {
	mod, err := my.sfpModule()
	if err != nil {
		return nil, err
	}
	s, err := mod.Status()
	if err != nil {
		return nil, err
	}
	my.printf("%s\n", s.Report(sfpNumber))
	if verbose && s.State == sfp.Controllable {
		th, err := mod.Thresholds()
		if err != nil {
			return s, err
		}
		my.printf("%s\n%s\n", util.Style("Power thresholds", util.Cyan), th.Table().Draw())
	}
	return s, nil
}

// SwitchSFPTx drives the soft TX_DISABLE bit and prints the state read
// back afterwards.
func (my *Device) SwitchSFPTx(sfpNumber int, on bool) (*sfp.Status, error) {
	mod, err := my.sfpModule()
	if err != nil {
		return nil, err
	}
	s, err := mod.SwitchTx(on)
	if err != nil {
		return s, err
	}
	my.printf("%s\n", s.Report(sfpNumber))
	return s, nil
}

// ExportSFPMetrics writes the status to a node-exporter textfile.
func (my *Device) ExportSFPMetrics(path string, sfpNumber int, s *sfp.Status) error {
	m := sfp.NewMetrics()
	m.Observe(my.ID, sfpNumber, s)
	if err := m.WriteTextfile(path); err != nil {
		return err
	}
	log.Debugf("sfp metrics of %s written to %s", my.ID, path)
	return nil
}
