package sfp

import (
	"fmt"

	"pdtbutler/util"
)

type Telemetry struct {
	Temperature  float64
	Voltage      float64
	RxPower      float64
	TxPower      float64
	LaserCurrent float64
}

// Status is everything the status table shows for one module. Fields past
// the terminal state that stopped the read are left zero.
type Status struct {
	State      State
	Vendor     string
	PartNumber string
	Caps       Capabilities
	Telemetry  *Telemetry
	Tx         *TxControl
}

func (m *Module) Telemetry() (*Telemetry, error) {
	var t Telemetry
	var err error
	if t.Temperature, err = m.Temperature(); err != nil {
		return nil, err
	}
	if t.Voltage, err = m.Voltage(); err != nil {
		return nil, err
	}
	if t.RxPower, err = m.RxPower(); err != nil {
		return nil, err
	}
	if t.TxPower, err = m.TxPower(); err != nil {
		return nil, err
	}
	if t.LaserCurrent, err = m.LaserCurrent(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Status reads identity, telemetry and TX control state, stopping at the
// first terminal state.
func (m *Module) Status() (*Status, error) {
	st, base, err := m.ping()
	if err != nil {
		return nil, err
	}
	s := &Status{State: st}
	if !base {
		return s, nil
	}

	if s.Vendor, err = m.VendorName(); err != nil {
		return nil, err
	}
	if s.PartNumber, err = m.PartNumber(); err != nil {
		return nil, err
	}

	if s.State, s.Caps, err = m.diagCapabilities(); err != nil {
		return nil, err
	}
	if s.State != Controllable {
		return s, nil
	}

	if s.Telemetry, err = m.Telemetry(); err != nil {
		return nil, err
	}
	if s.Caps.SoftTxControl, err = m.SoftTxSupported(); err != nil {
		return nil, err
	}
	ctrl, err := m.TxControl()
	if err != nil {
		return nil, err
	}
	s.Tx = &ctrl
	return s, nil
}

// Note is the operator message for states that stop before telemetry.
func (s *Status) Note() string {
	switch {
	case s.State == AddressChangeNeeded && s.Vendor == "":
		return "SFP in mode 0x51, special I2C address change not implemented"
	case s.State == AddressChangeNeeded:
		return "Special I2C address change not supported"
	case s.State == DDMUnsupported:
		return "SFP does not support DDM"
	default:
		return ""
	}
}

// Table renders the status the same way for every board type.
func (s *Status) Table(sfpNumber int) *util.Table {
	t := &util.Table{Align: []util.Align{util.AlignCenter, util.AlignCenter}}
	t.AddRow("SFP #", sfpNumber)
	if s.State == Unreachable || (s.State == AddressChangeNeeded && s.Vendor == "") {
		return t
	}
	t.AddRow("Vendor", s.Vendor)
	t.AddRow("Part number", s.PartNumber)
	if s.Telemetry == nil {
		return t
	}
	t.AddRow("Temperature", fmt.Sprintf("%.1f C", s.Telemetry.Temperature))
	t.AddRow("Supply voltage", fmt.Sprintf("%.1f V", s.Telemetry.Voltage))
	t.AddRow("Rx power", fmt.Sprintf("%.1f uW", s.Telemetry.RxPower))
	t.AddRow("Tx power", fmt.Sprintf("%.1f uW", s.Telemetry.TxPower))
	t.AddRow("Laser bias current", fmt.Sprintf("%.1f mA", s.Telemetry.LaserCurrent))
	if s.Tx == nil {
		return t
	}
	if s.Caps.SoftTxControl {
		t.AddRow("Tx disable reg supported", "True")
		t.AddRow("Tx disable reg", b2i(s.Tx.RegDisabled))
	} else {
		t.AddRow("Tx disable reg supported", "False")
	}
	t.AddRow("Tx disable pin", b2i(s.Tx.PinDisabled))
	return t
}

// Report is the note, if any, followed by the drawn table.
func (s *Status) Report(sfpNumber int) string {
	out := ""
	if n := s.Note(); n != "" {
		out = util.Style(n, util.Red) + "\n"
	}
	return out + s.Table(sfpNumber).Draw()
}

func (th *Thresholds) Table() *util.Table {
	t := util.NewTable("threshold", "tx power", "rx power")
	t.AddRow("high alarm", fmt.Sprintf("%.1f uW", th.TxPowerHighAlarm), fmt.Sprintf("%.1f uW", th.RxPowerHighAlarm))
	t.AddRow("high warning", fmt.Sprintf("%.1f uW", th.TxPowerHighWarn), fmt.Sprintf("%.1f uW", th.RxPowerHighWarn))
	t.AddRow("low warning", fmt.Sprintf("%.1f uW", th.TxPowerLowWarn), fmt.Sprintf("%.1f uW", th.RxPowerLowWarn))
	t.AddRow("low alarm", fmt.Sprintf("%.1f uW", th.TxPowerLowAlarm), fmt.Sprintf("%.1f uW", th.RxPowerLowAlarm))
	return t
}
