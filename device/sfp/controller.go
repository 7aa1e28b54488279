package sfp

import (
	"errors"
	"fmt"
	"time"

	"pdtbutler/log"
)

type State int

const (
	Unreachable State = iota
	DDMUnsupported
	AddressChangeNeeded
	Controllable
)

func (s State) String() string {
	switch s {
	case Unreachable:
		return "Unreachable"
	case DDMUnsupported:
		return "DDMUnsupported"
	case AddressChangeNeeded:
		return "DDMAddressChangeNeeded"
	case Controllable:
		return "Controllable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrUnreachable       = errors.New("SFP not available")
	ErrDDMUnsupported    = errors.New("SFP does not support DDM")
	ErrAddressChange     = errors.New("special I2C address change not supported")
	ErrSoftTxUnsupported = errors.New("soft tx disable not supported by this SFP")
)

// Err maps a terminal state to its sentinel error, nil for Controllable.
func (s State) Err() error {
	switch s {
	case Unreachable:
		return ErrUnreachable
	case DDMUnsupported:
		return ErrDDMUnsupported
	case AddressChangeNeeded:
		return ErrAddressChange
	default:
		return nil
	}
}

// TxSettleTime is how long the module needs to apply a TX_DISABLE change.
var TxSettleTime = 200 * time.Millisecond

var sleep = time.Sleep

// ping checks 0x50 then 0x51. A module answering only on 0x51 needs the
// address change sequence, which is not implemented.
func (m *Module) ping() (State, bool, error) {
	ok, err := m.bus.Ping(BaseAddr)
	if err != nil {
		return Unreachable, false, err
	}
	if ok {
		return Controllable, true, nil
	}
	ok, err = m.bus.Ping(DiagAddr)
	if err != nil {
		return Unreachable, false, err
	}
	if ok {
		return AddressChangeNeeded, false, nil
	}
	return Unreachable, false, nil
}

func (m *Module) diagCapabilities() (State, Capabilities, error) {
	var caps Capabilities
	v, err := m.bus.ReadByte(BaseAddr, regDiagType)
	if err != nil {
		return Unreachable, caps, err
	}
	caps.DDMSupported, caps.AddressChange = DecodeDiagType(v)
	if !caps.DDMSupported {
		return DDMUnsupported, caps, nil
	}
	if caps.AddressChange {
		return AddressChangeNeeded, caps, nil
	}
	return Controllable, caps, nil
}

// Probe walks the reachability and capability checks without touching any
// control register.
func (m *Module) Probe() (State, Capabilities, error) {
	st, base, err := m.ping()
	if err != nil || !base {
		return st, Capabilities{}, err
	}
	return m.diagCapabilities()
}

func (m *Module) SoftTxSupported() (bool, error) {
	v, err := m.bus.ReadByte(BaseAddr, regEnhancedOpts)
	if err != nil {
		return false, err
	}
	return DecodeEnhancedOptions(v), nil
}

func (m *Module) TxControl() (TxControl, error) {
	v, err := m.bus.ReadByte(DiagAddr, regStatusCtrl)
	if err != nil {
		return TxControl{}, err
	}
	return DecodeStatusCtrl(v), nil
}

// SwitchTx drives the soft TX_DISABLE bit and reports the state read back
// after the settle time. The write is not verified and never rolled back.
func (m *Module) SwitchTx(on bool) (*Status, error) {
	st, caps, err := m.Probe()
	if err != nil {
		return nil, err
	}
	if st != Controllable {
		log.Errorf("%v", st.Err())
		return &Status{State: st, Caps: caps}, st.Err()
	}

	softTx, err := m.SoftTxSupported()
	if err != nil {
		return nil, err
	}
	if !softTx {
		// many modules honour the register anyway
		log.Warnf("WARNING %v", ErrSoftTxUnsupported)
	}

	ctrl, err := m.TxControl()
	if err != nil {
		return nil, err
	}
	next := ApplySoftTx(ctrl.Raw, on)
	log.Debugf("sfp: status/control 0x%02x -> 0x%02x (on=%v)", ctrl.Raw, next, on)
	if err := m.bus.WriteByte(DiagAddr, regStatusCtrl, next); err != nil {
		return nil, err
	}

	sleep(TxSettleTime)

	return m.Status()
}
