package ipmi

import (
	"errors"
	"fmt"

	"pdtbutler/util"
)

const (
	NumOutputs = 16

	regTxCtrl = 0x20
	txEnabled = 0b0110000
	txEnMask  = 0b0110000
)

var xptMapRegs = [2]uint8{0x90, 0x98}

var ErrXPTMap = errors.New("ipmi: crossbar map must be 16 hex digits")

type TxState uint8

const (
	TxDisabled TxState = iota
	TxStandby
	TxSquelched
	TxEnabled
)

var txStateNames = [...]string{"Disabled", "Standby", "Squelched", "Enabled"}
var txStateColors = [...]util.Color{util.Red, util.White, util.Blue, util.Green}

func (t TxState) String() string {
	return txStateNames[t&3]
}

// DecodeTxState takes the TX EN field of a TX basic control register.
func DecodeTxState(v uint8) TxState {
	return TxState((v & txEnMask) >> 4)
}

// ApplyTxConfig enables output i when bit i of mask is set.
func (s *Session) ApplyTxConfig(mask uint16) error {
	for i := 0; i < NumOutputs; i++ {
		var v uint8
		if mask&(1<<i) != 0 {
			v = txEnabled
		}
		if err := s.WriteReg(regTxCtrl+uint8(i), v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) ReadTxConfig() ([NumOutputs]uint8, error) {
	var tx [NumOutputs]uint8
	for i := range tx {
		v, err := s.ReadReg(regTxCtrl + uint8(i))
		if err != nil {
			return tx, err
		}
		tx[i] = v
	}
	return tx, nil
}

func checkMap(n int) error {
	if n != 0 && n != 1 {
		return fmt.Errorf("ipmi: crossbar map number %d, expected 0 or 1", n)
	}
	return nil
}

// EncodeXPTMap turns 16 hex digits, one input per output, into the eight
// register values. Each register holds the even output in its low nibble.
func EncodeXPTMap(m string) ([8]uint8, error) {
	var regs [8]uint8
	if len(m) != 16 {
		return regs, fmt.Errorf("%w: %q", ErrXPTMap, m)
	}
	bs, err := util.BytesFromHex(m, 8)
	if err != nil {
		return regs, fmt.Errorf("%w: %v", ErrXPTMap, err)
	}
	for i, b := range bs {
		regs[i] = b<<4 | b>>4
	}
	return regs, nil
}

func (s *Session) ApplyXPTMap(m string, n int) error {
	if err := checkMap(n); err != nil {
		return err
	}
	regs, err := EncodeXPTMap(m)
	if err != nil {
		return err
	}
	for i, v := range regs {
		if err := s.WriteReg(xptMapRegs[n]+uint8(i), v); err != nil {
			return err
		}
	}
	return nil
}

// ReadXPTMap returns the input selected for each output.
func (s *Session) ReadXPTMap(n int) ([NumOutputs]uint8, error) {
	var m [NumOutputs]uint8
	if err := checkMap(n); err != nil {
		return m, err
	}
	for i := 0; i < 8; i++ {
		v, err := s.ReadReg(xptMapRegs[n] + uint8(i))
		if err != nil {
			return m, err
		}
		m[2*i] = v & 0x0f
		m[2*i+1] = v >> 4
	}
	return m, nil
}

// CrossbarTable shows both maps, the active one in green, and TX states.
func CrossbarTable(map0, map1 [NumOutputs]uint8, tx [NumOutputs]uint8, active int) *util.Table {
	c0, c1 := util.Green, util.White
	if active == 1 {
		c0, c1 = util.White, util.Green
	}
	t := util.NewTable("Output", util.Style("Map 0", c0), util.Style("Map 1", c1), "Tx state")
	for i := 0; i < NumOutputs; i++ {
		st := DecodeTxState(tx[i])
		t.AddRow(i,
			util.Style(fmt.Sprint(map0[i]), c0),
			util.Style(fmt.Sprint(map1[i]), c1),
			util.Style(st.String(), txStateColors[st]))
	}
	return t
}
