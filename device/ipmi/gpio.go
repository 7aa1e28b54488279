package ipmi

import (
	"errors"
	"fmt"

	"pdtbutler/util"
)

const (
	cmdGPIO = 0x01

	GPIORead      = 0
	GPIODirection = 1
	GPIOSet       = 2

	NumPins = 32
)

var ErrGPIOMode = errors.New("ipmi: valid configuring modes are 1 or 2")

type Port struct {
	Number     uint8
	Directions uint32
	States     uint32
}

func le32(bs []uint8) uint32 {
	return uint32(bs[0]) | uint32(bs[1])<<8 | uint32(bs[2])<<16 | uint32(bs[3])<<24
}

// ReadGPIOPort returns direction (1 out) and level of the port's pins.
func (s *Session) ReadGPIOPort(port uint8) (*Port, error) {
	r, err := s.Raw(cmdGPIO, port, GPIORead)
	if err != nil {
		return nil, err
	}
	if len(r) < 9 {
		return nil, fmt.Errorf("%w: gpio port %d: %d bytes", ErrReply, port, len(r))
	}
	return &Port{Number: port, Directions: le32(r[1:5]), States: le32(r[5:9])}, nil
}

func (p *Port) Table() *util.Table {
	t := util.NewTable("Pin", "Direction", "State")
	for i := 0; i < NumPins; i++ {
		dir := util.Style("In", util.Yellow)
		if p.Directions&(1<<i) != 0 {
			dir = util.Style("Out", util.Green)
		}
		st := util.Style("Low", util.Blue)
		if p.States&(1<<i) != 0 {
			st = util.Style("High", util.Red)
		}
		t.AddRow(i, dir, st)
	}
	return t
}

// ConfigureGPIOPort sets a pin direction (mode 1) or level (mode 2). A
// negative value leaves the level unchecked.
func (s *Session) ConfigureGPIOPort(port, mode, pin uint8, value int) error {
	if mode != GPIODirection && mode != GPIOSet {
		return fmt.Errorf("%w: %d", ErrGPIOMode, mode)
	}
	cmd := []uint8{cmdGPIO, port, mode, pin}
	if mode == GPIOSet && value >= 0 {
		cmd = append(cmd, uint8(value))
	}
	what := fmt.Sprintf("configure port 0x%x pin 0x%x", port, pin)
	_, err := s.retry(what, func(r []uint8) bool {
		switch {
		case len(r) < 2:
			return false
		case mode == GPIODirection:
			return r[1] == 0
		case r[1] != 1:
			return false
		case value < 0:
			return true
		default:
			return len(r) > 2 && int(r[2]) == value
		}
	}, cmd...)
	return err
}
