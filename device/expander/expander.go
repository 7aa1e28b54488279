// Package expander drives PCA9539-style 16-bit I2C GPIO expanders, two banks
// of eight lines each.
package expander

import (
	"errors"
	"fmt"
)

const (
	regInputs    = 0x00
	regOutputs   = 0x02
	regInversion = 0x04
	regConfig    = 0x06
)

var ErrBank = errors.New("expander: bank must be 0 or 1")

type Bus interface {
	ReadI2C(reg uint8) (uint8, error)
	WriteI2C(reg, v uint8) error
}

type Expander struct {
	bus Bus
}

func New(bus Bus) *Expander {
	return &Expander{bus: bus}
}

func reg(base uint8, bank int) (uint8, error) {
	if bank != 0 && bank != 1 {
		return 0, fmt.Errorf("%w: %d", ErrBank, bank)
	}
	return base + uint8(bank), nil
}

func (e *Expander) write(base uint8, bank int, v uint8) error {
	r, err := reg(base, bank)
	if err != nil {
		return err
	}
	return e.bus.WriteI2C(r, v)
}

func (e *Expander) read(base uint8, bank int) (uint8, error) {
	r, err := reg(base, bank)
	if err != nil {
		return 0, err
	}
	return e.bus.ReadI2C(r)
}

// SetInversion sets the input polarity inversion mask of a bank.
func (e *Expander) SetInversion(bank int, v uint8) error {
	return e.write(regInversion, bank, v)
}

// SetIO sets the direction mask of a bank, 1 for input.
func (e *Expander) SetIO(bank int, v uint8) error {
	return e.write(regConfig, bank, v)
}

func (e *Expander) SetOutputs(bank int, v uint8) error {
	return e.write(regOutputs, bank, v)
}

func (e *Expander) ReadInputs(bank int) (uint8, error) {
	return e.read(regInputs, bank)
}

func (e *Expander) ReadOutputs(bank int) (uint8, error) {
	return e.read(regOutputs, bank)
}

// Bank is one full bank setting.
type Bank struct {
	Inversion uint8
	IO        uint8
	Outputs   uint8
}

// Setup writes inversion, direction and outputs of a bank in that order.
func (e *Expander) Setup(bank int, b Bank) error {
	if err := e.SetInversion(bank, b.Inversion); err != nil {
		return err
	}
	if err := e.SetIO(bank, b.IO); err != nil {
		return err
	}
	return e.SetOutputs(bank, b.Outputs)
}
