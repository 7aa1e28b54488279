// Package dac drives the octal 16-bit I2C DACs that set the TLU input
// discriminator thresholds.
package dac

import (
	"errors"
	"fmt"
)

const (
	regInternalRef = 0x38
	regChannelBase = 0x18

	MaxCode = 0xffff
)

var ErrChannel = errors.New("dac: channel out of range 0-7")

type Bus interface {
	WriteI2CArray(reg uint8, data []byte) error
}

type DAC struct {
	bus Bus
}

func New(bus Bus) *DAC {
	return &DAC{bus: bus}
}

func (d *DAC) SetInternalRef(on bool) error {
	var v byte
	if on {
		v = 0x01
	}
	return d.bus.WriteI2CArray(regInternalRef, []byte{0x00, v})
}

func (d *DAC) SetDAC(channel int, code uint16) error {
	if channel < 0 || channel > 7 {
		return fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	return d.bus.WriteI2CArray(regChannelBase+uint8(channel&0x7), []byte{byte(code >> 8), byte(code)})
}
