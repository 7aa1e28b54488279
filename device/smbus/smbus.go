// Package smbus is a wrapper around the periph.io library for I2C buses on
// the host, used for SFP cages wired to the host rather than to an FPGA.
// It avoids using cgo, unsafe and syscalls.
package smbus

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// SysIF is the system interface to the I2C bus.
type SysIF struct {
	BusName string
	Bus     i2c.BusCloser
	i2cmu   *sync.Mutex
}

// New opens a host bus by periph name, e.g. "/dev/i2c-1" or "1".
func New(busName string) (*SysIF, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, err
	}
	return NewWithBus(busName, bus), nil
}

func NewWithBus(name string, bus i2c.BusCloser) *SysIF {
	return &SysIF{
		BusName: name,
		Bus:     bus,
		i2cmu:   &sync.Mutex{},
	}
}

// Close the I2C bus.
func (s *SysIF) Close() error {
	s.i2cmu.Lock()
	defer s.i2cmu.Unlock()
	return s.Bus.Close()
}

// periph takes a 16-bit address to cover 10-bit addressing; SFPs use 7.

// ReadN reads nbytes starting at register cmd.
func (s *SysIF) ReadN(addr uint16, cmd uint8, nbytes int) ([]byte, error) {
	s.i2cmu.Lock()
	defer s.i2cmu.Unlock()

	d := &i2c.Dev{Addr: addr, Bus: s.Bus}
	read := make([]byte, nbytes)
	if err := d.Tx([]byte{cmd}, read); err != nil {
		return nil, err
	}
	return read, nil
}

// WriteN writes data starting at register cmd.
func (s *SysIF) WriteN(addr uint16, cmd uint8, data []byte) error {
	s.i2cmu.Lock()
	defer s.i2cmu.Unlock()

	d := &i2c.Dev{Addr: addr, Bus: s.Bus}
	return d.Tx(append([]byte{cmd}, data...), nil)
}

// probe issues a single byte read with no register write.
func (s *SysIF) probe(addr uint16) error {
	s.i2cmu.Lock()
	defer s.i2cmu.Unlock()

	d := &i2c.Dev{Addr: addr, Bus: s.Bus}
	return d.Tx(nil, make([]byte, 1))
}
