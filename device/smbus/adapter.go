package smbus

/* adapter makes a host bus usable wherever an SFP bus is expected */

import (
	"pdtbutler/log"
)

// Ping reports whether a slave answers at addr. Bus errors read as absent,
// the kernel adapters do not tell a NAK from other failures.
func (s *SysIF) Ping(addr uint8) (bool, error) {
	if err := s.probe(uint16(addr)); err != nil {
		log.Debugf("smbus %s: ping 0x%02x: %v", s.BusName, addr, err)
		return false, nil
	}
	return true, nil
}

// ReadByte reads a single register.
func (s *SysIF) ReadByte(addr, reg uint8) (uint8, error) {
	b, err := s.ReadN(uint16(addr), reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteByte writes a single register.
func (s *SysIF) WriteByte(addr, reg, v uint8) error {
	return s.WriteN(uint16(addr), reg, []byte{v})
}

// ReadWord reads a little-endian 16-bit register pair.
func (s *SysIF) ReadWord(addr, reg uint8) (uint16, error) {
	b, err := s.ReadN(uint16(addr), reg, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[1])<<8 | uint16(b[0]), nil
}
