// Package i2c talks to host /dev/i2c-N adapters directly, for boards whose
// UID PROM sits on a host bus rather than behind the firmware.
package i2c

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const i2cSlave = 0x0703

// conn is one addressed slave on an open adapter.
type conn interface {
	// Tx writes w, if any, then reads len(r) bytes into r.
	Tx(w, r []byte) error
	Close() error
}

type devfsConn struct {
	f *os.File
}

func open(dev string, addr int) (conn, error) {
	f, err := os.OpenFile(dev, os.O_RDWR, os.ModeDevice)
	if err != nil {
		return nil, err
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, addr); err != nil {
		f.Close()
		return nil, fmt.Errorf("i2c: address 0x%02x on %s: %w", addr, dev, err)
	}
	return &devfsConn{f: f}, nil
}

func (c *devfsConn) Tx(w, r []byte) error {
	if len(w) > 0 {
		if _, err := c.f.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(c.f, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *devfsConn) Close() error {
	return c.f.Close()
}

type Dev struct {
	Bus  int
	Addr int
	conn conn
}

// Open addresses one slave on /dev/i2c-<bus>.
func Open(bus, addr int) (*Dev, error) {
	c, err := open(fmt.Sprintf("/dev/i2c-%d", bus), addr)
	if err != nil {
		return nil, err
	}
	return &Dev{Bus: bus, Addr: addr, conn: c}, nil
}

func (d *Dev) ReadReg(reg byte, buf []byte) error {
	return d.conn.Tx([]byte{reg}, buf)
}

func (d *Dev) WriteReg(reg byte, buf []byte) error {
	return d.conn.Tx(append([]byte{reg}, buf...), nil)
}

func (d *Dev) Close() error {
	return d.conn.Close()
}

const (
	promUIDReg = 0xfa
	promUIDLen = 6
)

// ReadUID returns the six EUI-48 bytes of a 24AA025E-style PROM.
func (d *Dev) ReadUID() ([]byte, error) {
	buf := make([]byte, promUIDLen)
	if err := d.ReadReg(promUIDReg, buf); err != nil {
		return nil, fmt.Errorf("i2c-%d 0x%02x: uid: %w", d.Bus, d.Addr, err)
	}
	return buf, nil
}
