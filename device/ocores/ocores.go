// Package ocores drives the OpenCores I2C master cores found in the timing
// firmware, through their IPbus register nodes.
package ocores

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pdtbutler/device/ipbus"
	"pdtbutler/log"
	"pdtbutler/util"
)

const (
	regPrescaleLo = "ps_lo"
	regPrescaleHi = "ps_hi"
	regCtrl       = "ctrl"
	regData       = "data"
	regCmdStat    = "cmd_stat"
)

// command bits written to cmd_stat
const (
	cmdStart = 0x80
	cmdStop  = 0x40
	cmdRead  = 0x20
	cmdWrite = 0x10
	cmdNack  = 0x08
)

// status bits read from cmd_stat
const (
	statRxAck = 0x80
	statBusy  = 0x40
	statAL    = 0x20
	statTIP   = 0x02
)

const ctrlEnable = 0x80

const slavePrefix = "i2c_"

var (
	ErrNoAck       = errors.New("i2c: no acknowledge from slave")
	ErrTransfer    = errors.New("i2c: transfer in progress never cleared")
	ErrArbitration = errors.New("i2c: arbitration lost")
	ErrNoSlave     = errors.New("i2c: no such slave")
)

// TransferPolls bounds the TIP polling of a single byte transfer.
var TransferPolls = 100

type registers interface {
	Write(name string, v uint32) error
	Read(name string) (uint32, error)
}

type nodeRegisters struct {
	node *ipbus.Node
}

func (r nodeRegisters) Write(name string, v uint32) error {
	n, err := r.node.GetNode(name)
	if err != nil {
		return err
	}
	return n.WriteNow(v)
}

func (r nodeRegisters) Read(name string) (uint32, error) {
	n, err := r.node.GetNode(name)
	if err != nil {
		return 0, err
	}
	return n.ReadNow()
}

type Master struct {
	Name   string
	regs   registers
	slaves map[string]uint8
}

// New wraps an I2C master node. Slave names come from the node's
// "i2c_NAME=0xADDR" parameters.
func New(node *ipbus.Node) (*Master, error) {
	slaves, err := parseSlaves(node.Parameters())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node.Path(), err)
	}
	return &Master{Name: node.Path(), regs: nodeRegisters{node}, slaves: slaves}, nil
}

func parseSlaves(params map[string]string) (map[string]uint8, error) {
	slaves := make(map[string]uint8)
	for k, v := range params {
		if !strings.HasPrefix(k, slavePrefix) {
			continue
		}
		a, err := util.ParseIntRange(v, 0, 0x7f)
		if err != nil {
			return nil, fmt.Errorf("slave %s: %w", k, err)
		}
		slaves[strings.TrimPrefix(k, slavePrefix)] = uint8(a)
	}
	return slaves, nil
}

// Slaves lists the named slaves, sorted by name.
func (m *Master) Slaves() []string {
	names := make([]string, 0, len(m.slaves))
	for n := range m.slaves {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Master) SlaveAddress(name string) (uint8, error) {
	a, ok := m.slaves[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrNoSlave, name, m.Name)
	}
	return a, nil
}

func (m *Master) Slave(name string) (*Slave, error) {
	a, err := m.SlaveAddress(name)
	if err != nil {
		return nil, err
	}
	return &Slave{m: m, Name: name, Addr: a}, nil
}

// Reset disables the core, programs the prescaler and enables it again.
func (m *Master) Reset(prescale uint16) error {
	if err := m.regs.Write(regCtrl, 0); err != nil {
		return err
	}
	if err := m.regs.Write(regPrescaleLo, uint32(prescale&0xff)); err != nil {
		return err
	}
	if err := m.regs.Write(regPrescaleHi, uint32(prescale>>8)); err != nil {
		return err
	}
	return m.regs.Write(regCtrl, ctrlEnable)
}

// transfer issues one command and waits for the byte to go out.
func (m *Master) transfer(cmd uint8) (ack bool, err error) {
	if err := m.regs.Write(regCmdStat, uint32(cmd)); err != nil {
		return false, err
	}
	for i := 0; i < TransferPolls; i++ {
		st, err := m.regs.Read(regCmdStat)
		if err != nil {
			return false, err
		}
		if st&statAL != 0 {
			return false, ErrArbitration
		}
		if st&statTIP == 0 {
			return st&statRxAck == 0, nil
		}
	}
	return false, ErrTransfer
}

func (m *Master) writeByte(b uint8, cmd uint8) error {
	if err := m.regs.Write(regData, uint32(b)); err != nil {
		return err
	}
	ack, err := m.transfer(cmdWrite | cmd)
	if err != nil {
		return err
	}
	if !ack {
		if cmd&cmdStop == 0 {
			m.stop()
		}
		return ErrNoAck
	}
	return nil
}

func (m *Master) readByte(cmd uint8) (uint8, error) {
	if _, err := m.transfer(cmdRead | cmd); err != nil {
		return 0, err
	}
	v, err := m.regs.Read(regData)
	return uint8(v), err
}

func (m *Master) stop() {
	if _, err := m.transfer(cmdStop); err != nil {
		log.Debugf("%s: stop: %v", m.Name, err)
	}
}

// Ping addresses the slave and reports whether it acknowledged.
func (m *Master) Ping(addr uint8) (bool, error) {
	err := m.writeByte(addr<<1, cmdStart|cmdStop)
	if errors.Is(err, ErrNoAck) {
		return false, nil
	}
	return err == nil, err
}

func (m *Master) WriteI2CArray(addr, reg uint8, data []byte) error {
	if err := m.writeByte(addr<<1, cmdStart); err != nil {
		return fmt.Errorf("%s: slave 0x%02x: %w", m.Name, addr, err)
	}
	bs := append([]byte{reg}, data...)
	for i, b := range bs {
		var cmd uint8
		if i == len(bs)-1 {
			cmd = cmdStop
		}
		if err := m.writeByte(b, cmd); err != nil {
			return fmt.Errorf("%s: slave 0x%02x reg 0x%02x: %w", m.Name, addr, reg, err)
		}
	}
	return nil
}

func (m *Master) ReadI2CArray(addr, reg uint8, n int) ([]byte, error) {
	if err := m.writeByte(addr<<1, cmdStart); err != nil {
		return nil, fmt.Errorf("%s: slave 0x%02x: %w", m.Name, addr, err)
	}
	if err := m.writeByte(reg, 0); err != nil {
		return nil, fmt.Errorf("%s: slave 0x%02x reg 0x%02x: %w", m.Name, addr, reg, err)
	}
	return m.ReadI2CPrimitive(addr, n)
}

func (m *Master) WriteI2C(addr, reg, v uint8) error {
	return m.WriteI2CArray(addr, reg, []byte{v})
}

func (m *Master) ReadI2C(addr, reg uint8) (uint8, error) {
	bs, err := m.ReadI2CArray(addr, reg, 1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// WriteI2CPrimitive writes raw bytes with no register pointer.
func (m *Master) WriteI2CPrimitive(addr uint8, data []byte) error {
	var cmd uint8 = cmdStart
	if len(data) == 0 {
		cmd |= cmdStop
	}
	if err := m.writeByte(addr<<1, cmd); err != nil {
		return fmt.Errorf("%s: slave 0x%02x: %w", m.Name, addr, err)
	}
	for i, b := range data {
		var cmd uint8
		if i == len(data)-1 {
			cmd = cmdStop
		}
		if err := m.writeByte(b, cmd); err != nil {
			return fmt.Errorf("%s: slave 0x%02x: %w", m.Name, addr, err)
		}
	}
	return nil
}

// ReadI2CPrimitive reads n bytes from the slave's current pointer.
func (m *Master) ReadI2CPrimitive(addr uint8, n int) ([]byte, error) {
	if err := m.writeByte(addr<<1|1, cmdStart); err != nil {
		return nil, fmt.Errorf("%s: slave 0x%02x: %w", m.Name, addr, err)
	}
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		var cmd uint8
		if i == n-1 {
			cmd = cmdNack | cmdStop
		}
		b, err := m.readByte(cmd)
		if err != nil {
			return nil, fmt.Errorf("%s: slave 0x%02x: %w", m.Name, addr, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// ReadByte and WriteByte let a master serve as an SFP bus.
func (m *Master) ReadByte(addr, reg uint8) (uint8, error) {
	return m.ReadI2C(addr, reg)
}

func (m *Master) WriteByte(addr, reg, v uint8) error {
	return m.WriteI2C(addr, reg, v)
}

// Slave is a master bound to one named address.
type Slave struct {
	m    *Master
	Name string
	Addr uint8
}

func (s *Slave) Ping() (bool, error) {
	return s.m.Ping(s.Addr)
}

func (s *Slave) ReadI2C(reg uint8) (uint8, error) {
	return s.m.ReadI2C(s.Addr, reg)
}

func (s *Slave) WriteI2C(reg, v uint8) error {
	return s.m.WriteI2C(s.Addr, reg, v)
}

func (s *Slave) ReadI2CArray(reg uint8, n int) ([]byte, error) {
	return s.m.ReadI2CArray(s.Addr, reg, n)
}

func (s *Slave) WriteI2CArray(reg uint8, data []byte) error {
	return s.m.WriteI2CArray(s.Addr, reg, data)
}

func (s *Slave) WriteI2CPrimitive(data []byte) error {
	return s.m.WriteI2CPrimitive(s.Addr, data)
}

func (s *Slave) ReadI2CPrimitive(n int) ([]byte, error) {
	return s.m.ReadI2CPrimitive(s.Addr, n)
}
