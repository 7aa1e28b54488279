package ocores

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"

	"pdtbutler/device/sfp"
)

// fakeCore models the OpenCores byte engine with a set of register-file
// slaves attached.
type fakeCore struct {
	regs   map[string]uint32
	slaves map[uint8][]byte

	cur       uint8
	inFrame   bool
	addrPhase bool
	wantPtr   bool
	ptr       uint8
	ack       bool
	busyPolls int
	polls     int
	cmds      []uint8
}

func newFakeCore() *fakeCore {
	return &fakeCore{regs: map[string]uint32{}, slaves: map[uint8][]byte{}}
}

func (f *fakeCore) attach(addr uint8) []byte {
	mem := make([]byte, 256)
	f.slaves[addr] = mem
	return mem
}

func (f *fakeCore) Write(name string, v uint32) error {
	f.regs[name] = v
	if name != regCmdStat {
		return nil
	}
	cmd := uint8(v)
	f.cmds = append(f.cmds, cmd)
	f.polls = 0
	if cmd&cmdStart != 0 {
		f.addrPhase = true
	}
	switch {
	case cmd&cmdWrite != 0:
		b := uint8(f.regs[regData])
		if f.addrPhase {
			f.addrPhase = false
			f.cur = b >> 1
			_, f.ack = f.slaves[f.cur]
			f.wantPtr = b&1 == 0
			break
		}
		mem, ok := f.slaves[f.cur]
		f.ack = ok
		if !ok {
			break
		}
		if f.wantPtr {
			f.ptr = b
			f.wantPtr = false
		} else {
			mem[f.ptr] = b
			f.ptr++
		}
	case cmd&cmdRead != 0:
		if mem, ok := f.slaves[f.cur]; ok {
			f.regs[regData] = uint32(mem[f.ptr])
			f.ptr++
		}
	}
	return nil
}

func (f *fakeCore) Read(name string) (uint32, error) {
	if name != regCmdStat {
		return f.regs[name], nil
	}
	f.polls++
	var st uint32
	if f.polls <= f.busyPolls {
		st |= statTIP
	}
	if !f.ack {
		st |= statRxAck
	}
	return st, nil
}

func newTestMaster(f *fakeCore) *Master {
	return &Master{
		Name:   "io.i2c",
		regs:   f,
		slaves: map[string]uint8{"SI5345": 0x68, "DAC1": 0x48},
	}
}

func TestParseSlaves(t *testing.T) {
	g := NewWithT(t)
	s, err := parseSlaves(map[string]string{
		"i2c_SFP_EEPROM": "0x50",
		"i2c_SI5345":     "0x68",
		"other":          "1",
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s).To(Equal(map[string]uint8{"SFP_EEPROM": 0x50, "SI5345": 0x68}))

	_, err = parseSlaves(map[string]string{"i2c_BAD": "0x80"})
	g.Expect(err).To(HaveOccurred())
}

func TestSlaves(t *testing.T) {
	g := NewWithT(t)
	m := newTestMaster(newFakeCore())
	g.Expect(m.Slaves()).To(Equal([]string{"DAC1", "SI5345"}))

	s, err := m.Slave("SI5345")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Addr).To(Equal(uint8(0x68)))

	_, err = m.Slave("nope")
	g.Expect(errors.Is(err, ErrNoSlave)).To(BeTrue())
}

func TestWriteThenRead(t *testing.T) {
	g := NewWithT(t)
	f := newFakeCore()
	mem := f.attach(0x50)
	m := newTestMaster(f)

	g.Expect(m.WriteI2CArray(0x50, 0x10, []byte{1, 2, 3})).To(Succeed())
	g.Expect(mem[0x10:0x13]).To(Equal([]byte{1, 2, 3}))
	g.Expect(f.cmds[len(f.cmds)-1]).To(Equal(uint8(cmdWrite | cmdStop)))

	bs, err := m.ReadI2CArray(0x50, 0x10, 3)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(bs).To(Equal([]byte{1, 2, 3}))
	g.Expect(f.cmds[len(f.cmds)-1]).To(Equal(uint8(cmdRead | cmdNack | cmdStop)))

	g.Expect(m.WriteI2C(0x50, 0x20, 0xaa)).To(Succeed())
	v, err := m.ReadI2C(0x50, 0x20)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal(uint8(0xaa)))
}

func TestPing(t *testing.T) {
	g := NewWithT(t)
	f := newFakeCore()
	f.attach(0x51)
	m := newTestMaster(f)

	ok, err := m.Ping(0x51)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())

	ok, err = m.Ping(0x50)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())
}

func TestNoAck(t *testing.T) {
	g := NewWithT(t)
	m := newTestMaster(newFakeCore())
	_, err := m.ReadI2C(0x22, 0)
	g.Expect(errors.Is(err, ErrNoAck)).To(BeTrue())
}

func TestTransferTimeout(t *testing.T) {
	g := NewWithT(t)
	f := newFakeCore()
	f.attach(0x50)
	m := newTestMaster(f)

	f.busyPolls = 3
	g.Expect(m.WriteI2C(0x50, 0, 1)).To(Succeed())

	f.busyPolls = TransferPolls + 1
	err := m.WriteI2C(0x50, 0, 1)
	g.Expect(errors.Is(err, ErrTransfer)).To(BeTrue())
}

func TestPrimitive(t *testing.T) {
	g := NewWithT(t)
	f := newFakeCore()
	mem := f.attach(0x74)
	m := newTestMaster(f)

	// the first byte of a primitive write is taken as the pointer
	g.Expect(m.WriteI2CPrimitive(0x74, []byte{0x10, 0x7f})).To(Succeed())
	g.Expect(mem[0x10]).To(Equal(uint8(0x7f)))

	bs, err := m.ReadI2CPrimitive(0x74, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(bs).To(HaveLen(1))
}

func TestReset(t *testing.T) {
	g := NewWithT(t)
	f := newFakeCore()
	m := newTestMaster(f)
	g.Expect(m.Reset(0x0123)).To(Succeed())
	g.Expect(f.regs[regPrescaleLo]).To(Equal(uint32(0x23)))
	g.Expect(f.regs[regPrescaleHi]).To(Equal(uint32(0x01)))
	g.Expect(f.regs[regCtrl]).To(Equal(uint32(ctrlEnable)))
}

func TestMasterServesSFP(t *testing.T) {
	g := NewWithT(t)
	f := newFakeCore()
	f.attach(sfp.BaseAddr)
	diag := f.attach(sfp.DiagAddr)
	diag[0x60] = 25
	m := newTestMaster(f)

	var bus sfp.Bus = m
	v, err := sfp.New(bus).TemperatureRaw()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(BeNumerically("~", 25.0, 0.01))
}
