package pll

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

// fakeChip is a paged register file behind an 8-bit I2C slave.
type fakeChip struct {
	mem    map[uint16]uint8
	page   uint8
	writes []Reg
	pages  int
}

func newFakeChip() *fakeChip {
	return &fakeChip{mem: map[uint16]uint8{}}
}

func (f *fakeChip) addr(reg uint8) uint16 {
	return uint16(f.page)<<8 | uint16(reg)
}

func (f *fakeChip) ReadI2C(reg uint8) (uint8, error) {
	if reg == regPage {
		return f.page, nil
	}
	return f.mem[f.addr(reg)], nil
}

func (f *fakeChip) WriteI2C(reg, v uint8) error {
	if reg == regPage {
		f.page = v
		f.pages++
		return nil
	}
	f.mem[f.addr(reg)] = v
	f.writes = append(f.writes, Reg{f.addr(reg), v})
	return nil
}

func (f *fakeChip) ReadI2CArray(reg uint8, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		out[i] = f.mem[f.addr(reg+uint8(i))]
	}
	return out, nil
}

func (f *fakeChip) WriteI2CArray(reg uint8, data []byte) error {
	for i, b := range data {
		if err := f.WriteI2C(reg+uint8(i), b); err != nil {
			return err
		}
	}
	return nil
}

func noSleep(t *testing.T) *[]time.Duration {
	var slept []time.Duration
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = time.Sleep })
	return &slept
}

func TestVersionAndConfigID(t *testing.T) {
	g := NewWithT(t)
	f := newFakeChip()
	f.mem[0x0002] = 0x45
	f.mem[0x0003] = 0x53
	for i, ch := range "PDTS0005" {
		f.mem[0x026b+uint16(i)] = uint8(ch)
	}
	c := New(f)

	v, err := c.ReadDeviceVersion()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal(uint16(0x5345)))

	id, err := c.ReadConfigID()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id).To(Equal("PDTS0005"))
}

func TestPageCaching(t *testing.T) {
	g := NewWithT(t)
	f := newFakeChip()
	c := New(f)
	g.Expect(c.WriteClockRegister(0x0113, 1)).To(Succeed())
	g.Expect(c.WriteClockRegister(0x0114, 2)).To(Succeed())
	g.Expect(c.WriteClockRegister(0x0230, 3)).To(Succeed())
	g.Expect(f.pages).To(Equal(2))
	g.Expect(f.mem[0x0114]).To(Equal(uint8(2)))

	g.Expect(c.WriteI2CArray(0x113, []byte{0x9, 0x33})).To(Succeed())
	g.Expect(f.mem[0x0113]).To(Equal(uint8(0x9)))
	g.Expect(f.mem[0x0114]).To(Equal(uint8(0x33)))
}

const marked = `# Si534x Registers Script
#
Address,Data
# Start configuration preamble
0x0B24,0xC0
0x0B25,0x00
# End configuration preamble
#
# Delay 300 msec
#
# Start configuration registers
0x0006,0x00
0x0007,0x00
# End configuration registers
#
# Start configuration postamble
0x001C,0x01
# End configuration postamble
`

func TestParseConfig(t *testing.T) {
	g := NewWithT(t)
	cfg, err := ParseConfig(strings.NewReader(marked))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Preamble).To(Equal([]Reg{{0x0b24, 0xc0}, {0x0b25, 0x00}}))
	g.Expect(cfg.Registers).To(Equal([]Reg{{0x0006, 0}, {0x0007, 0}}))
	g.Expect(cfg.Postamble).To(Equal([]Reg{{0x001c, 1}}))

	cfg, err = ParseConfig(strings.NewReader("0x0B24,0xC0\n# Delay 300 msec\n0x0006,0x01\n"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Preamble).To(HaveLen(1))
	g.Expect(cfg.Registers).To(Equal([]Reg{{0x0006, 1}}))
	g.Expect(cfg.Postamble).To(BeEmpty())

	_, err = ParseConfig(strings.NewReader("0x0B24 0xC0\n"))
	g.Expect(err).To(HaveOccurred())
	_, err = ParseConfig(strings.NewReader("0x0B24,0x1C0\n"))
	g.Expect(err).To(HaveOccurred())
}

func TestConfigure(t *testing.T) {
	g := NewWithT(t)
	slept := noSleep(t)
	path := filepath.Join(t.TempDir(), "PDTS0005.txt")
	g.Expect(os.WriteFile(path, []byte(marked), 0644)).To(Succeed())

	f := newFakeChip()
	g.Expect(New(f).Configure(path)).To(Succeed())
	g.Expect(f.writes).To(Equal([]Reg{
		{0x0b24, 0xc0}, {0x0b25, 0x00}, {0x0006, 0}, {0x0007, 0}, {0x001c, 1},
	}))
	g.Expect(*slept).To(Equal([]time.Duration{ConfigDelay}))

	g.Expect(New(f).Configure(filepath.Join(t.TempDir(), "missing.txt"))).NotTo(Succeed())
}

func TestStatus(t *testing.T) {
	g := NewWithT(t)
	f := newFakeChip()
	f.mem[0x0c] = 0x0a
	f.mem[0x0d] = 0x35
	f.mem[0x0e] = 0x02
	f.mem[0x12] = 0x30

	s, err := New(f).Status()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Fields).To(HaveLen(len(statusFields)))
	g.Expect(s.Fields[0].Name).To(Equal("SYSINCAL"))

	for name, want := range map[string]uint32{
		"SYSINCAL": 0, "LOSXAXB": 1, "XAXB_ERR": 1, "LOS": 5, "OOF": 3,
		"LOL": 1, "HOLD": 0, "OOF (sticky)": 3,
	} {
		v, ok := s.Get(name)
		g.Expect(ok).To(BeTrue(), name)
		g.Expect(v).To(Equal(want), name)
	}
	g.Expect(s.Locked()).To(BeFalse())
	g.Expect(s.Table()).To(ContainSubstring("SMBUS_TIMEOUT_FLG"))
}
