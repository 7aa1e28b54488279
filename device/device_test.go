package device

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"pdtbutler/config"
	"pdtbutler/device/devhdr"
	"pdtbutler/device/ipbus"
	"pdtbutler/device/ipbus/ipbustest"
	"pdtbutler/device/pll"
	"pdtbutler/device/sfp"
	"pdtbutler/util"
)

const boardTable = `<node id="TOP">
  <node id="io" address="0x0">
    <node id="config" address="0x0" permission="r">
      <node id="board_type" mask="0xff"/>
      <node id="carrier_type" mask="0xff00"/>
      <node id="design_type" mask="0xff0000"/>
    </node>
    <node id="csr" address="0x10">
      <node id="ctrl" address="0x0">
        <node id="soft_rst" mask="0x1"/>
        <node id="pll_rst" mask="0x2"/>
        <node id="rst_i2c" mask="0x4"/>
        <node id="rst_i2cmux" mask="0x8"/>
        <node id="rst_lock_mon" mask="0x10"/>
        <node id="mux" mask="0x60"/>
        <node id="sfp_tx_dis" mask="0x80"/>
      </node>
      <node id="stat" address="0x1" permission="r">
        <node id="sfp_los" mask="0xff"/>
        <node id="mmcm_ok" mask="0x100"/>
      </node>
    </node>
    <node id="freq" address="0x20">
      <node id="ctrl" address="0x0">
        <node id="chan_sel" mask="0xf"/>
        <node id="en_crap_mode" mask="0x10"/>
      </node>
      <node id="freq" address="0x1" permission="r">
        <node id="count" mask="0x0fffffff"/>
        <node id="valid" mask="0x10000000"/>
      </node>
    </node>
    <node id="i2c" address="0x30" module="file://opencores_i2c.xml"
      parameters="i2c_SI5345=0x68;i2c_AX3_Switch=0x21;i2c_FMC_UID_PROM=0x53;i2c_SFPExpander=0x74;i2c_DAC1=0x48;i2c_DAC2=0x49"/>
    <node id="sfp_i2c" address="0x40" module="file://opencores_i2c.xml"
      parameters="i2c_SFP_EEPROM=0x50;i2c_SFP_DIAG=0x51"/>
  </node>
  <node id="switch" address="0x100">
    <node id="csr" address="0x0">
      <node id="ctrl" address="0x0">
        <node id="master_src" mask="0x1"/>
      </node>
    </node>
  </node>
</node>`

const i2cTable = `<node>
  <node id="ps_lo" address="0x0"/>
  <node id="ps_hi" address="0x1"/>
  <node id="ctrl" address="0x2"/>
  <node id="data" address="0x3"/>
  <node id="cmd_stat" address="0x4"/>
</node>`

const (
	addrConfig = 0x00
	addrCtrl   = 0x10
	addrStat   = 0x11
	addrFreq   = 0x21
	addrI2C    = 0x30
	addrSFPI2C = 0x40
	addrSwitch = 0x100

	pc059FanoutOnA35 = 0x050002
)

// i2cCore simulates an OpenCores I2C master with register-file slaves
// behind the data and cmd_stat words.
type i2cCore struct {
	base uint32

	mu        sync.Mutex
	slaves    map[uint8][]byte
	cur       uint8
	addrPhase bool
	wantPtr   bool
	ptr       uint8
	ack       bool
}

func newI2CCore(tg *ipbustest.Target, base uint32) *i2cCore {
	c := &i2cCore{base: base, slaves: map[uint8][]byte{}}
	tg.OnWrite(base+4, c.command)
	tg.OnRead(base+4, c.status)
	return c
}

func (c *i2cCore) attach(addr uint8) {
	c.mu.Lock()
	c.slaves[addr] = make([]byte, 256)
	c.mu.Unlock()
}

func (c *i2cCore) set(addr, reg uint8, bs ...byte) {
	c.mu.Lock()
	copy(c.slaves[addr][reg:], bs)
	c.mu.Unlock()
}

func (c *i2cCore) get(addr, reg uint8) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slaves[addr][reg]
}

func (c *i2cCore) command(mem map[uint32]uint32, _, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := uint8(v)
	if cmd&0x80 != 0 {
		c.addrPhase = true
	}
	switch {
	case cmd&0x10 != 0:
		b := uint8(mem[c.base+3])
		if c.addrPhase {
			c.addrPhase = false
			c.cur = b >> 1
			_, c.ack = c.slaves[c.cur]
			c.wantPtr = b&1 == 0
			return
		}
		m, ok := c.slaves[c.cur]
		c.ack = ok
		if !ok {
			return
		}
		if c.wantPtr {
			c.ptr, c.wantPtr = b, false
			return
		}
		m[c.ptr] = b
		c.ptr++
	case cmd&0x20 != 0:
		if m, ok := c.slaves[c.cur]; ok {
			mem[c.base+3] = uint32(m[c.ptr])
			c.ptr++
		}
	}
}

func (c *i2cCore) status(map[uint32]uint32, uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ack {
		return 0
	}
	return 0x80
}

type rig struct {
	tg   *ipbustest.Target
	dev  *Device
	i2c  *i2cCore
	sfp  *i2cCore
	out  *bytes.Buffer
	tbl  string

	mu   sync.Mutex
	ctrl []uint32
}

// ctrlWrites lists every value written to io.csr.ctrl so far.
func (r *rig) ctrlWrites() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32{}, r.ctrl...)
}

func writeBoardTables(t *testing.T) string {
	dir := t.TempDir()
	for name, body := range map[string]string{"top.xml": boardTable, "opencores_i2c.xml": i2cTable} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "top.xml")
}

func newRig(t *testing.T, identity uint32) *rig {
	util.Colorize = false
	sleep = func(time.Duration) {}
	pllDelay := pll.ConfigDelay
	pll.ConfigDelay = 0
	t.Cleanup(func() {
		sleep = time.Sleep
		pll.ConfigDelay = pllDelay
	})

	tg := ipbustest.New(t)
	tg.Set(addrConfig, identity)

	tbl := writeBoardTables(t)
	root, err := ipbus.LoadTable(tbl)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ipbus.Dial(tg.Addr(), 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	r := &rig{tg: tg, out: &bytes.Buffer{}, tbl: tbl}
	tg.OnWrite(addrCtrl, func(_ map[uint32]uint32, _, v uint32) {
		r.mu.Lock()
		r.ctrl = append(r.ctrl, v)
		r.mu.Unlock()
	})
	r.i2c = newI2CCore(tg, addrI2C)
	r.sfp = newI2CCore(tg, addrSFPI2C)
	r.dev = NewDevice("board", c, root)
	r.dev.Out = r.out
	if err := r.dev.Init(); err != nil {
		t.Fatal(err)
	}
	return r
}

// setupPC059 populates the slaves a PC059 reset touches.
func (r *rig) setupPC059() {
	for _, a := range []uint8{0x21, 0x53, 0x68, 0x74} {
		r.i2c.attach(a)
	}
	r.i2c.set(0x53, 0xfa, 0xd8, 0x80, 0x39, 0xd9, 0x80, 0xcf)
	r.i2c.set(0x68, 0x02, 0x45, 0x53)
	r.i2c.set(0x68, 0x6b, []byte("PDTS0005")...)
	r.tg.Set(addrFreq, 0x10000000|524288)
}

const clockConfig = `# Start configuration preamble
0x0B24,0xC0
# End configuration preamble
# Start configuration registers
0x0006,0x01
# End configuration registers
# Start configuration postamble
0x001C,0x01
# End configuration postamble
`

func writeClockConfig(t *testing.T, rev devhdr.Revision) string {
	root := t.TempDir()
	path, err := devhdr.ClockConfigPath(root, rev)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(clockConfig), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestInitIdentity(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	g.Expect(r.dev.Status).To(Equal(STATUS_ALIVE))
	g.Expect(StatusCode(r.dev.Status)).To(Equal("Alive"))
	g.Expect(r.dev.Identity.String()).To(Equal("Design 'fanout' on board 'pc059' on carrier 'enclustra-a35'"))

	r.tg.Set(addrConfig, 0x3f)
	err := r.dev.Init()
	g.Expect(errors.Is(err, devhdr.ErrUnknownType)).To(BeTrue())
	g.Expect(r.dev.Status).To(Equal(STATUS_SICK))
}

func TestIOStatus(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.tg.Set(addrStat, 0x1f5)

	st, err := r.dev.IOStatus()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(st.Regs).To(Equal(map[string]uint32{"sfp_los": 0xf5, "mmcm_ok": 1}))
	g.Expect(st.ActiveSFPs).To(Equal([]int{1, 3}))
	g.Expect(st.Report()).To(ContainSubstring("Active SFPS: [1 3]"))
}

func TestMeasureFrequencies(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.tg.Set(addrFreq, 0x10000000|524288)

	freqs, err := r.dev.MeasureFrequencies()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(freqs).To(HaveLen(2))
	g.Expect(freqs[0]).To(BeNumerically("~", 62.5, 1e-3))
	g.Expect(r.tg.Word(0x20) & 0xf).To(Equal(uint32(1)))
	g.Expect(FrequencyReport(freqs)).To(ContainSubstring("Freq CDR: 62.49"))

	r.tg.Set(addrFreq, 524288)
	freqs, err = r.dev.MeasureFrequencies()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(math.IsNaN(freqs[1])).To(BeTrue())
	g.Expect(FrequencyReport(freqs)).To(ContainSubstring("Freq PLL: NaN"))
}

func TestResetPC059Fanout(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.setupPC059()
	clocks := writeClockConfig(t, devhdr.PC059FanoutSFP)

	res, err := r.dev.Reset(ResetOptions{ClockRoot: clocks})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.UID).To(Equal(uint64(0xd88039d980cf)))
	g.Expect(res.Revision).To(Equal(devhdr.PC059Rev1))
	g.Expect(res.PLLVersion).To(Equal(uint16(0x5345)))
	g.Expect(res.ConfigID).To(Equal("PDTS0005"))
	g.Expect(filepath.Base(res.ClockConfig)).To(Equal("FANOUT_PLL_WIDEBW_SFPIN.txt"))

	// PLL configuration landed
	g.Expect(r.i2c.get(0x68, 0x24)).To(Equal(uint8(0xc0)))
	g.Expect(r.i2c.get(0x68, 0x06)).To(Equal(uint8(0x01)))
	// switch woken up
	g.Expect(r.i2c.get(0x21, 0x01)).To(Equal(uint8(0x7f)))
	// SFP expander: bank 1 input, bank 0 driving low
	g.Expect(r.i2c.get(0x74, 0x07)).To(Equal(uint8(0xff)))
	g.Expect(r.i2c.get(0x74, 0x06)).To(Equal(uint8(0x00)))

	ctrl := r.ctrlWrites()
	g.Expect(ctrl).NotTo(BeEmpty())
	// pll_rst, rst_i2c and rst_i2cmux go up in one packet, then down
	g.Expect(ctrl[:6]).To(Equal([]uint32{0x2, 0x6, 0xe, 0xc, 0x8, 0x0}))
	g.Expect(ctrl).To(ContainElement(WithTransform(func(v uint32) uint32 { return v & 0x10 }, Equal(uint32(0x10)))))
	last := ctrl[len(ctrl)-1]
	g.Expect(last & 0x1).To(Equal(uint32(1)))
	g.Expect(last & 0x1e).To(BeZero())
	g.Expect(r.tg.Word(addrSwitch)).To(BeZero())

	out := r.out.String()
	g.Expect(out).To(ContainSubstring("Timing Board PROM UID: 0xd88039d980cf"))
	g.Expect(out).To(ContainSubstring("Overriding clock config - fanout mode"))
	g.Expect(out).To(ContainSubstring("I2C enable lines: 127"))
	g.Expect(out).To(ContainSubstring("PLL Configuration id: PDTS0005"))
	g.Expect(out).To(ContainSubstring("SFPs 0-7 enabled"))
}

func TestResetForcedConfig(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.setupPC059()
	path := filepath.Join(t.TempDir(), "custom.txt")
	g.Expect(os.WriteFile(path, []byte(clockConfig), 0644)).To(Succeed())

	res, err := r.dev.Reset(ResetOptions{ForcePLLConfig: path, Fanout: 1})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.ClockConfig).To(Equal(path))
	g.Expect(r.tg.Word(addrSwitch)).To(Equal(uint32(1)))
	g.Expect(r.out.String()).To(ContainSubstring("Fanout mode enabled"))
	g.Expect(r.out.String()).To(ContainSubstring("Using PLL Clock configuration file: custom.txt"))
}

func TestResetUnknownUID(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.setupPC059()
	r.i2c.set(0x53, 0xfa, 0, 0, 0, 0, 0, 1)

	_, err := r.dev.Reset(ResetOptions{ClockRoot: t.TempDir()})
	g.Expect(errors.Is(err, devhdr.ErrUnknownUID)).To(BeTrue())
}

func TestSoftReset(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)

	res, err := r.dev.Reset(ResetOptions{Soft: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res).To(BeNil())
	g.Expect(r.ctrlWrites()).To(Equal([]uint32{1}))
	g.Expect(r.out.String()).To(HavePrefix("Resetting board"))
}

func TestDACSetup(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.i2c.attach(0x48)
	r.i2c.attach(0x49)
	r.i2c.set(0x48, 0x39, 0x01)

	g.Expect(r.dev.DACSetup(0x1234)).To(Succeed())
	for _, a := range []uint8{0x48, 0x49} {
		g.Expect(r.i2c.get(a, 0x39)).To(BeZero(), "external reference")
		g.Expect(r.i2c.get(a, 0x1f)).To(Equal(uint8(0x12)))
		g.Expect(r.i2c.get(a, 0x20)).To(Equal(uint8(0x34)))
	}
	g.Expect(r.out.String()).To(ContainSubstring("  DAC1: 0x48"))
	g.Expect(r.out.String()).To(ContainSubstring("DAC1 and DAC2 set to 0x1234"))
}

func (r *rig) setupSFP() {
	r.sfp.attach(sfp.BaseAddr)
	r.sfp.attach(sfp.DiagAddr)
	r.sfp.set(sfp.BaseAddr, 0x14, []byte("ACME           ")...)
	r.sfp.set(sfp.BaseAddr, 0x28, []byte("SFP-1G         ")...)
	r.sfp.set(sfp.BaseAddr, 0x5c, 0x40, 0x40)
	for reg := uint8(0x4c); reg < 0x5c; reg += 4 {
		r.sfp.set(sfp.DiagAddr, reg, 1, 0)
	}
	r.sfp.set(sfp.DiagAddr, 0x60, 25)
}

func TestSFPStatusAndMetrics(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.setupSFP()

	s, err := r.dev.SFPStatus(0, true)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.State).To(Equal(sfp.Controllable))
	g.Expect(s.Vendor).To(ContainSubstring("ACME"))
	g.Expect(s.Telemetry.Temperature).To(BeNumerically("~", 25.0, 0.01))
	g.Expect(r.out.String()).To(ContainSubstring("Power thresholds"))

	path := filepath.Join(t.TempDir(), "sfp.prom")
	g.Expect(r.dev.ExportSFPMetrics(path, 0, s)).To(Succeed())
	b, err := os.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(b)).To(ContainSubstring(`pdt_sfp_temperature_celsius{device="board",sfp="0"} 25`))
}

func TestSwitchSFPTx(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	r.setupSFP()
	settle := sfp.TxSettleTime
	sfp.TxSettleTime = 0
	defer func() { sfp.TxSettleTime = settle }()

	s, err := r.dev.SwitchSFPTx(0, false)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Tx.RegDisabled).To(BeTrue())
	g.Expect(r.sfp.get(sfp.DiagAddr, 0x6e)).To(Equal(uint8(0x40)))

	_, err = r.dev.SwitchSFPTx(0, true)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.sfp.get(sfp.DiagAddr, 0x6e)).To(BeZero())
}

func TestSwitchSFPTxNoModule(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)
	_, err := r.dev.SwitchSFPTx(0, true)
	g.Expect(errors.Is(err, sfp.ErrUnreachable)).To(BeTrue())
}

func TestConnectionManager(t *testing.T) {
	g := NewWithT(t)
	r := newRig(t, pc059FanoutOnA35)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
connections:
  - id: board
    uri: ipbusudp-2.0://%s
    address_table: %s
`, r.tg.Addr(), r.tbl)))
	g.Expect(err).NotTo(HaveOccurred())

	m := NewConnectionManager(cfg)
	defer m.Fini()
	dev, err := m.GetDevice("board")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(dev.Identity.Board).To(Equal(devhdr.BoardPC059))

	again, err := m.GetDevice("board")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(again).To(BeIdenticalTo(dev))

	_, err = m.GetDevice("nope")
	g.Expect(errors.Is(err, ErrDevNotExist)).To(BeTrue())
	g.Expect(errors.Is(err, config.ErrNotFound)).To(BeTrue())
}
