// Package pll configures and monitors the Silicon Labs SI534x jitter
// attenuators that clock the timing boards.
package pll

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pdtbutler/log"
	"pdtbutler/util"
)

const (
	regPage     = 0x01
	regVersion  = 0x02
	regGrade    = 0x04
	regRevision = 0x05
	regConfigID = 0x026b

	configIDLen = 8
)

// Bus is an I2C slave with 8-bit register addressing.
type Bus interface {
	ReadI2C(reg uint8) (uint8, error)
	WriteI2C(reg, v uint8) error
	ReadI2CArray(reg uint8, n int) ([]byte, error)
	WriteI2CArray(reg uint8, data []byte) error
}

// ConfigDelay separates the preamble from the register writes.
var ConfigDelay = 300 * time.Millisecond

var sleep = time.Sleep

type Chip struct {
	bus  Bus
	page int
}

func New(bus Bus) *Chip {
	return &Chip{bus: bus, page: -1}
}

func (c *Chip) selectPage(addr uint16) error {
	p := int(addr >> 8)
	if p == c.page {
		return nil
	}
	if err := c.bus.WriteI2C(regPage, uint8(p)); err != nil {
		c.page = -1
		return fmt.Errorf("pll: select page 0x%02x: %w", p, err)
	}
	c.page = p
	return nil
}

func (c *Chip) ReadClockRegister(addr uint16) (uint8, error) {
	if err := c.selectPage(addr); err != nil {
		return 0, err
	}
	return c.bus.ReadI2C(uint8(addr))
}

func (c *Chip) WriteClockRegister(addr uint16, v uint8) error {
	if err := c.selectPage(addr); err != nil {
		return err
	}
	return c.bus.WriteI2C(uint8(addr), v)
}

func (c *Chip) ReadI2CArray(addr uint16, n int) ([]byte, error) {
	if err := c.selectPage(addr); err != nil {
		return nil, err
	}
	return c.bus.ReadI2CArray(uint8(addr), n)
}

// WriteI2CArray writes consecutive registers within one page.
func (c *Chip) WriteI2CArray(addr uint16, data []byte) error {
	if err := c.selectPage(addr); err != nil {
		return err
	}
	return c.bus.WriteI2CArray(uint8(addr), data)
}

// ReadDeviceVersion returns the part number, e.g. 0x5345.
func (c *Chip) ReadDeviceVersion() (uint16, error) {
	bs, err := c.ReadI2CArray(regVersion, 2)
	if err != nil {
		return 0, err
	}
	return uint16(bs[1])<<8 | uint16(bs[0]), nil
}

func (c *Chip) ReadConfigID() (string, error) {
	bs, err := c.ReadI2CArray(regConfigID, configIDLen)
	if err != nil {
		return "", err
	}
	return util.ASCII(bs), nil
}

// Info is the identification block shown by clk-status -v.
func (c *Chip) Info() ([]util.KV, error) {
	ver, err := c.ReadDeviceVersion()
	if err != nil {
		return nil, err
	}
	grade, err := c.ReadClockRegister(regGrade)
	if err != nil {
		return nil, err
	}
	rev, err := c.ReadClockRegister(regRevision)
	if err != nil {
		return nil, err
	}
	return []util.KV{
		{Name: "Part number", Value: fmt.Sprintf("0x%x", ver)},
		{Name: "Device grade", Value: fmt.Sprintf("0x%x", grade)},
		{Name: "Device revision", Value: fmt.Sprintf("0x%x", rev)},
	}, nil
}

type Reg struct {
	Addr uint16
	Data uint8
}

type Config struct {
	Preamble  []Reg
	Registers []Reg
	Postamble []Reg
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := ParseConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig reads a ClockBuilder register export. Sections are taken
// from the "Start configuration ..." comments when present, otherwise
// the delay marker splits the preamble from the registers.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}
	cur := &cfg.Preamble
	marked := false
	sc := bufio.NewScanner(r)
	for ln := 1; sc.Scan(); ln++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			lc := strings.ToLower(line)
			switch {
			case strings.Contains(lc, "start configuration preamble"):
				cur, marked = &cfg.Preamble, true
			case strings.Contains(lc, "start configuration registers"):
				cur, marked = &cfg.Registers, true
			case strings.Contains(lc, "start configuration postamble"):
				cur, marked = &cfg.Postamble, true
			case strings.Contains(lc, "delay 300 msec") && !marked:
				cur = &cfg.Registers
			}
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "address") {
			continue
		}
		a, d, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed entry %q", ln, line)
		}
		addr, err := util.ParseIntRange(strings.TrimSpace(a), 0, 0xffff)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln, err)
		}
		data, err := util.ParseIntRange(strings.TrimSpace(d), 0, 0xff)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln, err)
		}
		*cur = append(*cur, Reg{Addr: uint16(addr), Data: uint8(data)})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Chip) writeRegs(regs []Reg) error {
	for _, r := range regs {
		if err := c.WriteClockRegister(r.Addr, r.Data); err != nil {
			return fmt.Errorf("pll: register 0x%04x: %w", r.Addr, err)
		}
	}
	return nil
}

func (c *Chip) Apply(cfg *Config) error {
	// page register content is unknown after a reset
	c.page = -1
	log.Debugf("pll: preamble %d, registers %d, postamble %d",
		len(cfg.Preamble), len(cfg.Registers), len(cfg.Postamble))
	if err := c.writeRegs(cfg.Preamble); err != nil {
		return err
	}
	sleep(ConfigDelay)
	if err := c.writeRegs(cfg.Registers); err != nil {
		return err
	}
	return c.writeRegs(cfg.Postamble)
}

// Configure loads a register export and uploads it.
func (c *Chip) Configure(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return c.Apply(cfg)
}
