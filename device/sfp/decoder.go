// Package sfp decodes SFF-8472 digital diagnostics and drives the soft
// TX_DISABLE control of an SFP module behind any byte-wide I2C bus.
package sfp

import (
	"fmt"
	"math"
	"strings"
)

// Bus is the register access the decoder needs. Implementations block until
// the transaction is done and do their own retries, if any.
type Bus interface {
	Ping(addr uint8) (bool, error)
	ReadByte(addr, reg uint8) (uint8, error)
	WriteByte(addr, reg, value uint8) error
}

type Param int

const (
	LaserCurrent Param = iota
	TxPower
	Temperature
	Voltage
)

func (p Param) String() string {
	switch p {
	case LaserCurrent:
		return "laser current"
	case TxPower:
		return "tx power"
	case Temperature:
		return "temperature"
	case Voltage:
		return "voltage"
	default:
		return fmt.Sprintf("param(%d)", int(p))
	}
}

var (
	slopeRegs  = [...][2]uint8{{0x4c, 0x4d}, {0x50, 0x51}, {0x54, 0x55}, {0x58, 0x59}}
	offsetRegs = [...][2]uint8{{0x4e, 0x4f}, {0x52, 0x53}, {0x56, 0x57}, {0x5a, 0x5b}}

	// highest order coefficient group first
	rxPowerRegs = [...]uint8{0x48, 0x44, 0x40, 0x3c, 0x38}
)

// Scale factors applied after the linear calibration.
const (
	VoltageScale = 1e-4
	TxPowerScale = 0.1
	CurrentScale = 0.002
	RxPowerScale = 0.1
)

// SlopeFromBytes is an unsigned 8.8 fixed point number.
func SlopeFromBytes(whole, frac uint8) float64 {
	return float64(whole) + float64(frac)/256.0
}

// OffsetFromBytes is a 16-bit two's complement number, high byte first.
func OffsetFromBytes(hi, lo uint8) int {
	return int(int16(uint16(hi)<<8 | uint16(lo)))
}

// Linear applies a calibration slope and offset to a raw value.
func Linear(raw, slope float64, offset int) float64 {
	return raw*slope + float64(offset)
}

// FloatFromBytes reinterprets four big-endian bytes as an IEEE-754 single.
func FloatFromBytes(b [4]uint8) float32 {
	return math.Float32frombits(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

// RxPolynomial evaluates sum(c[i] * raw^i) term by term, c[0] first.
// raw^i is computed exactly in integers before the conversion so the
// rounding matches an arbitrary precision evaluation of the power.
func RxPolynomial(c [5]float32, raw uint16) float64 {
	sum := 0.0
	pow := uint64(1)
	for i := range c {
		if i > 0 {
			pow *= uint64(raw)
		}
		sum += float64(c[i]) * float64(pow)
	}
	return sum
}

// Module is one SFP cage seen through a Bus.
type Module struct {
	bus Bus
}

func New(bus Bus) *Module {
	return &Module{bus: bus}
}

func (m *Module) diag(reg uint8) (uint8, error) {
	return m.bus.ReadByte(DiagAddr, reg)
}

func (m *Module) diagPair(reg uint8) (uint8, uint8, error) {
	hi, err := m.diag(reg)
	if err != nil {
		return 0, 0, err
	}
	lo, err := m.diag(reg + 1)
	if err != nil {
		return 0, 0, err
	}
	return hi, lo, nil
}

func (m *Module) raw16(reg uint8) (uint16, error) {
	hi, lo, err := m.diagPair(reg)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func (m *Module) Slope(p Param) (float64, error) {
	if p < LaserCurrent || p > Voltage {
		return 0, fmt.Errorf("sfp: invalid calibration parameter %d", int(p))
	}
	whole, frac, err := m.diagPair(slopeRegs[p][0])
	if err != nil {
		return 0, err
	}
	return SlopeFromBytes(whole, frac), nil
}

func (m *Module) Offset(p Param) (int, error) {
	if p < LaserCurrent || p > Voltage {
		return 0, fmt.Errorf("sfp: invalid calibration parameter %d", int(p))
	}
	hi, lo, err := m.diagPair(offsetRegs[p][0])
	if err != nil {
		return 0, err
	}
	return OffsetFromBytes(hi, lo), nil
}

func (m *Module) calibrated(p Param, raw float64) (float64, error) {
	slope, err := m.Slope(p)
	if err != nil {
		return 0, err
	}
	offset, err := m.Offset(p)
	if err != nil {
		return 0, err
	}
	return Linear(raw, slope, offset), nil
}

func (m *Module) linear16(p Param, reg uint8, scale float64) (float64, error) {
	raw, err := m.raw16(reg)
	if err != nil {
		return 0, err
	}
	v, err := m.calibrated(p, float64(raw))
	if err != nil {
		return 0, err
	}
	return v * scale, nil
}

// TemperatureRaw is a signed 8.8 fixed point value, before calibration.
func (m *Module) TemperatureRaw() (float64, error) {
	whole, frac, err := m.diagPair(regTempRaw)
	if err != nil {
		return 0, err
	}
	return float64(int8(whole)) + float64(frac)/256.0, nil
}

// Temperature in degrees Celsius.
func (m *Module) Temperature() (float64, error) {
	raw, err := m.TemperatureRaw()
	if err != nil {
		return 0, err
	}
	return m.calibrated(Temperature, raw)
}

// Voltage in volts.
func (m *Module) Voltage() (float64, error) {
	return m.linear16(Voltage, regVoltageRaw, VoltageScale)
}

// TxPower in microwatts.
func (m *Module) TxPower() (float64, error) {
	return m.linear16(TxPower, regTxPowerRaw, TxPowerScale)
}

// LaserCurrent in milliamps.
func (m *Module) LaserCurrent() (float64, error) {
	return m.linear16(LaserCurrent, regCurrentRaw, CurrentScale)
}

func (m *Module) RxPowerCoefficients() ([5]float32, error) {
	var c [5]float32
	for i, base := range rxPowerRegs {
		var b [4]uint8
		for j := range b {
			v, err := m.diag(base + uint8(j))
			if err != nil {
				return c, err
			}
			b[j] = v
		}
		c[i] = FloatFromBytes(b)
	}
	return c, nil
}

// RxPower in microwatts.
func (m *Module) RxPower() (float64, error) {
	raw, err := m.raw16(regRxPowerRaw)
	if err != nil {
		return 0, err
	}
	c, err := m.RxPowerCoefficients()
	if err != nil {
		return 0, err
	}
	return RxPolynomial(c, raw) * RxPowerScale, nil
}

func (m *Module) baseString(reg uint8, n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		c, err := m.bus.ReadByte(BaseAddr, reg+uint8(i))
		if err != nil {
			return "", err
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

func (m *Module) VendorName() (string, error) {
	return m.baseString(regVendorName, vendorFieldLen)
}

func (m *Module) PartNumber() (string, error) {
	return m.baseString(regVendorPN, vendorFieldLen)
}

// Thresholds are the factory alarm and warning levels for optical power, in microwatts.
type Thresholds struct {
	TxPowerHighAlarm float64
	TxPowerLowAlarm  float64
	TxPowerHighWarn  float64
	TxPowerLowWarn   float64
	RxPowerHighAlarm float64
	RxPowerLowAlarm  float64
	RxPowerHighWarn  float64
	RxPowerLowWarn   float64
}

func (m *Module) Thresholds() (*Thresholds, error) {
	// tx high alarm at 0x18 through rx low warning at 0x26, two bytes each
	var v [8]float64
	for i := range v {
		raw, err := m.raw16(regThresholds + uint8(2*i))
		if err != nil {
			return nil, err
		}
		v[i] = float64(raw) * 0.1
	}
	return &Thresholds{
		TxPowerHighAlarm: v[0],
		TxPowerLowAlarm:  v[1],
		TxPowerHighWarn:  v[2],
		TxPowerLowWarn:   v[3],
		RxPowerHighAlarm: v[4],
		RxPowerLowAlarm:  v[5],
		RxPowerHighWarn:  v[6],
		RxPowerLowWarn:   v[7],
	}, nil
}
