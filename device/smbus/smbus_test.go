package smbus

import (
	"testing"

	. "github.com/onsi/gomega"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"pdtbutler/device/sfp"
)

func TestReadWrite(t *testing.T) {
	g := NewWithT(t)
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x51, W: []byte{0x6e}, R: []byte{0x42}},
			{Addr: 0x51, W: []byte{0x6e, 0x02}},
			{Addr: 0x51, W: []byte{0x60}, R: []byte{0x19, 0x80}},
		},
	}
	s := NewWithBus("test", bus)

	v, err := s.ReadByte(0x51, 0x6e)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal(uint8(0x42)))
	g.Expect(s.WriteByte(0x51, 0x6e, 0x02)).To(Succeed())

	w, err := s.ReadWord(0x51, 0x60)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(w).To(Equal(uint16(0x8019)))
	g.Expect(s.Close()).To(Succeed())
}

func TestPing(t *testing.T) {
	g := NewWithT(t)
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x50, R: []byte{0x03}}},
		DontPanic: true,
	}
	s := NewWithBus("test", bus)

	ok, err := s.Ping(0x50)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())

	// playback is exhausted, so the next transfer fails
	ok, err = s.Ping(0x51)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())
}

func TestServesSFP(t *testing.T) {
	g := NewWithT(t)
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x51, W: []byte{0x60}, R: []byte{0x1e}},
			{Addr: 0x51, W: []byte{0x61}, R: []byte{0x80}},
		},
	}
	var b sfp.Bus = NewWithBus("test", bus)
	v, err := sfp.New(b).TemperatureRaw()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(BeNumerically("~", 30.5, 1e-9))
}
