package dac

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
)

type write struct {
	reg  uint8
	data []byte
}

type recorder struct {
	writes []write
}

func (r *recorder) WriteI2CArray(reg uint8, data []byte) error {
	r.writes = append(r.writes, write{reg, append([]byte(nil), data...)})
	return nil
}

func TestDAC(t *testing.T) {
	g := NewWithT(t)
	r := &recorder{}
	d := New(r)

	g.Expect(d.SetInternalRef(false)).To(Succeed())
	g.Expect(d.SetInternalRef(true)).To(Succeed())
	g.Expect(d.SetDAC(7, 0x589d)).To(Succeed())
	g.Expect(r.writes).To(Equal([]write{
		{0x38, []byte{0x00, 0x00}},
		{0x38, []byte{0x00, 0x01}},
		{0x1f, []byte{0x58, 0x9d}},
	}))

	g.Expect(errors.Is(d.SetDAC(8, 0), ErrChannel)).To(BeTrue())
	g.Expect(r.writes).To(HaveLen(3))
}
