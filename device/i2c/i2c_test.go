package i2c

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
)

type fakeConn struct {
	mem    [256]byte
	ptr    byte
	fail   error
	closed bool
}

func (f *fakeConn) Tx(w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	if len(w) > 0 {
		f.ptr = w[0]
		for _, b := range w[1:] {
			f.mem[f.ptr] = b
			f.ptr++
		}
	}
	for i := range r {
		r[i] = f.mem[f.ptr]
		f.ptr++
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestRegisters(t *testing.T) {
	g := NewWithT(t)
	fc := &fakeConn{}
	d := &Dev{Bus: 1, Addr: 0x53, conn: fc}

	g.Expect(d.WriteReg(0x10, []byte{1, 2})).To(Succeed())
	buf := make([]byte, 2)
	g.Expect(d.ReadReg(0x10, buf)).To(Succeed())
	g.Expect(buf).To(Equal([]byte{1, 2}))
	g.Expect(d.Close()).To(Succeed())
	g.Expect(fc.closed).To(BeTrue())
}

func TestReadUID(t *testing.T) {
	g := NewWithT(t)
	fc := &fakeConn{}
	copy(fc.mem[0xfa:], []byte{0xd8, 0x80, 0x39, 0x5e, 0x72, 0x0b})
	d := &Dev{Bus: 1, Addr: 0x53, conn: fc}

	uid, err := d.ReadUID()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(uid).To(Equal([]byte{0xd8, 0x80, 0x39, 0x5e, 0x72, 0x0b}))

	fc.fail = errors.New("nak")
	_, err = d.ReadUID()
	g.Expect(err).To(MatchError(ContainSubstring("i2c-1 0x53: uid: nak")))
}

func TestOpenMissingBus(t *testing.T) {
	g := NewWithT(t)
	_, err := Open(250, 0x50)
	g.Expect(err).To(HaveOccurred())
}
