package ipbus

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestHeaders(t *testing.T) {
	g := NewWithT(t)
	g.Expect(packetHeader(0x1234, Control)).To(Equal(uint32(0x201234f0)))
	_, id, pt, ok := parsePacketHeader(0x2000fff1)
	g.Expect(ok).To(BeTrue())
	g.Expect(id).To(Equal(uint16(0xff)))
	g.Expect(pt).To(Equal(Status))

	h := transactionHeader(0x123, 4, RMWBits, InfoRequest)
	g.Expect(h).To(Equal(uint32(0x21230440 | 0xf)))
	tid, n, typ, info := parseTransactionHeader(h)
	g.Expect(tid).To(Equal(uint16(0x123)))
	g.Expect(n).To(Equal(uint8(4)))
	g.Expect(typ).To(Equal(RMWBits))
	g.Expect(info).To(Equal(InfoRequest))
}
