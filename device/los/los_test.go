//go:build linux
// +build linux

package los

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/warthog618/gpiod"
)

func TestHandlerCounts(t *testing.T) {
	g := NewWithT(t)
	c := &Counter{Chip: "gpiochip0", Offset: 4}

	c.handler(gpiod.LineEvent{Offset: 4, Type: gpiod.LineEventRisingEdge, Timestamp: time.Second})
	c.handler(gpiod.LineEvent{Offset: 4, Type: gpiod.LineEventFallingEdge, Timestamp: 2 * time.Second})
	c.handler(gpiod.LineEvent{Offset: 4, Type: gpiod.LineEventRisingEdge, Timestamp: 3 * time.Second})

	r := c.result(1, 5*time.Second)
	g.Expect(r.Rising).To(Equal(2))
	g.Expect(r.Falling).To(Equal(1))
	g.Expect(r.Transitions()).To(Equal(3))
	g.Expect(r.LastEdge).To(Equal(3 * time.Second))
	g.Expect(r.String()).To(Equal("LOS, 2 losses and 1 recoveries in 5s"))
}

func TestWatchMissingChip(t *testing.T) {
	g := NewWithT(t)
	c := &Counter{Chip: "gpiochip-does-not-exist", Offset: 0}
	_, err := c.Watch(time.Millisecond)
	g.Expect(err).To(HaveOccurred())
}
