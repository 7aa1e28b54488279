//go:build linux
// +build linux

package los

import (
	"time"

	"pdtbutler/log"

	"github.com/warthog618/gpiod"
)

func (c *Counter) handler(evt gpiod.LineEvent) {
	c.edge(evt.Type == gpiod.LineEventRisingEdge, evt.Timestamp)
}

// Watch counts LOS edges for the window and reports the final level.
func (c *Counter) Watch(window time.Duration) (*Result, error) {
	line, err := gpiod.RequestLine(c.Chip, c.Offset,
		gpiod.WithBothEdges,
		gpiod.WithEventHandler(c.handler))
	if err != nil {
		return nil, err
	}
	defer line.Close()

	log.Debugf("los: watching %s:%d for %v", c.Chip, c.Offset, window)
	time.Sleep(window)

	level, err := line.Value()
	if err != nil {
		return nil, err
	}
	return c.result(level, window), nil
}
