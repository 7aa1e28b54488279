package ipbus

import (
	"errors"
	"fmt"
	"math/bits"
	"net"
	"sync"
	"time"

	"pdtbutler/log"

	"github.com/jpillora/backoff"
)

var (
	ErrTimeout       = errors.New("ipbus: no reply from target")
	ErrBadReply      = errors.New("ipbus: malformed reply")
)

const DefaultMaxRetries = 3

// Value is filled in by Dispatch. Reading it before that returns zero.
type Value struct {
	words []uint32
	mask  uint32
	valid bool
}

func (v *Value) Valid() bool {
	return v.valid
}

// Value returns the first word with the node mask applied and shifted down.
func (v *Value) Value() uint32 {
	if !v.valid || len(v.words) == 0 {
		return 0
	}
	mask := v.mask
	if mask == 0 {
		mask = 0xffffffff
	}
	return (v.words[0] & mask) >> bits.TrailingZeros32(mask)
}

func (v *Value) Words() []uint32 {
	return v.words
}

type transaction struct {
	typ   TypeID
	addr  uint32
	count int
	data  []uint32
	value *Value
	off   int
	tid   uint16
}

func (t *transaction) requestWords() int {
	return 2 + len(t.data)
}

func (t *transaction) replyWords() int {
	switch t.typ {
	case Read, ReadNonInc:
		return 1 + t.count
	case RMWBits, RMWSum:
		return 2
	default:
		return 1
	}
}

// Client queues transactions and sends them on Dispatch, one or more
// packets at a time.
type Client struct {
	ID         string
	MaxRetries int

	mu       sync.Mutex
	conn     net.Conn
	timeout  time.Duration
	nextID   uint16
	synced   bool
	reliable bool
	queue    []*transaction
	pending  []*Value
}

func Dial(hostport string, timeout time.Duration) (*Client, error) {
	conn, err := net.Dial("udp", hostport)
	if err != nil {
		return nil, err
	}
	return &Client{
		ID:         hostport,
		MaxRetries: DefaultMaxRetries,
		conn:       conn,
		timeout:    timeout,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

func (c *Client) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Client) enqueue(t *transaction) {
	c.mu.Lock()
	c.queue = append(c.queue, t)
	c.mu.Unlock()
}

func (c *Client) newValue(n int, mask uint32) *Value {
	v := &Value{words: make([]uint32, n), mask: mask}
	c.mu.Lock()
	c.pending = append(c.pending, v)
	c.mu.Unlock()
	return v
}

func (c *Client) Read(addr, mask uint32) *Value {
	v := c.newValue(1, mask)
	c.enqueue(&transaction{typ: Read, addr: addr, count: 1, value: v})
	return v
}

func (c *Client) ReadBlock(addr uint32, n int, nonInc bool) *Value {
	v := c.newValue(n, 0)
	typ := Read
	if nonInc {
		typ = ReadNonInc
	}
	for off := 0; off < n; off += maxWords {
		cnt := n - off
		if cnt > maxWords {
			cnt = maxWords
		}
		a := addr
		if !nonInc {
			a += uint32(off)
		}
		c.enqueue(&transaction{typ: typ, addr: a, count: cnt, value: v, off: off})
	}
	return v
}

func (c *Client) Write(addr, data uint32) {
	c.enqueue(&transaction{typ: Write, addr: addr, count: 1, data: []uint32{data}})
}

func (c *Client) WriteBlock(addr uint32, data []uint32, nonInc bool) {
	typ := Write
	if nonInc {
		typ = WriteNonInc
	}
	for off := 0; off < len(data); off += maxWords {
		end := off + maxWords
		if end > len(data) {
			end = len(data)
		}
		a := addr
		if !nonInc {
			a += uint32(off)
		}
		c.enqueue(&transaction{typ: typ, addr: a, count: end - off, data: data[off:end]})
	}
}

// RMWBits writes (old & and) | or and returns the old value.
func (c *Client) RMWBits(addr, and, or uint32) *Value {
	v := c.newValue(1, 0)
	c.enqueue(&transaction{typ: RMWBits, addr: addr, count: 1, data: []uint32{and, or}, value: v})
	return v
}

// RMWSum adds addend to the register and returns the old value.
func (c *Client) RMWSum(addr, addend uint32) *Value {
	v := c.newValue(1, 0)
	c.enqueue(&transaction{typ: RMWSum, addr: addr, count: 1, data: []uint32{addend}, value: v})
	return v
}

// Dispatch sends every queued transaction and fills the queued Values.
func (c *Client) Dispatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.queue
	pending := c.pending
	c.queue = nil
	c.pending = nil

	if !c.synced {
		if err := c.syncPacketID(); err != nil {
			return err
		}
	}
	for len(q) > 0 {
		n := fit(q)
		if err := c.exchange(q[:n]); err != nil {
			c.synced = false
			return err
		}
		q = q[n:]
	}
	for _, v := range pending {
		v.valid = true
	}
	return nil
}

// fit returns how many queued transactions fit a single packet both ways.
func fit(q []*transaction) int {
	limit := MaxPacketSize/4 - 1
	req, rep := 0, 0
	for i, t := range q {
		req += t.requestWords()
		rep += t.replyWords()
		if req > limit || rep > limit {
			if i == 0 {
				return 1
			}
			return i
		}
	}
	return len(q)
}

func (c *Client) advanceID() {
	if !c.reliable {
		return
	}
	c.nextID++
	if c.nextID == 0 {
		c.nextID = 1
	}
}

func (c *Client) exchange(batch []*transaction) error {
	id := c.nextID
	req := []uint32{packetHeader(id, Control)}
	for i, t := range batch {
		t.tid = uint16(i)
		req = append(req, transactionHeader(t.tid, uint8(t.count), t.typ, InfoRequest), t.addr)
		req = append(req, t.data...)
	}
	reply, err := c.roundTrip(id, uint32s2bytes(req))
	if err != nil {
		return err
	}
	c.advanceID()
	return parseReply(reply[1:], batch)
}

func parseReply(words []uint32, batch []*transaction) error {
	for _, t := range batch {
		if len(words) == 0 {
			return fmt.Errorf("%w: missing transaction %d", ErrBadReply, t.tid)
		}
		tid, n, typ, info := parseTransactionHeader(words[0])
		if info != InfoSuccess {
			return &TransactionError{Info: info, Type: t.typ, Addr: t.addr}
		}
		if tid != t.tid || typ != t.typ {
			return fmt.Errorf("%w: expected %v tid %d, got %v tid %d", ErrBadReply, t.typ, t.tid, typ, tid)
		}
		words = words[1:]
		switch t.typ {
		case Read, ReadNonInc:
			if int(n) != t.count || len(words) < t.count {
				return fmt.Errorf("%w: short read at 0x%08x", ErrBadReply, t.addr)
			}
			copy(t.value.words[t.off:], words[:t.count])
			words = words[t.count:]
		case RMWBits, RMWSum:
			if len(words) < 1 {
				return fmt.Errorf("%w: short RMW at 0x%08x", ErrBadReply, t.addr)
			}
			t.value.words[0] = words[0]
			words = words[1:]
		}
	}
	return nil
}

func (c *Client) send(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// receive waits for a packet with the given id and type until the timeout.
func (c *Client) receive(id uint16, t PacketType) ([]uint32, error) {
	buf := make([]byte, 65536)
	deadline := time.Now().Add(c.timeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, err
		}
		words := bytes2uint32s(buf[:n])
		if len(words) == 0 {
			continue
		}
		_, rid, rt, ok := parsePacketHeader(words[0])
		if !ok || rt != t || (t == Control && rid != id) {
			log.Debugf("ipbus: dropping stray packet header 0x%08x", words[0])
			continue
		}
		return words, nil
	}
}

func (c *Client) status() (next uint16, err error) {
	req := make([]uint32, 16)
	req[0] = packetHeader(0, Status)
	if err := c.send(uint32s2bytes(req)); err != nil {
		return 0, err
	}
	words, err := c.receive(0, Status)
	if err != nil {
		return 0, err
	}
	if len(words) < 4 {
		return 0, fmt.Errorf("%w: status reply of %d words", ErrBadReply, len(words))
	}
	_, next, _, _ = parsePacketHeader(words[3])
	return next, nil
}

func (c *Client) syncPacketID() error {
	next, err := c.status()
	if err != nil {
		return fmt.Errorf("ipbus %s: status: %w", c.ID, err)
	}
	c.nextID = next
	c.reliable = next != 0
	c.synced = true
	log.Debugf("ipbus %s: next packet id %d", c.ID, next)
	return nil
}

// roundTrip sends a control packet and recovers lost packets with the
// status/resend mechanism.
func (c *Client) roundTrip(id uint16, pkt []byte) ([]uint32, error) {
	if err := c.send(pkt); err != nil {
		return nil, err
	}
	b := &backoff.Backoff{
		Min:    10 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
		Jitter: false,
	}
	for attempt := 0; ; attempt++ {
		words, err := c.receive(id, Control)
		if err == nil {
			return words, nil
		}
		if !errors.Is(err, ErrTimeout) || !c.reliable || attempt >= c.MaxRetries {
			return nil, fmt.Errorf("ipbus %s: packet %d: %w", c.ID, id, err)
		}
		time.Sleep(b.Duration())

		next, serr := c.status()
		if serr != nil {
			log.Debugf("ipbus %s: status after timeout: %v", c.ID, serr)
			continue
		}
		if next == id {
			log.Debugf("ipbus %s: request %d lost, resending", c.ID, id)
			err = c.send(pkt)
		} else {
			log.Debugf("ipbus %s: reply %d lost, requesting resend", c.ID, id)
			err = c.send(uint32s2bytes([]uint32{packetHeader(id, Resend)}))
		}
		if err != nil {
			return nil, err
		}
	}
}
