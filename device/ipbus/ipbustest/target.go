// Package ipbustest provides an in-process IPbus 2.0 target for tests of
// code that talks to firmware through an ipbus.Client.
package ipbustest

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"pdtbutler/device/ipbus"
)

// WriteHook runs after a write lands on its address. The target is locked
// while it runs, so it must use mem rather than the Target methods.
type WriteHook func(mem map[uint32]uint32, addr, v uint32)

// ReadHook supplies the value returned for its address, target locked.
type ReadHook func(mem map[uint32]uint32, addr uint32) uint32

type Target struct {
	conn *net.UDPConn

	mu       sync.Mutex
	mem      map[uint32]uint32
	writes   map[uint32]WriteHook
	reads    map[uint32]ReadHook
	failAddr map[uint32]ipbus.InfoCode
	nextID   uint16
	last     []byte
	drop     int
	packets  int
}

// New starts a target on a loopback port. It stops when the test ends.
func New(t testing.TB) *Target {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	tg := &Target{
		conn:     conn,
		mem:      make(map[uint32]uint32),
		writes:   make(map[uint32]WriteHook),
		reads:    make(map[uint32]ReadHook),
		failAddr: make(map[uint32]ipbus.InfoCode),
		nextID:   1,
	}
	go tg.serve()
	t.Cleanup(func() { conn.Close() })
	return tg
}

// Addr is the host:port to dial.
func (tg *Target) Addr() string {
	return tg.conn.LocalAddr().String()
}

func (tg *Target) Word(addr uint32) uint32 {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.mem[addr]
}

func (tg *Target) Set(addr, v uint32) {
	tg.mu.Lock()
	tg.mem[addr] = v
	tg.mu.Unlock()
}

func (tg *Target) OnWrite(addr uint32, h WriteHook) {
	tg.mu.Lock()
	tg.writes[addr] = h
	tg.mu.Unlock()
}

func (tg *Target) OnRead(addr uint32, h ReadHook) {
	tg.mu.Lock()
	tg.reads[addr] = h
	tg.mu.Unlock()
}

// Fail makes every transaction on addr answer with code.
func (tg *Target) Fail(addr uint32, code ipbus.InfoCode) {
	tg.mu.Lock()
	tg.failAddr[addr] = code
	tg.mu.Unlock()
}

// Drop swallows the next n control replies after executing the request.
func (tg *Target) Drop(n int) {
	tg.mu.Lock()
	tg.drop = n
	tg.mu.Unlock()
}

// Packets counts executed control packets.
func (tg *Target) Packets() int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.packets
}

func (tg *Target) serve() {
	buf := make([]byte, 65536)
	for {
		n, from, err := tg.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if reply := tg.handle(decode(buf[:n])); reply != nil {
			tg.conn.WriteToUDP(reply, from)
		}
	}
}

func decode(bs []byte) []uint32 {
	out := make([]uint32, len(bs)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(bs[4*i:])
	}
	return out
}

func encode(ws []uint32) []byte {
	out := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.BigEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func packetHeader(id uint16, t ipbus.PacketType) uint32 {
	return 2<<28 | uint32(id)<<8 | 0xf0 | uint32(t)
}

func transactionHeader(tid uint16, words uint8, t ipbus.TypeID, info ipbus.InfoCode) uint32 {
	return 2<<28 | uint32(tid&0xfff)<<16 | uint32(words)<<8 | uint32(t)<<4 | uint32(info)
}

func (tg *Target) read(a uint32) uint32 {
	if h, ok := tg.reads[a]; ok {
		return h(tg.mem, a)
	}
	return tg.mem[a]
}

func (tg *Target) write(a, v uint32) {
	tg.mem[a] = v
	if h, ok := tg.writes[a]; ok {
		h(tg.mem, a, v)
	}
}

func (tg *Target) handle(req []uint32) []byte {
	if len(req) == 0 {
		return nil
	}
	tg.mu.Lock()
	defer tg.mu.Unlock()
	id := uint16(req[0] >> 8)
	switch ipbus.PacketType(req[0] & 0xf) {
	case ipbus.Status:
		rep := make([]uint32, 16)
		rep[0] = packetHeader(0, ipbus.Status)
		rep[1] = uint32(ipbus.MaxPacketSize)
		rep[2] = 1
		rep[3] = packetHeader(tg.nextID, ipbus.Control)
		return encode(rep)
	case ipbus.Resend:
		return tg.last
	}
	if id != tg.nextID {
		return nil
	}
	tg.packets++
	rep := []uint32{req[0]}
	words := req[1:]
	for len(words) > 1 {
		h := words[0]
		tid := uint16(h>>16) & 0xfff
		n := uint8(h >> 8)
		typ := ipbus.TypeID(h>>4) & 0xf
		addr := words[1]
		words = words[2:]
		if code, ok := tg.failAddr[addr]; ok {
			rep = append(rep, transactionHeader(tid, 0, typ, code))
			break
		}
		switch typ {
		case ipbus.Read, ipbus.ReadNonInc:
			rep = append(rep, transactionHeader(tid, n, typ, ipbus.InfoSuccess))
			for i := uint32(0); i < uint32(n); i++ {
				a := addr
				if typ == ipbus.Read {
					a += i
				}
				rep = append(rep, tg.read(a))
			}
		case ipbus.Write, ipbus.WriteNonInc:
			for i := uint32(0); i < uint32(n); i++ {
				a := addr
				if typ == ipbus.Write {
					a += i
				}
				tg.write(a, words[i])
			}
			words = words[n:]
			rep = append(rep, transactionHeader(tid, n, typ, ipbus.InfoSuccess))
		case ipbus.RMWBits:
			old := tg.read(addr)
			tg.write(addr, old&words[0]|words[1])
			words = words[2:]
			rep = append(rep, transactionHeader(tid, 1, typ, ipbus.InfoSuccess), old)
		case ipbus.RMWSum:
			old := tg.read(addr)
			tg.write(addr, old+words[0])
			words = words[1:]
			rep = append(rep, transactionHeader(tid, 1, typ, ipbus.InfoSuccess), old)
		}
	}
	tg.nextID++
	if tg.nextID == 0 {
		tg.nextID = 1
	}
	tg.last = encode(rep)
	if tg.drop > 0 {
		tg.drop--
		return nil
	}
	return tg.last
}

// Close stops the target early, to test an absent endpoint.
func (tg *Target) Close() error {
	return tg.conn.Close()
}
