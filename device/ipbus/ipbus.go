// Package ipbus talks to FPGAs using the IPbus 2.0 UDP protocol.
package ipbus

import (
	"encoding/binary"
	"fmt"
)

const protocolVersion = 2

// Maximum Ethernet payload a single packet may use, in bytes.
var MaxPacketSize = 1500

// Largest transaction word count that fits the 8-bit header field.
const maxWords = 255

type InfoCode uint8

const (
	InfoSuccess         InfoCode = 0x0
	InfoBadHeader       InfoCode = 0x1
	InfoBusReadError    InfoCode = 0x4
	InfoBusWriteError   InfoCode = 0x5
	InfoBusReadTimeout  InfoCode = 0x6
	InfoBusWriteTimeout InfoCode = 0x7
	InfoRequest         InfoCode = 0xf
)

func (c InfoCode) String() string {
	switch c {
	case InfoSuccess:
		return "success"
	case InfoBadHeader:
		return "bad header"
	case InfoBusReadError:
		return "bus error on read"
	case InfoBusWriteError:
		return "bus error on write"
	case InfoBusReadTimeout:
		return "bus timeout on read"
	case InfoBusWriteTimeout:
		return "bus timeout on write"
	case InfoRequest:
		return "request"
	default:
		return fmt.Sprintf("info(0x%x)", uint8(c))
	}
}

type TypeID uint8

const (
	Read        TypeID = 0x0
	Write       TypeID = 0x1
	ReadNonInc  TypeID = 0x2
	WriteNonInc TypeID = 0x3
	RMWBits     TypeID = 0x4
	RMWSum      TypeID = 0x5
)

func (t TypeID) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadNonInc:
		return "non-incrementing read"
	case WriteNonInc:
		return "non-incrementing write"
	case RMWBits:
		return "RMW bits"
	case RMWSum:
		return "RMW sum"
	default:
		return fmt.Sprintf("type(0x%x)", uint8(t))
	}
}

type PacketType uint8

const (
	Control PacketType = 0x0
	Status  PacketType = 0x1
	Resend  PacketType = 0x2
)

// TransactionError is a non-success info code returned by the target.
type TransactionError struct {
	Info InfoCode
	Type TypeID
	Addr uint32
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("ipbus: %v at 0x%08x: %v", e.Type, e.Addr, e.Info)
}

var order = binary.BigEndian

func packetHeader(id uint16, t PacketType) uint32 {
	return protocolVersion<<28 | uint32(id)<<8 | 0xf0 | uint32(t)
}

func parsePacketHeader(h uint32) (version uint8, id uint16, t PacketType, ok bool) {
	version = uint8(h >> 28)
	id = uint16(h >> 8)
	t = PacketType(h & 0xf)
	ok = h&0xf0 == 0xf0 && version == protocolVersion
	return
}

func transactionHeader(tid uint16, words uint8, t TypeID, info InfoCode) uint32 {
	return protocolVersion<<28 | uint32(tid&0xfff)<<16 | uint32(words)<<8 | uint32(t)<<4 | uint32(info)
}

func parseTransactionHeader(h uint32) (tid uint16, words uint8, t TypeID, info InfoCode) {
	return uint16(h>>16) & 0xfff, uint8(h >> 8), TypeID((h >> 4) & 0xf), InfoCode(h & 0xf)
}

func bytes2uint32s(bs []byte) []uint32 {
	us := make([]uint32, 0, len(bs)/4)
	for len(bs) >= 4 {
		us = append(us, order.Uint32(bs))
		bs = bs[4:]
	}
	return us
}

func uint32s2bytes(us []uint32) []byte {
	bs := make([]byte, 4*len(us))
	for i, u := range us {
		order.PutUint32(bs[4*i:], u)
	}
	return bs
}
