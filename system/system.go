package system

import (
	"fmt"
	"sync"

	"pdtbutler/device"
	"pdtbutler/device/devhdr"
	"pdtbutler/device/i2c"
	"pdtbutler/log"
)

// BoardInfo is the inventory of one timing board.
type BoardInfo struct {
	DeviceID    string
	Design      string
	Board       string
	Carrier     string
	UID         uint64
	Revision    string
	ClockConfig string
}

// Cached board information, per device id
var (
	cachedMu   sync.Mutex
	cachedInfo = map[string]BoardInfo{}
)

// GetBoardInfo returns the identity, PROM UID and clock configuration of a
// device. Simulated boards have no PROM.
func GetBoardInfo(dev *device.Device, clockRoot string) (*BoardInfo, error) {
	cachedMu.Lock()
	defer cachedMu.Unlock()

	// send a copy of the cached information
	if info, ok := cachedInfo[dev.ID]; ok {
		return &info, nil
	}

	info := BoardInfo{
		DeviceID: dev.ID,
		Design:   dev.Identity.Design.String(),
		Board:    dev.Identity.Board.String(),
		Carrier:  dev.Identity.Carrier.String(),
	}
	if dev.Identity.Board != devhdr.BoardSim {
		uid, rev, err := dev.ReadUID()
		if err != nil {
			log.Errorf("Failed to read UID of %s, %v", dev.ID, err)
			return nil, err
		}
		info.UID = uid
		if rev != 0 {
			info.Revision = rev.String()
		}
		rev, _ = devhdr.ClockRevision(dev.Identity, rev, 0)
		if path, err := devhdr.ClockConfigPath(clockRoot, rev); err == nil {
			info.ClockConfig = path
		} else {
			log.Debugf("%s: %v", dev.ID, err)
		}
	}
	log.Debugf("boardInfo: %+v", info)
	cachedInfo[dev.ID] = info
	return &info, nil
}

// ForgetBoardInfo drops the cached entry, after a reset for instance.
func ForgetBoardInfo(id string) {
	cachedMu.Lock()
	delete(cachedInfo, id)
	cachedMu.Unlock()
}

type promReader interface {
	ReadUID() ([]byte, error)
	Close() error
}

var openPROM = func(bus, addr int) (promReader, error) {
	return i2c.Open(bus, addr)
}

// ReadHostPROM reads the UID of a PROM wired to a host /dev/i2c bus.
func ReadHostPROM(bus, addr int) (uint64, error) {
	d, err := openPROM(bus, addr)
	if err != nil {
		return 0, fmt.Errorf("open prom: %w", err)
	}
	defer d.Close()
	bs, err := d.ReadUID()
	if err != nil {
		return 0, err
	}
	return devhdr.UIDFromBytes(bs), nil
}
