package device

import (
	"errors"
	"sync"
	"time"

	"pdtbutler/config"
	"pdtbutler/device/devhdr"
	"pdtbutler/device/ipbus"
	"pdtbutler/log"
)

var ErrDevNotExist = errors.New("not exist")

// ConnectionManager opens devices from the configured connections and keeps
// them for the rest of the run.
type ConnectionManager struct {
	// Timeout overrides the connection timeouts when non-zero
	Timeout time.Duration

	cfg     *config.Config
	mu      sync.Mutex
	devices map[string]*Device
}

func NewConnectionManager(cfg *config.Config) *ConnectionManager {
	if err := devhdr.ReadBoardDB(cfg.ClockDir()); err != nil {
		log.Errorf("board db: %v, using built-in tables", err)
	}
	return &ConnectionManager{cfg: cfg, devices: make(map[string]*Device)}
}

func (my *ConnectionManager) DeviceIDs() []string {
	return my.cfg.DeviceIDs()
}

// GetDevice connects to a device, loads its address table and reads the
// board identity.
func (my *ConnectionManager) GetDevice(id string) (*Device, error) {
	my.mu.Lock()
	defer my.mu.Unlock()
	if dev, ok := my.devices[id]; ok {
		return dev, nil
	}

	conn, err := my.cfg.Connection(id)
	if err != nil {
		return nil, errors.Join(ErrDevNotExist, err)
	}
	timeout := conn.Timeout()
	if my.Timeout > 0 {
		timeout = my.Timeout
	}
	root, err := ipbus.LoadTable(my.cfg.AddressTablePath(conn))
	if err != nil {
		return nil, err
	}
	c, err := ipbus.Dial(conn.HostPort(), timeout)
	if err != nil {
		return nil, err
	}

	dev := NewDevice(id, c, root)
	if err := dev.Init(); err != nil {
		c.Close()
		return nil, err
	}
	log.Infof("Created device %s, %v", id, dev.Identity)
	my.devices[id] = dev
	return dev, nil
}

func (my *ConnectionManager) Fini() {
	my.mu.Lock()
	defer my.mu.Unlock()
	for id, dev := range my.devices {
		if err := dev.Client.Close(); err != nil {
			log.Debugf("close %s: %v", id, err)
		}
		delete(my.devices, id)
	}
}
