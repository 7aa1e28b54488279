package powerstate

import (
	"errors"
	"fmt"

	"pdtbutler/config"
	"pdtbutler/log"

	"gobot.io/x/gobot/sysfs"
)

// Host cages expose the SFP TX_DISABLE input and MOD_ABS output as sysfs
// GPIOs. A zero GPIO number in the configuration means not wired.

var ErrNotWired = errors.New("pin not wired")

type Cage struct {
	Name      string
	TxDisable int
	ModAbs    int
}

func NewCage(h config.HostSFP) *Cage {
	return &Cage{Name: h.Name, TxDisable: h.TxDisable, ModAbs: h.ModAbs}
}

func writePin(gpio, v int) error {
	pin := sysfs.NewDigitalPin(gpio)
	_ = pin.Export()
	defer func() {
		_ = pin.Unexport()
	}()
	if err := pin.Direction(sysfs.OUT); err != nil {
		return err
	}
	return pin.Write(v)
}

func readPin(gpio int) (int, error) {
	pin := sysfs.NewDigitalPin(gpio)
	_ = pin.Export()
	defer func() {
		_ = pin.Unexport()
	}()
	if err := pin.Direction(sysfs.IN); err != nil {
		return 0, err
	}
	return pin.Read()
}

// TxOn releases TX_DISABLE so the laser may emit.
func (c *Cage) TxOn() error {
	return c.setTxDisable(false)
}

// TxOff asserts TX_DISABLE.
func (c *Cage) TxOff() error {
	return c.setTxDisable(true)
}

func (c *Cage) setTxDisable(disabled bool) error {
	if c.TxDisable == 0 {
		return fmt.Errorf("%s: tx_disable: %w", c.Name, ErrNotWired)
	}
	v := 0
	if disabled {
		v = 1
	}
	log.Infof("%s: TX_DISABLE gpio %d <- %d", c.Name, c.TxDisable, v)
	if err := writePin(c.TxDisable, v); err != nil {
		return fmt.Errorf("%s: tx_disable: %w", c.Name, err)
	}
	return nil
}

// TxDisabled reads back the TX_DISABLE pin level.
func (c *Cage) TxDisabled() (bool, error) {
	if c.TxDisable == 0 {
		return false, fmt.Errorf("%s: tx_disable: %w", c.Name, ErrNotWired)
	}
	v, err := readPin(c.TxDisable)
	if err != nil {
		return false, fmt.Errorf("%s: tx_disable: %w", c.Name, err)
	}
	return v == 1, nil
}

// Present reads MOD_ABS, which the module pulls low when seated.
func (c *Cage) Present() (bool, error) {
	if c.ModAbs == 0 {
		return false, fmt.Errorf("%s: mod_abs: %w", c.Name, ErrNotWired)
	}
	v, err := readPin(c.ModAbs)
	if err != nil {
		return false, fmt.Errorf("%s: mod_abs: %w", c.Name, err)
	}
	log.Debugf("%s: MOD_ABS gpio %d = %d", c.Name, c.ModAbs, v)
	return v == 0, nil
}
