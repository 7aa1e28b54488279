package devhdr

import (
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown board identity code")

type Board uint32

const (
	BoardFMC Board = iota
	BoardSim
	BoardPC059
	BoardMicrozed
	BoardTLU
	BoardFIB
)

var boardNames = map[Board]string{
	BoardFMC:      "fmc",
	BoardSim:      "sim",
	BoardPC059:    "pc059",
	BoardMicrozed: "microzed",
	BoardTLU:      "tlu",
	BoardFIB:      "fib",
}

func (b Board) String() string {
	if n, ok := boardNames[b]; ok {
		return n
	}
	return fmt.Sprintf("board(%d)", uint32(b))
}

type Carrier uint32

const (
	CarrierEnclustraA35 Carrier = iota
	CarrierKC705
	CarrierMicrozed
	CarrierAFC
)

var carrierNames = map[Carrier]string{
	CarrierEnclustraA35: "enclustra-a35",
	CarrierKC705:        "kc705",
	CarrierMicrozed:     "microzed",
	CarrierAFC:          "afc",
}

func (c Carrier) String() string {
	if n, ok := carrierNames[c]; ok {
		return n
	}
	return fmt.Sprintf("carrier(%d)", uint32(c))
}

type Design uint32

const (
	DesignMaster Design = iota
	DesignOuroboros
	DesignOuroborosSim
	DesignTest
	DesignEndpoint
	DesignFanout
)

var designNames = map[Design]string{
	DesignMaster:       "master",
	DesignOuroboros:    "ouroboros",
	DesignOuroborosSim: "ouroboros-sim",
	DesignTest:         "test",
	DesignEndpoint:     "endpoint",
	DesignFanout:       "fanout",
}

func (d Design) String() string {
	if n, ok := designNames[d]; ok {
		return n
	}
	return fmt.Sprintf("design(%d)", uint32(d))
}

// Identity is what the firmware reports in io.config.
type Identity struct {
	Board   Board
	Carrier Carrier
	Design  Design
}

// ParseIdentity takes the io.config sub-node values.
func ParseIdentity(cfg map[string]uint32) (Identity, error) {
	id := Identity{
		Board:   Board(cfg["board_type"]),
		Carrier: Carrier(cfg["carrier_type"]),
		Design:  Design(cfg["design_type"]),
	}
	if _, ok := boardNames[id.Board]; !ok {
		return id, fmt.Errorf("%w: board_type %d", ErrUnknownType, uint32(id.Board))
	}
	if _, ok := carrierNames[id.Carrier]; !ok {
		return id, fmt.Errorf("%w: carrier_type %d", ErrUnknownType, uint32(id.Carrier))
	}
	if _, ok := designNames[id.Design]; !ok {
		return id, fmt.Errorf("%w: design_type %d", ErrUnknownType, uint32(id.Design))
	}
	return id, nil
}

func (id Identity) String() string {
	return fmt.Sprintf("Design '%v' on board '%v' on carrier '%v'", id.Design, id.Board, id.Carrier)
}

// BoardConfig is the per-board wiring the io commands need.
type BoardConfig struct {
	// node holding the PROM and switch slaves
	UIDNode string
	// reset lines under io.csr.ctrl pulsed together with pll_rst
	ResetLines []string
	// PLL slave on io.i2c, empty when the PLL has its own io.pll_i2c master
	PLLSlave string
	// switch that must be opened before the PROM is visible
	SwitchSlave string
	// frequency counter channels
	FreqChannels int
}

const (
	nodeI2C    = "i2c"
	nodeUIDI2C = "uid_i2c"
	NodePLLI2C = "pll_i2c"
	NodeSFPI2C = "sfp_i2c"
)

// Config returns the wiring of a board on a carrier.
func (id Identity) Config() BoardConfig {
	c := BoardConfig{UIDNode: nodeUIDI2C, FreqChannels: 2}
	switch id.Board {
	case BoardPC059:
		c.UIDNode = nodeI2C
		c.ResetLines = []string{"rst_i2c", "rst_i2cmux"}
		c.PLLSlave = "SI5345"
	case BoardTLU:
		c.UIDNode = nodeI2C
		c.ResetLines = []string{"rst_i2c"}
		c.PLLSlave = "SI5345"
		c.FreqChannels = 1
	case BoardFIB:
		if id.Carrier == CarrierAFC {
			c.FreqChannels = 3
		}
	}
	switch {
	case id.Board == BoardTLU, id.Board == BoardPC059:
		c.SwitchSlave = "AX3_Switch"
	case id.Board == BoardFMC && id.Carrier == CarrierEnclustraA35:
		c.SwitchSlave = "AX3_Switch"
	case id.Carrier == CarrierKC705:
		c.SwitchSlave = "KC705_Switch"
	}
	return c
}

// PROMSlave names the UID PROM slave on the UID node.
func (id Identity) PROMSlave() string {
	switch {
	case id.Board == BoardTLU:
		return "UID_PROM"
	case id.Carrier == CarrierAFC:
		return "AFC_FMC_UID_PROM"
	default:
		return "FMC_UID_PROM"
	}
}
