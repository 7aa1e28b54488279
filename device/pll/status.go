package pll

import (
	"fmt"

	"pdtbutler/util"
)

type field struct {
	name  string
	reg   uint16
	ibit  uint
	nbits uint
}

// status fields in display order
var statusFields = []field{
	{"SYSINCAL", 0x0c, 0, 1},
	{"LOSXAXB", 0x0c, 1, 1},
	{"XAXB_ERR", 0x0c, 3, 1},
	{"SMBUS_TIMEOUT", 0x0c, 5, 1},
	{"LOS", 0x0d, 0, 4},
	{"OOF", 0x0d, 4, 4},
	{"LOL", 0x0e, 1, 1},
	{"HOLD", 0x0e, 5, 1},
	{"CAL_PLL", 0x0f, 5, 1},
	{"SYSINCAL_FLG", 0x11, 0, 1},
	{"LOSXAXB_FLG", 0x11, 1, 1},
	{"XAXB_ERR_FLG", 0x11, 3, 1},
	{"SMBUS_TIMEOUT_FLG", 0x11, 5, 1},
	{"OOF (sticky)", 0x12, 4, 4},
}

type Status struct {
	Fields []util.KV
	byName map[string]uint32
}

func (s *Status) Get(name string) (uint32, bool) {
	v, ok := s.byName[name]
	return v, ok
}

// Locked is true when neither loss of lock nor holdover is flagged.
func (s *Status) Locked() bool {
	return s.byName["LOL"] == 0 && s.byName["HOLD"] == 0
}

func (s *Status) Table() string {
	return util.DictTable(s.Fields, false)
}

func (c *Chip) Status() (*Status, error) {
	regs := make(map[uint16]uint8)
	s := &Status{byName: make(map[string]uint32)}
	for _, f := range statusFields {
		w, ok := regs[f.reg]
		if !ok {
			var err error
			if w, err = c.ReadClockRegister(f.reg); err != nil {
				return nil, fmt.Errorf("pll: status register 0x%02x: %w", f.reg, err)
			}
			regs[f.reg] = w
		}
		v := util.DecRng(uint32(w), f.ibit, f.nbits)
		s.byName[f.name] = v
		s.Fields = append(s.Fields, util.KV{Name: f.name, Value: fmt.Sprintf("0x%x", v)})
	}
	return s, nil
}
