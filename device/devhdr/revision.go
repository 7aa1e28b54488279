package devhdr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pdtbutler/log"
	"pdtbutler/util"
)

type Revision int

const (
	FMCRev1 Revision = iota + 1
	FMCRev2
	PC059Rev1
	PC059FanoutHDMI
	PC059FanoutSFP
	TLURev1
)

var revisionNames = map[Revision]string{
	FMCRev1:         "FMCRev1",
	FMCRev2:         "FMCRev2",
	PC059Rev1:       "PC059Rev1",
	PC059FanoutHDMI: "PC059FanoutHDMI",
	PC059FanoutSFP:  "PC059FanoutSFP",
	TLURev1:         "TLURev1",
}

func (r Revision) String() string {
	if n, ok := revisionNames[r]; ok {
		return n
	}
	return fmt.Sprintf("revision(%d)", int(r))
}

var (
	ErrUnknownUID    = errors.New("no revision associated to UID")
	ErrNoClockConfig = errors.New("board revision has no associated clock configuration")
)

// ClockConfigs maps revisions to files under the clock root.
var ClockConfigs = map[Revision]string{
	FMCRev1:         "SI5344/PDTS0000.txt",
	FMCRev2:         "SI5344/PDTS0003.txt",
	PC059Rev1:       "SI5345/PDTS0005.txt",
	PC059FanoutHDMI: "devel/PDTS_PC059_FANOUT.txt",
	PC059FanoutSFP:  "wr/FANOUT_PLL_WIDEBW_SFPIN.txt",
	TLURev1:         "wr/TLU_EXTCLK_10MHZ_NOZDM.txt",
}

// UIDRevisions maps the 48-bit PROM UID of known boards to their revision.
var UIDRevisions = map[uint64]Revision{
	0xd880395e720b: FMCRev1,
	0xd880395e501a: FMCRev1,
	0xd880395e50b8: FMCRev1,
	0xd880395e501b: FMCRev1,
	0xd880395e7201: FMCRev1,
	0xd880395e4fcc: FMCRev1,
	0xd880395e5069: FMCRev1,
	0xd880395e7206: FMCRev1,
	0xd880395e1c86: FMCRev2,
	0xd880395e2630: FMCRev2,
	0xd880395e262b: FMCRev2,
	0xd880395e2b38: FMCRev2,
	0xd880395e1a6a: FMCRev2,
	0xd880395e36ae: FMCRev2,
	0xd880395e2b2e: FMCRev2,
	0xd880395e2b33: FMCRev2,
	0xd880395e1c81: FMCRev2,
	0xd88039d980cf: PC059Rev1,
	0xd88039d98adf: PC059Rev1,
	0xd88039d92491: PC059Rev1,
	0xd88039d9248e: PC059Rev1,
	0xd88039d98ae9: PC059Rev1,
	0xd88039d92498: PC059Rev1,
}

var revisionsMu sync.RWMutex

// UIDFromBytes assembles the PROM bytes, most significant first.
func UIDFromBytes(bs []byte) uint64 {
	var uid uint64
	for _, b := range bs {
		uid = uid<<8 | uint64(b)
	}
	return uid
}

func LookupRevision(uid uint64) (Revision, error) {
	revisionsMu.RLock()
	defer revisionsMu.RUnlock()
	r, ok := UIDRevisions[uid]
	if !ok {
		return 0, fmt.Errorf("%w 0x%x", ErrUnknownUID, uid)
	}
	return r, nil
}

// ClockRevision picks the clock configuration to load. The fanout
// override only applies for fanout mode 0, which therefore always selects
// the SFP input configuration.
func ClockRevision(id Identity, rev Revision, fanout int) (Revision, bool) {
	switch {
	case id.Board == BoardTLU:
		return TLURev1, false
	case id.Design == DesignFanout && fanout == 0:
		if fanout == 1 {
			return PC059FanoutHDMI, true
		}
		return PC059FanoutSFP, true
	default:
		return rev, false
	}
}

// ClockConfigPath joins the revision's file under root.
func ClockConfigPath(root string, rev Revision) (string, error) {
	revisionsMu.RLock()
	defer revisionsMu.RUnlock()
	p, ok := ClockConfigs[rev]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrNoClockConfig, rev)
	}
	return filepath.Join(root, p), nil
}

// BoardDBFile extends the built-in tables with boards produced since.
const BoardDBFile = "boards.json"

type boardDB struct {
	UIDs   map[string]string `json:"uids,omitempty"`
	Clocks map[string]string `json:"clocks,omitempty"`
}

var BoardDBOnce sync.Once

// ReadBoardDB merges dir/boards.json into the tables, once. A missing file
// is not an error.
func ReadBoardDB(dir string) (err error) {
	BoardDBOnce.Do(func() {
		err = readBoardDB(filepath.Join(dir, BoardDBFile))
	})
	return
}

func revisionByName(name string) (Revision, bool) {
	for r, n := range revisionNames {
		if n == name {
			return r, true
		}
	}
	return 0, false
}

func readBoardDB(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var db boardDB
	if err := json.Unmarshal(b, &db); err != nil {
		log.Errorf("failed to unmarshal %s: %v", path, err)
		return err
	}

	revisionsMu.Lock()
	defer revisionsMu.Unlock()
	for k, v := range db.UIDs {
		uid, err := util.ParseInt(k)
		if err != nil {
			return fmt.Errorf("%s: uid %q: %w", path, k, err)
		}
		r, ok := revisionByName(v)
		if !ok {
			return fmt.Errorf("%s: uid %s: unknown revision %q", path, k, v)
		}
		UIDRevisions[uint64(uid)] = r
	}
	for k, v := range db.Clocks {
		r, ok := revisionByName(k)
		if !ok {
			return fmt.Errorf("%s: unknown revision %q", path, k)
		}
		ClockConfigs[r] = v
	}
	log.Debugf("board db %s: %d uids, %d clock configs", path, len(db.UIDs), len(db.Clocks))
	return nil
}
