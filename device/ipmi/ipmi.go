// Package ipmi reaches the MCH crossbar and GPIO ports of an AMC slot through
// ipmitool raw commands with double bridging.
package ipmi

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"pdtbutler/log"

	"github.com/jpillora/backoff"
)

const (
	netFn = 0x30

	transitAddr    = 0x82
	transitChannel = 7
)

// AMC slots 1 to 12 sit at these IPMB addresses behind the MCH.
var amcIPMBAddrs = []uint8{0x72, 0x74, 0x76, 0x78, 0x7a, 0x7c, 0x7e, 0x80, 0x82, 0x84, 0x86, 0x88}

// MaxAttempts is the number of retries after the first failed command.
var MaxAttempts = 10

var sleep = time.Sleep

var (
	ErrSlot     = errors.New("ipmi: AMC slot must be 1-12")
	ErrAttempts = errors.New("ipmi: command not acknowledged")
	ErrReply    = errors.New("ipmi: short reply")
)

// Runner executes ipmitool and returns its stdout.
type Runner interface {
	Run(args ...string) ([]byte, error)
}

type execRunner struct {
	path string
}

func (r execRunner) Run(args ...string) ([]byte, error) {
	out, err := exec.Command(r.path, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("%s: %w: %s", r.path, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

func ExecRunner(path string) Runner {
	if path == "" {
		path = "ipmitool"
	}
	return execRunner{path: path}
}

type Session struct {
	MCH    string
	Slot   int
	Runner Runner
	target uint8
}

func NewSession(mch string, slot int, r Runner) (*Session, error) {
	if slot < 1 || slot > len(amcIPMBAddrs) {
		return nil, fmt.Errorf("%w: %d", ErrSlot, slot)
	}
	return &Session{MCH: mch, Slot: slot, Runner: r, target: amcIPMBAddrs[slot-1]}, nil
}

func hexByte(b uint8) string {
	return fmt.Sprintf("0x%02x", b)
}

// Raw sends one raw command and returns the reply with a leading
// completion code, so index 1 is the first data byte.
func (s *Session) Raw(cmd ...uint8) ([]uint8, error) {
	args := []string{
		"-I", "lan", "-H", s.MCH, "-U", "", "-P", "",
		"-B", "0", "-T", hexByte(transitAddr), "-b", strconv.Itoa(transitChannel),
		"-t", hexByte(s.target),
		"raw", hexByte(netFn),
	}
	for _, b := range cmd {
		args = append(args, hexByte(b))
	}
	out, err := s.Runner.Run(args...)
	if err != nil {
		return nil, err
	}
	reply := []uint8{0}
	for _, f := range strings.Fields(string(out)) {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("ipmi: reply %q: %w", strings.TrimSpace(string(out)), err)
		}
		reply = append(reply, uint8(v))
	}
	log.Debugf("ipmi slot %d: % x -> % x", s.Slot, cmd, reply[1:])
	return reply, nil
}

func retryBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
	}
}

// retry repeats cmd until ok accepts the reply.
func (s *Session) retry(what string, ok func([]uint8) bool, cmd ...uint8) ([]uint8, error) {
	b := retryBackoff()
	var lastErr error
	for attempt := 0; attempt <= MaxAttempts; attempt++ {
		r, err := s.Raw(cmd...)
		if err == nil && ok(r) {
			return r, nil
		}
		lastErr = err
		sleep(b.Duration())
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrAttempts, what, MaxAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrAttempts, what, MaxAttempts)
}

// ReadReg reads a crossbar register.
func (s *Session) ReadReg(reg uint8) (uint8, error) {
	r, err := s.retry(fmt.Sprintf("read reg 0x%02x", reg), func(r []uint8) bool {
		return len(r) > 3 && r[1] == 1 && r[2] == 1
	}, 0x00, 0x02, 0x4b, 0x01, 0x01, reg)
	if err != nil {
		return 0, err
	}
	return r[3], nil
}

// WriteReg writes a crossbar register.
func (s *Session) WriteReg(reg, data uint8) error {
	_, err := s.retry(fmt.Sprintf("write reg 0x%02x", reg), func(r []uint8) bool {
		return len(r) > 2 && r[1] == 2 && r[2] == 1
	}, 0x00, 0x02, 0x4b, 0x02, 0x01, reg, data)
	return err
}
