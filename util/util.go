package util

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedList = errors.New("malformed list")

// ParseInt accepts decimal and 0x, 0o, 0b prefixed integers.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base = 16
		s = s[2:]
	case strings.HasPrefix(s, "0o"):
		base = 8
		s = s[2:]
	case strings.HasPrefix(s, "0b"):
		base = 2
		s = s[2:]
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}

// ParseIntRange is ParseInt restricted to [min, max].
func ParseIntRange(s string, min, max int64) (int64, error) {
	v, err := ParseInt(s)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%d is not in the valid range of %d to %d", v, min, max)
	}
	return v, nil
}

// SplitInts expands "1,3-5,0x10" into [1 3 4 5 16].
func SplitInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var numbers []int
	for _, item := range strings.Split(s, ",") {
		nums := strings.Split(item, "-")
		switch len(nums) {
		case 1:
			v, err := ParseInt(item)
			if err != nil {
				return nil, err
			}
			numbers = append(numbers, int(v))
		case 2:
			i, err := ParseInt(nums[0])
			if err != nil {
				return nil, err
			}
			j, err := ParseInt(nums[1])
			if err != nil {
				return nil, err
			}
			if i > j {
				return nil, fmt.Errorf("invalid interval %s", item)
			}
			for k := i; k <= j; k++ {
				numbers = append(numbers, int(k))
			}
		default:
			return nil, fmt.Errorf("%w (comma separated list expected): %s", ErrMalformedList, s)
		}
	}
	return numbers, nil
}

// DecRng extracts nbits of word starting at bit ibit.
func DecRng(word uint32, ibit, nbits uint) uint32 {
	return (word >> ibit) & ((1 << nbits) - 1)
}

func HexStringFromNumber(nBytes int, x uint64) string {
	if nBytes <= 0 {
		return "00"
	}

	ndigits := nBytes * 2 // each byte holds two hex digits
	b := fmt.Sprintf("%0*x", ndigits, x)

	l := len(b)
	if l > ndigits {
		return b[l-ndigits:]
	}
	return b
}

// BytesFromHex decodes a hex string that must carry exactly n bytes.
func BytesFromHex(s string, n int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d in %q", n, len(b), s)
	}
	return b, nil
}

// ASCII turns a register dump into a printable string, unprintable bytes become '.'.
func ASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}
