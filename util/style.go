package util

import (
	"os"
	"regexp"

	"github.com/mattn/go-isatty"
)

type Color string

const (
	Red    Color = "31"
	Green  Color = "32"
	Yellow Color = "33"
	Blue   Color = "34"
	Cyan   Color = "36"
	White  Color = "37"
)

// Colorize is decided once from stdout; tests and pipes get plain text.
var Colorize = isatty.IsTerminal(os.Stdout.Fd())

func Style(s string, c Color) string {
	if !Colorize {
		return s
	}
	return "\x1b[" + string(c) + "m" + s + "\x1b[0m"
}

var reANSI = regexp.MustCompile(`(\x9B|\x1B\[)[0-?]*[ -/]*[@-~]`)

func StripANSI(s string) string {
	return reANSI.ReplaceAllString(s, "")
}
