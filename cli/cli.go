// Package cli holds the pdtbutler commands and dispatches them by name.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"pdtbutler/config"
	"pdtbutler/log"
	"pdtbutler/util"
)

type Command interface {
	String() string
	Usage() string
	Apropos() string
	Main(args ...string) error
}

var ErrUsage = errors.New("usage")

var (
	// Stdout receives the command output
	Stdout io.Writer = os.Stdout

	getConfig = config.Get
)

// Commands is every top-level command, keyed by name.
var Commands = map[string]Command{}

func register(cs ...Command) {
	for _, c := range cs {
		Commands[c.String()] = c
	}
}

func init() {
	register(
		IO{},
		HostSFP{},
		CrossbarStatus{},
		CrossbarConfig{},
		GPIOStatus{},
		GPIOConfig{},
		Version{},
	)
}

func usageError(c Command, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrUsage, fmt.Sprintf(format, args...), c.Usage())
}

// Help lists the commands with their one line description.
func Help() string {
	names := make([]string, 0, len(Commands))
	for name := range Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	t := util.NewTable("Command", "Description")
	for _, name := range names {
		t.AddRow(name, Commands[name].Apropos())
	}
	return t.Draw() + "\n"
}

// Main runs the command named by args[0]. The -debug flag anywhere before
// the command name turns on debug logging.
func Main(args ...string) error {
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-debug", "--debug":
			log.SetDebug(true)
		case "-h", "-help", "--help":
			args = []string{"help"}
			continue
		default:
			return fmt.Errorf("%w: %s: unknown option", ErrUsage, args[0])
		}
		args = args[1:]
	}
	if len(args) == 0 || args[0] == "help" {
		fmt.Fprint(Stdout, Help())
		return nil
	}
	c, ok := Commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: %s: command not found", ErrUsage, args[0])
	}
	if len(args) > 1 && args[1] == "-h" {
		fmt.Fprintf(Stdout, "usage: %s\n", c.Usage())
		return nil
	}
	return c.Main(args[1:]...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		log.SetDebug(true)
	}
	return cfg, nil
}
