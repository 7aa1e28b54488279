package cli

import (
	"fmt"

	"pdtbutler/version"
)

type Version struct{}

func (Version) String() string { return "version" }

func (Version) Usage() string { return "version" }

func (Version) Apropos() string { return "print the build version" }

func (Version) Main(args ...string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %v: unexpected", ErrUsage, args)
	}
	fmt.Fprintln(Stdout, version.GetVersionConfig())
	return nil
}
