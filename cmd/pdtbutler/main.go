package main

import (
	"errors"
	"os"

	"pdtbutler/cli"
	"pdtbutler/log"
)

func main() {
	err := cli.Main(os.Args[1:]...)
	if err != nil {
		log.Errorf("%v", err)
	}
	log.Sync()
	switch {
	case err == nil:
	case errors.Is(err, cli.ErrUsage):
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
