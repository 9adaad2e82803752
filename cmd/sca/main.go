// Command sca is the local-first semantic code search CLI.
package main

import (
	"os"

	"github.com/dshills/sca/internal/cli"
)

func main() {
	os.Exit(cli.New(os.Stdout, os.Stderr).Execute(os.Args[1:]))
}
