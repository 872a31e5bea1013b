// Command lattice runs and inspects the reactive dispatch loop.
package main

import (
	"os"

	"github.com/horizonanalytic/lattice-sub007/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
