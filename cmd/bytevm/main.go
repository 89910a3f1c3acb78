// Command bytevm runs and manages programs for the bytevm stack machine.
package main

import (
	"os"

	"github.com/fortiblox/bytevm/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
