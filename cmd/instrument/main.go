// Command instrument finds the functions of a Rust service that should carry
// tracing spans and can insert the missing #[instrument] attributes.
package main

import (
	"os"

	"github.com/nwiizo/instrument-rs-sub000/cmd/instrument/commands"
)

func main() {
	os.Exit(commands.Execute())
}
