package main

import (
	"os"

	"UberPickups/src/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
