package main

import (
	"os"

	"github.com/moonerfun/flywheel/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
