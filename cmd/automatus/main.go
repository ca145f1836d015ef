package main

import (
	"os"

	"github.com/luCUBEratur/automatus/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
