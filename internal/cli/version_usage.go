package cli

import (
	"fmt"
	"runtime/debug"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if v := info.Main.Version; v != "" && v != "(devel)" {
				Version = v
			}
		}
	}
}

func printVersion() {
	fmt.Println("automatus", Version)
}

func printUsage() {
	fmt.Print(`automatus - IDE bridge server

Usage:
  automatus serve [flags]            Run the bridge server
  automatus token mint [flags]       Mint a session token
  automatus token list [flags]       List active tokens
  automatus token revoke [flags]     Revoke a token by id
  automatus phase get [flags]        Show the configured safety phase
  automatus phase set <1-4> [flags]  Change the configured safety phase
  automatus version                  Print version

Run 'automatus <command> -h' for command flags.
`)
}
