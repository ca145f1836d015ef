package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/luCUBEratur/automatus/internal/domain"
	"github.com/luCUBEratur/automatus/internal/store/sqlite"
)

func runPhaseAdmin(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: automatus phase <get|set> [flags]")
		return 2
	}
	switch args[0] {
	case "get":
		return runPhaseGet(ctx, args[1:])
	case "set":
		return runPhaseSet(ctx, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "unknown phase command:", args[0])
		return 2
	}
}

func runPhaseGet(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("phase-get", flag.ContinueOnError)
	var dbPath string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	phase, err := loadSafetyPhase(ctx, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "phase error:", err)
		return 1
	}
	fmt.Println("safety_phase:", phase)
	return 0
}

func runPhaseSet(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("phase-set", flag.ContinueOnError)
	var dbPath string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: automatus phase set <1-4>")
		return 2
	}
	phase, err := strconv.Atoi(rest[0])
	if err != nil || phase < domain.PhaseMin || phase > domain.PhaseMax {
		fmt.Fprintf(os.Stderr, "phase error: safety phase must be between %d and %d\n",
			domain.PhaseMin, domain.PhaseMax)
		return 2
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.SetSetting(ctx, settingSafetyPhase, strconv.Itoa(phase)); err != nil {
		fmt.Fprintln(os.Stderr, "phase error:", err)
		return 1
	}
	fmt.Println("safety_phase:", phase)
	fmt.Println("note: a running server picks this up at next start")
	return 0
}
