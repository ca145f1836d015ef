package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/luCUBEratur/automatus/internal/domain"
	ilog "github.com/luCUBEratur/automatus/internal/log"
	"github.com/luCUBEratur/automatus/internal/policy"
	"github.com/luCUBEratur/automatus/internal/store/sqlite"
	"github.com/luCUBEratur/automatus/internal/token"
)

func runTokenAdmin(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: automatus token <mint|list|revoke> [flags]")
		return 2
	}
	switch args[0] {
	case "mint":
		return runTokenMint(ctx, args[1:])
	case "list":
		return runTokenList(ctx, args[1:])
	case "revoke":
		return runTokenRevoke(ctx, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "unknown token command:", args[0])
		return 2
	}
}

func runTokenMint(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("token-mint", flag.ContinueOnError)
	var dbPath, subject, clientName, clientVersion, platform string
	var ttl time.Duration
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&subject, "subject", "", "token subject (required)")
	fs.StringVar(&clientName, "client", "automatus-cli", "client name")
	fs.StringVar(&clientVersion, "client-version", Version, "client version")
	fs.StringVar(&platform, "platform", "cli", "client platform")
	fs.DurationVar(&ttl, "ttl", token.DefaultTTL, "token validity window")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		fmt.Fprintln(os.Stderr, "token mint error: missing --subject")
		return 2
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	secret, err := resolveSigningSecret(ctx, store, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "signing secret error:", err)
		return 1
	}
	phase, err := loadSafetyPhase(ctx, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "safety phase error:", err)
		return 1
	}

	authority, err := token.NewAuthority(token.Config{Secret: []byte(secret), TTL: ttl},
		policy.NewPhaseController(phase), store, nil, ilog.New("warn"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "token authority error:", err)
		return 1
	}

	signed, payload, err := authority.Issue(ctx, domain.ClientDescriptor{
		Name:     clientName,
		Version:  clientVersion,
		Platform: platform,
	}, subject)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token mint error:", err)
		return 1
	}

	fmt.Println("token_id:", payload.TokenID)
	fmt.Println("session_id:", payload.SessionID)
	fmt.Println("safety_phase:", payload.SafetyPhase)
	fmt.Println("expires_at:", payload.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Println("token:", signed)
	return 0
}

func runTokenList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("token-list", flag.ContinueOnError)
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

	tokens, err := store.ActiveTokens(ctx, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, "token list error:", err)
		return 1
	}
	if len(tokens) == 0 {
		fmt.Println("no active tokens")
		return 0
	}
	for _, meta := range tokens {
		fmt.Printf("%s  subject=%s  client=%s  phase=%d  expires=%s\n",
			meta.TokenID, meta.Subject, meta.Client.Name, meta.SafetyPhase,
			meta.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return 0
}

func runTokenRevoke(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("token-revoke", flag.ContinueOnError)
	var dbPath, id, reason string
	var all bool
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&id, "id", "", "token id to revoke")
	fs.StringVar(&reason, "reason", "revoked via cli", "revocation reason")
	fs.BoolVar(&all, "all", false, "revoke every active token")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if id == "" && !all {
		fmt.Fprintln(os.Stderr, "token revoke error: missing --id (or use --all)")
		return 2
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	now := time.Now().UTC()
	if all {
		tokens, err := store.ActiveTokens(ctx, now)
		if err != nil {
			fmt.Fprintln(os.Stderr, "token revoke error:", err)
			return 1
		}
		for _, meta := range tokens {
			if err := store.MarkTokenRevoked(ctx, meta.TokenID, reason, now); err != nil {
				fmt.Fprintln(os.Stderr, "token revoke error:", err)
				return 1
			}
		}
		fmt.Printf("revoked %d tokens\n", len(tokens))
		return 0
	}

	if err := store.MarkTokenRevoked(ctx, id, reason, now); err != nil {
		fmt.Fprintln(os.Stderr, "token revoke error:", err)
		return 1
	}
	fmt.Println("revoked:", id)
	return 0
}

func defaultDBPath() string {
	if v := os.Getenv("AUTOMATUS_DB_PATH"); v != "" {
		return v
	}
	return "./automatus.db"
}
