package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/luCUBEratur/automatus/internal/audit"
	"github.com/luCUBEratur/automatus/internal/config"
	"github.com/luCUBEratur/automatus/internal/domain"
	ilog "github.com/luCUBEratur/automatus/internal/log"
	"github.com/luCUBEratur/automatus/internal/policy"
	"github.com/luCUBEratur/automatus/internal/provider"
	"github.com/luCUBEratur/automatus/internal/server"
	"github.com/luCUBEratur/automatus/internal/store/sqlite"
	"github.com/luCUBEratur/automatus/internal/token"
)

const settingSigningSecret = "signing_secret"
const settingSafetyPhase = "safety_phase"

func runServe(ctx context.Context, args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "serve config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	secret, err := resolveSigningSecret(ctx, store, cfg.SigningSecret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "signing secret error:", err)
		return 1
	}

	phase, err := loadSafetyPhase(ctx, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "safety phase error:", err)
		return 1
	}
	phaseCtrl := policy.NewPhaseController(phase)

	trail := audit.NewTrail(cfg.AuditRetention, store, logger)
	authority, err := token.NewAuthority(token.Config{
		Secret: []byte(secret),
		TTL:    cfg.TokenTTL,
	}, phaseCtrl, store, trail, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token authority error:", err)
		return 1
	}
	if err := authority.Hydrate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "hydrate error:", err)
		return 1
	}

	prov, err := provider.NewLocal(cfg.WorkspaceRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "workspace error:", err)
		return 1
	}
	logger.Info("local capability provider ready", "workspace", prov.Root())

	s := server.New(cfg, server.Deps{
		Authority: authority,
		Phase:     phaseCtrl,
		Provider:  prov,
		Trail:     trail,
		Trimmer:   store,
	}, logger)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

// resolveSigningSecret prefers an explicitly configured secret, then the
// persisted one, then generates and persists a fresh secret.
func resolveSigningSecret(ctx context.Context, store *sqlite.Store, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return configured, nil
	}

	current, err := store.GetSetting(ctx, settingSigningSecret)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := store.SetSetting(ctx, settingSigningSecret, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func loadSafetyPhase(ctx context.Context, store *sqlite.Store) (int, error) {
	v, err := store.GetSetting(ctx, settingSafetyPhase)
	if errors.Is(err, sqlite.ErrNotFound) {
		return domain.PhaseMin, nil
	}
	if err != nil {
		return 0, err
	}
	phase, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || phase < domain.PhaseMin || phase > domain.PhaseMax {
		return 0, fmt.Errorf("persisted safety phase %q is invalid", v)
	}
	return phase, nil
}
