package cli

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/luCUBEratur/automatus/internal/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "automatus.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestResolveSigningSecretGeneratesAndPersists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := resolveSigningSecret(ctx, store, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 64 {
		t.Fatalf("expected 32-byte hex secret, got %q", first)
	}

	second, err := resolveSigningSecret(ctx, store, "")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatal("generated secret was not persisted")
	}

	configured, err := resolveSigningSecret(ctx, store, "explicit-secret")
	if err != nil {
		t.Fatal(err)
	}
	if configured != "explicit-secret" {
		t.Fatalf("configured secret ignored, got %q", configured)
	}
}

func TestLoadSafetyPhase(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	phase, err := loadSafetyPhase(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if phase != 1 {
		t.Fatalf("expected default phase 1, got %d", phase)
	}

	if err := store.SetSetting(ctx, settingSafetyPhase, strconv.Itoa(3)); err != nil {
		t.Fatal(err)
	}
	phase, err = loadSafetyPhase(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if phase != 3 {
		t.Fatalf("expected phase 3, got %d", phase)
	}

	if err := store.SetSetting(ctx, settingSafetyPhase, "9"); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSafetyPhase(ctx, store); err == nil {
		t.Fatal("expected invalid persisted phase to error")
	}
}
