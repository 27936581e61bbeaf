package historify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwinsch/historify/internal/xlog"
)

func newTestChain(t *testing.T, dir string) (*ChainManager, *LogStore, *KeyArchive, Signer, string) {
	t.Helper()
	db := filepath.Join(dir, "db")
	if err := os.MkdirAll(db, 0o700); err != nil {
		t.Fatal(err)
	}
	store, err := NewLogStore(filepath.Join(dir, "changes"))
	if err != nil {
		t.Fatal(err)
	}
	keys, err := NewKeyArchive(filepath.Join(db, "keys"))
	if err != nil {
		t.Fatal(err)
	}
	recon, err := NewStateReconstructor(store)
	if err != nil {
		t.Fatal(err)
	}
	hasher := NewHasher()
	signer := NewMemorySigner(nil)
	seedPath := filepath.Join(db, "seed.bin")
	index := NewIntegrityIndex(filepath.Join(db, "integrity.csv"))
	verifier := NewVerifier(store, recon, signer, keys, seedPath, hasher, index, xlog.Nop())
	chain := NewChainManager(store, verifier, signer, keys, seedPath, "", hasher, xlog.Nop())
	return chain, store, keys, signer, seedPath
}

func TestChainManager_BootstrapRequiresSignedSeed(t *testing.T) {
	dir := t.TempDir()
	chain, _, _, _, seedPath := newTestChain(t, dir)

	if err := os.WriteFile(seedPath, []byte("seed-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := chain.Bootstrap(context.Background()); err == nil {
		t.Error("expected Bootstrap to fail without a seed signature")
	}
}

func TestChainManager_BootstrapThenCloseAndOpen(t *testing.T) {
	dir := t.TempDir()
	chain, store, _, signer, seedPath := newTestChain(t, dir)

	if err := os.WriteFile(seedPath, []byte("seed-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := signer.Sign(context.Background(), seedPath); err != nil {
		t.Fatal(err)
	}

	if err := chain.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}

	logs, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Closed {
		t.Fatalf("expected one open log after bootstrap, got %+v", logs)
	}

	if err := chain.CloseAndOpen(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	logs, err = store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected two logs after closing, got %d", len(logs))
	}
	if !logs[0].Closed {
		t.Error("expected the first log to be closed")
	}
	if logs[1].Closed {
		t.Error("expected the second log to be open")
	}
}

func TestChainManager_CloseAndOpen_RequiresBootstrapFirst(t *testing.T) {
	dir := t.TempDir()
	chain, _, _, _, _ := newTestChain(t, dir)
	if err := chain.CloseAndOpen(context.Background(), nil); KindOf(err) != KindChainBroken {
		t.Errorf("expected KindChainBroken, got %v", err)
	}
}
