package historify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwinsch/historify/internal/xlog"
)

type verifierFixture struct {
	chain    *ChainManager
	verifier *Verifier
	store    *LogStore
	recon    *StateReconstructor
	index    *IntegrityIndex
	signer   Signer
	keys     *KeyArchive
	seedPath string
}

func newVerifierFixture(t *testing.T) verifierFixture {
	t.Helper()
	dir := t.TempDir()
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

	if err := os.WriteFile(seedPath, []byte("seed-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := signer.Sign(context.Background(), seedPath); err != nil {
		t.Fatal(err)
	}
	if err := chain.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	return verifierFixture{chain: chain, verifier: verifier, store: store, recon: recon, index: index, signer: signer, keys: keys, seedPath: seedPath}
}

func TestVerifier_FullChain_OKAfterBootstrap(t *testing.T) {
	f := newVerifierFixture(t)
	report, err := f.verifier.VerifyFullChain(context.Background(), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Errorf("expected ok report, got %+v", report.Failures)
	}
}

func TestVerifier_FullChain_DetectsTamperedClosedLog(t *testing.T) {
	f := newVerifierFixture(t)
	if err := f.chain.CloseAndOpen(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	logs, err := f.store.List()
	if err != nil {
		t.Fatal(err)
	}
	closed := logs[0]
	data, err := os.ReadFile(closed.Path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF
	if err := os.WriteFile(closed.Path, tampered, 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := f.verifier.VerifyFullChain(context.Background(), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Error("expected tampering to be detected")
	}
	found := false
	for _, fl := range report.Failures {
		if fl.Category == FailureSignature {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a signature failure, got %+v", report.Failures)
	}
}

func TestVerifier_FullChain_MissingSeedSignatureKey(t *testing.T) {
	f := newVerifierFixture(t)
	// Simulate a never-archived key by pointing at a fresh, empty archive.
	emptyKeys, err := NewKeyArchive(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	v2 := NewVerifier(f.store, f.recon, f.signer, emptyKeys, f.seedPath, NewHasher(), f.index, xlog.Nop())
	report, err := v2.VerifyFullChain(context.Background(), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Error("expected verification to fail with no archived seed key")
	}
}

func TestVerifier_Default_OKWhenNothingClosedYet(t *testing.T) {
	f := newVerifierFixture(t)
	report, err := f.verifier.VerifyDefault(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Errorf("expected ok, got %+v", report.Failures)
	}
}
