package historify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyArchive_ArchiveAndGet(t *testing.T) {
	dir := t.TempDir()
	ka, err := NewKeyArchive(filepath.Join(dir, "keys"))
	if err != nil {
		t.Fatal(err)
	}
	pub := PublicKey{Fingerprint: "abc123", Raw: []byte("key-bytes")}
	if err := ka.Archive(pub); err != nil {
		t.Fatal(err)
	}
	got, ok, err := ka.Get("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(got.Raw) != "key-bytes" {
		t.Errorf("expected archived key to round-trip, got %+v ok=%v", got, ok)
	}
}

func TestKeyArchive_FirstArchivedWins(t *testing.T) {
	dir := t.TempDir()
	ka, err := NewKeyArchive(filepath.Join(dir, "keys"))
	if err != nil {
		t.Fatal(err)
	}
	first := PublicKey{Fingerprint: "fp", Raw: []byte("first")}
	second := PublicKey{Fingerprint: "fp", Raw: []byte("second")}
	if err := ka.Archive(first); err != nil {
		t.Fatal(err)
	}
	if err := ka.Archive(second); err != nil {
		t.Fatal(err)
	}
	got, _, err := ka.Get("fp")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Raw) != "first" {
		t.Errorf("expected the first-archived bytes to win, got %q", got.Raw)
	}
}

func TestKeyArchive_UnknownFingerprint(t *testing.T) {
	dir := t.TempDir()
	ka, err := NewKeyArchive(filepath.Join(dir, "keys"))
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := ka.Get("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no key archived under an unused fingerprint")
	}
}

func TestPublicKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minisign.pub")
	// A minisign public key file: an untrusted-comment line plus one base64 line.
	content := "untrusted comment: minisign public key ABCDEF\nRWQAECD0OjRnoFSLgM1DpcfvZA1LEw4n0xuQ5JJkVyMmV9sQAeEcq4dW\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	pub, err := PublicKeyFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pub.Fingerprint == "" {
		t.Error("expected a non-empty fingerprint")
	}
}
