package historify

import (
	"os"
	"testing"
)

func TestConfig_SetGet(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(dir)
	if err := cfg.Set("minisign.key", "/path/to/key"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := cfg.Get("minisign.key")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "/path/to/key" {
		t.Errorf("got %q ok=%v", v, ok)
	}
}

func TestConfig_RejectsUnrecognizedKey(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(dir)
	if err := cfg.Set("bogus.key", "value"); KindOf(err) != KindConfigError {
		t.Errorf("expected KindConfigError, got %v", err)
	}
}

func TestConfig_ImmutableKeyRejectsChange(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(dir)
	if err := cfg.Set("time.resolution", "ns"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("time.resolution", "ms"); KindOf(err) != KindConfigError {
		t.Errorf("expected a ConfigError changing an immutable key, got %v", err)
	}
	// Setting the same value again is a no-op, not an error.
	if err := cfg.Set("time.resolution", "ns"); err != nil {
		t.Errorf("re-setting an immutable key to its current value should succeed, got %v", err)
	}
}

func TestConfig_CategoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(dir)
	if err := cfg.Set("category.photos.path", "/data/photos"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("category.photos.description", "family photos"); err != nil {
		t.Fatal(err)
	}
	cats, err := cfg.Categories()
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0].Name != "photos" || cats[0].Root != "/data/photos" {
		t.Fatalf("unexpected categories: %+v", cats)
	}
}

func TestConfig_HashAlgorithmsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(dir)
	algos, err := cfg.HashAlgorithms()
	if err != nil {
		t.Fatal(err)
	}
	if len(algos) != 2 || algos[0] != "blake3" || algos[1] != "sha256" {
		t.Errorf("unexpected default algorithms: %v", algos)
	}
}

func TestConfig_CSVMirrorRewritten(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(dir)
	if err := cfg.Set("iso.publisher", "historify"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.csvPath); err != nil {
		t.Fatalf("expected config.csv to exist: %v", err)
	}
}
