package historify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// bootstrapTestRepo wires a fresh repository through Init + a signed seed +
// Bootstrap, mirroring the external operator workflow end to end.
func bootstrapTestRepo(t *testing.T) (*Repository, *MemorySigner, string) {
	t.Helper()
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	signer := NewMemorySigner(nil)
	repo, err := OpenRepository(root, signer, nil)
	if err != nil {
		t.Fatal(err)
	}
	seedPath := filepath.Join(repo.DB, "seed.bin")
	if err := signer.Sign(context.Background(), seedPath); err != nil {
		t.Fatal(err)
	}
	docsRoot := filepath.Join(root, "docs")
	if err := os.MkdirAll(docsRoot, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddCategory("docs", docsRoot, ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.Chain.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	return repo, signer, docsRoot
}

// Scenario 1: bootstrap and first scan.
func TestScenario_BootstrapAndFirstScan(t *testing.T) {
	repo, _, docsRoot := bootstrapTestRepo(t)
	mustWrite(t, filepath.Join(docsRoot, "a.txt"), "hello\n")
	if err := os.MkdirAll(filepath.Join(docsRoot, "b"), 0o700); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(docsRoot, "b", "c.txt"), "world\n")

	results, err := repo.Scan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	events := results["docs"]
	if len(events) != 2 || events[0].Type != EventNew || events[1].Type != EventNew {
		t.Fatalf("expected two new events, got %+v", events)
	}
	if events[0].Path != "a.txt" || events[1].Path != "b/c.txt" {
		t.Fatalf("expected lexicographic order, got %s then %s", events[0].Path, events[1].Path)
	}
	wantA := HashBytes([]byte("hello\n"))
	wantC := HashBytes([]byte("world\n"))
	if events[0].Blake3 != wantA.Blake3 || events[1].Blake3 != wantC.Blake3 {
		t.Fatalf("digest mismatch: %+v", events)
	}
}

// Scenario 2: move detection.
func TestScenario_MoveDetection(t *testing.T) {
	repo, _, docsRoot := bootstrapTestRepo(t)
	mustWrite(t, filepath.Join(docsRoot, "a.txt"), "hello\n")
	if err := os.MkdirAll(filepath.Join(docsRoot, "b"), 0o700); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(docsRoot, "b", "c.txt"), "world\n")
	if _, err := repo.Scan(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	if err := os.Rename(filepath.Join(docsRoot, "a.txt"), filepath.Join(docsRoot, "b", "a.txt")); err != nil {
		t.Fatal(err)
	}
	results, err := repo.Scan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	events := results["docs"]
	if len(events) != 1 || events[0].Type != EventMove {
		t.Fatalf("expected exactly one move event, got %+v", events)
	}
	if events[0].Path != "b/a.txt" || events[0].ExtraFrom() != "a.txt" {
		t.Fatalf("unexpected move event: %+v", events[0])
	}
}

// Scenario 3: change and delete.
func TestScenario_ChangeAndDelete(t *testing.T) {
	repo, _, docsRoot := bootstrapTestRepo(t)
	mustWrite(t, filepath.Join(docsRoot, "a.txt"), "hello\n")
	if err := os.MkdirAll(filepath.Join(docsRoot, "b"), 0o700); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(docsRoot, "b", "c.txt"), "world\n")
	if _, err := repo.Scan(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(docsRoot, "a.txt"), filepath.Join(docsRoot, "b", "a.txt")); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Scan(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	mustWrite(t, filepath.Join(docsRoot, "b", "c.txt"), "WORLD\n")
	if err := os.Remove(filepath.Join(docsRoot, "b", "a.txt")); err != nil {
		t.Fatal(err)
	}
	results, err := repo.Scan(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	events := results["docs"]
	if len(events) != 2 {
		t.Fatalf("expected one changed and one deleted event, got %+v", events)
	}
	var changed, deleted *Event
	for i := range events {
		switch events[i].Type {
		case EventChanged:
			changed = &events[i]
		case EventDeleted:
			deleted = &events[i]
		}
	}
	if changed == nil || changed.Path != "b/c.txt" {
		t.Fatalf("expected a changed event for b/c.txt, got %+v", events)
	}
	if changed.Blake3 != HashBytes([]byte("WORLD\n")).Blake3 {
		t.Fatalf("unexpected changed digest: %+v", changed)
	}
	if deleted == nil || deleted.Path != "b/a.txt" {
		t.Fatalf("expected a deleted event for b/a.txt, got %+v", events)
	}
	if deleted.Blake3 != HashBytes([]byte("hello\n")).Blake3 {
		t.Fatalf("deleted event should carry the file's last known digest, got %+v", deleted)
	}
}

// Scenario 4: chain closure, then a second closing with no intervening scan,
// whose new log must reference the first new log.
func TestScenario_ChainClosure(t *testing.T) {
	repo, _, docsRoot := bootstrapTestRepo(t)
	mustWrite(t, filepath.Join(docsRoot, "a.txt"), "hello\n")
	if _, err := repo.Scan(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	logsBefore, err := repo.Store.List()
	if err != nil {
		t.Fatal(err)
	}
	openBefore := logsBefore[len(logsBefore)-1]

	cats, err := repo.Categories()
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Chain.CloseAndOpen(context.Background(), cats); err != nil {
		t.Fatal(err)
	}

	logsAfter, err := repo.Store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(logsAfter) != len(logsBefore)+1 {
		t.Fatalf("expected one new log, got %d -> %d", len(logsBefore), len(logsAfter))
	}
	if _, err := os.Stat(SigPath(openBefore.Path)); err != nil {
		t.Fatalf("expected the previously open log to be signed: %v", err)
	}
	newOpen := logsAfter[len(logsAfter)-1]
	newEvents, err := repo.Store.ReadAll(newOpen.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(newEvents) == 0 || newEvents[0].Type != EventClosing || newEvents[0].ExtraPrev() != openBefore.Name {
		t.Fatalf("expected the new log's first row to close over %s, got %+v", openBefore.Name, newEvents)
	}

	if err := repo.Chain.CloseAndOpen(context.Background(), cats); err != nil {
		t.Fatal(err)
	}
	logsFinal, err := repo.Store.List()
	if err != nil {
		t.Fatal(err)
	}
	finalOpen := logsFinal[len(logsFinal)-1]
	finalEvents, err := repo.Store.ReadAll(finalOpen.Path)
	if err != nil {
		t.Fatal(err)
	}
	if finalEvents[0].ExtraPrev() != newOpen.Name {
		t.Fatalf("expected the second closing to reference %s, got %s", newOpen.Name, finalEvents[0].ExtraPrev())
	}
}

// Scenario 5: tamper detection via full-chain verification.
func TestScenario_TamperDetection(t *testing.T) {
	repo, _, docsRoot := bootstrapTestRepo(t)
	mustWrite(t, filepath.Join(docsRoot, "a.txt"), "hello\n")
	if _, err := repo.Scan(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	cats, err := repo.Categories()
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Chain.CloseAndOpen(context.Background(), cats); err != nil {
		t.Fatal(err)
	}

	logs, err := repo.Store.List()
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

	report, err := repo.Verify.VerifyFullChain(context.Background(), cats, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("expected tampering to fail verification")
	}
	if KindOf(report.Err()) != KindBadSignature {
		t.Errorf("expected a BadSignature exit kind, got %v", report.Err())
	}
}

// Scenario 6: missing signature on the last closed log.
func TestScenario_MissingSignature(t *testing.T) {
	repo, _, docsRoot := bootstrapTestRepo(t)
	mustWrite(t, filepath.Join(docsRoot, "a.txt"), "hello\n")
	if _, err := repo.Scan(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	cats, err := repo.Categories()
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Chain.CloseAndOpen(context.Background(), cats); err != nil {
		t.Fatal(err)
	}

	logs, err := repo.Store.List()
	if err != nil {
		t.Fatal(err)
	}
	closed := logs[0]
	if err := os.Remove(SigPath(closed.Path)); err != nil {
		t.Fatal(err)
	}

	report, err := repo.Verify.VerifyDefault(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("expected verification to fail with a missing signature")
	}
	found := false
	for _, f := range report.Failures {
		if f.Category == FailureSignature {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a signature failure, got %+v", report.Failures)
	}
}
