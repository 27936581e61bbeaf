package historify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kwinsch/historify/internal/xlog"
)

// seedFileName and seedSigName are the fixed names of the chain's root
// element (spec.md §6's on-disk layout).
const (
	seedFileName = "seed.bin"
	seedSigName  = "seed.bin.sig"
)

// ChainManager implements the hash-chain-of-closings protocol: bootstrapping
// the first log from the seed, and closing the open log into a newly
// opened one (spec.md §4.6).
type ChainManager struct {
	store    *LogStore
	verifier *Verifier
	signer   Signer
	keys     *KeyArchive
	seedPath string
	pubPath  string // configured minisign.pub, empty for the in-memory test double
	hasher   *Hasher
	log      xlog.Logger
}

// NewChainManager builds a ChainManager bound to one repository's artifacts.
// pubPath is the configured `minisign.pub` path (spec.md §6); it may be
// empty when signer is the in-memory test double, which carries its own
// public key.
func NewChainManager(store *LogStore, verifier *Verifier, signer Signer, keys *KeyArchive, seedPath, pubPath string, hasher *Hasher, log xlog.Logger) *ChainManager {
	if log == nil {
		log = xlog.Nop()
	}
	return &ChainManager{store: store, verifier: verifier, signer: signer, keys: keys, seedPath: seedPath, pubPath: pubPath, hasher: hasher, log: log}
}

// Bootstrap creates the first log, used only when no logs exist yet
// (spec.md §4.6 "bootstrap()"). It requires seed.bin and seed.bin.sig to
// both exist and verify before creating the first log; the signer's public
// key is archived before that verification.
func (cm *ChainManager) Bootstrap(ctx context.Context) error {
	logs, err := cm.store.List()
	if err != nil {
		return err
	}
	if len(logs) != 0 {
		return wrap(KindChainBroken, "chain: bootstrap", errors.New("logs already exist; bootstrap only runs on an empty chain"))
	}

	if _, err := os.Stat(cm.seedPath); err != nil {
		return wrap(KindIOError, "chain: bootstrap", fmt.Errorf("seed.bin missing: %w", err))
	}
	sigPath := SigPath(cm.seedPath)
	if _, err := os.Stat(sigPath); err != nil {
		return wrap(KindBadSignature, "chain: bootstrap", fmt.Errorf("seed.bin.sig missing: %w", err))
	}

	// First use of the configured signing key: archive it now so this and
	// every future verification can look it up by fingerprint.
	if pub := cm.signerPublicKey(); pub.Fingerprint != "" {
		if err := cm.keys.Archive(pub); err != nil {
			return err
		}
	}

	pub, ok, err := cm.keys.ArchivedFor(sigPath)
	if err != nil {
		return err
	}
	if !ok {
		return wrap(KindBadSignature, "chain: bootstrap", errors.New("no archived public key for seed signature fingerprint"))
	}
	okSig, err := cm.signer.Verify(ctx, cm.seedPath, sigPath, pub)
	if err != nil {
		return err
	}
	if !okSig {
		return wrap(KindBadSignature, "chain: bootstrap", errors.New("seed.bin.sig does not verify"))
	}

	seedDigests, err := cm.hasher.HashFile(cm.seedPath)
	if err != nil {
		return err
	}

	name, err := cm.store.NameForDate(time.Now())
	if err != nil {
		return err
	}
	path, err := cm.store.Create(name)
	if err != nil {
		return err
	}

	closing := Event{
		Timestamp: time.Now().UTC(),
		Type:      EventClosing,
		SHA256:    seedDigests.SHA256,
		Blake3:    seedDigests.Blake3,
		Extra:     buildExtra([2]string{"prev", seedFileName}),
	}
	if err := cm.store.Append(path, []Event{closing}); err != nil {
		return err
	}
	cm.log.Info("chain_bootstrap", "log", name)
	return nil
}

// CloseAndOpen implements spec.md §4.6's "close_and_open()": sign the
// current open log, then create and link a new one. It is idempotent over
// the boundary between a written signature and the new log's creation —
// rerunning it after a signature succeeded but before the new log was
// created detects "no open log, all logs signed" and resumes from step 3.
func (cm *ChainManager) CloseAndOpen(ctx context.Context, cats []Category) error {
	logs, err := cm.store.List()
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return wrap(KindChainBroken, "chain: close_and_open", errors.New("no logs exist; call Bootstrap first"))
	}

	var open *LogFile
	for i := range logs {
		if !logs[i].Closed {
			l := logs[i]
			open = &l
			break
		}
	}

	if open != nil {
		// Step 1: verify the existing closed chain before extending it.
		report, err := cm.verifier.VerifyFullChain(ctx, cats, false)
		if err != nil {
			return err
		}
		if !report.OK {
			return report.Err()
		}

		// Step 2: sign the open log.
		if err := cm.signer.Sign(ctx, open.Path); err != nil {
			return err
		}
		pub := cm.signerPublicKey()
		if pub.Fingerprint != "" {
			if err := cm.keys.Archive(pub); err != nil {
				return err
			}
		}
		cm.log.Info("chain_closed", "log", open.Name)
	}
	// If open == nil here, a previous run already signed the last open log
	// (step 2 succeeded) and crashed before step 5: resume from here.

	return cm.openNext(ctx, logs, open)
}

// openNext creates the new log (steps 3-5) and links it to whichever log
// was just closed, or — on an idempotent resume — whichever log is now the
// most recently closed one.
func (cm *ChainManager) openNext(_ context.Context, priorListing []LogFile, justClosed *LogFile) error {
	var prevName string
	var prevPath string
	if justClosed != nil {
		prevName = justClosed.Name
		prevPath = justClosed.Path
	} else {
		// Resume path: find the most recently closed log by re-listing.
		logs, err := cm.store.List()
		if err != nil {
			return err
		}
		for i := len(logs) - 1; i >= 0; i-- {
			if logs[i].Closed {
				prevName = logs[i].Name
				prevPath = logs[i].Path
				break
			}
		}
		if prevName == "" {
			return wrap(KindChainBroken, "chain: close_and_open", errors.New("no closed log found to resume from"))
		}
	}

	prevDigests, err := cm.hasher.HashFile(prevPath)
	if err != nil {
		return err
	}

	name, err := cm.store.NameForDate(time.Now())
	if err != nil {
		return err
	}
	path, err := cm.store.Create(name)
	if err != nil {
		return err
	}

	closing := Event{
		Timestamp: time.Now().UTC(),
		Type:      EventClosing,
		SHA256:    prevDigests.SHA256,
		Blake3:    prevDigests.Blake3,
		Extra:     buildExtra([2]string{"prev", prevName}),
	}
	if err := cm.store.Append(path, []Event{closing}); err != nil {
		return err
	}
	cm.log.Info("chain_opened", "log", name, "prev", prevName)
	return nil
}

// signerPublicKey resolves the public key the configured signer verifies
// against, so it can be archived on first use (spec.md "Public keys in use
// are archived ... on first use, keyed by their fingerprint"). The real
// signer's key lives at the configured minisign.pub path; the in-memory
// test double carries its key directly and has no file to read.
func (cm *ChainManager) signerPublicKey() PublicKey {
	type pubKeyHolder interface{ PublicKeyValue() PublicKey }
	if h, ok := cm.signer.(pubKeyHolder); ok {
		return h.PublicKeyValue()
	}
	if cm.pubPath == "" {
		return PublicKey{}
	}
	pub, err := PublicKeyFromFile(cm.pubPath)
	if err != nil {
		return PublicKey{}
	}
	return pub
}

// seedPathIn returns the canonical seed path inside a repository's db dir.
func seedPathIn(dbDir string) string { return filepath.Join(dbDir, seedFileName) }
