package historify

import (
	"errors"
	"os"
	"path/filepath"
)

// keyFileSuffix is the extension archived public keys are stored under,
// one file per fingerprint.
const keyFileSuffix = ".pub"

// KeyArchive is the on-disk store of public keys a repository has ever
// seen, keyed by fingerprint (spec.md: "Public keys in use are archived in
// the repository's keys directory on first use, keyed by their
// fingerprint"). It never deletes or overwrites an archived key: once a
// fingerprint is on disk, that key is what every future verification
// against a signature carrying that fingerprint will use, regardless of
// what key the signer is currently configured with.
type KeyArchive struct {
	dir string
}

// NewKeyArchive binds a KeyArchive to its directory (typically
// <repo>/db/keys), creating it if absent.
func NewKeyArchive(dir string) (*KeyArchive, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, wrap(KindIOError, "keys: mkdir", err)
	}
	return &KeyArchive{dir: dir}, nil
}

func (a *KeyArchive) pathFor(fingerprint string) string {
	return filepath.Join(a.dir, fingerprint+keyFileSuffix)
}

// Get returns the archived key for fingerprint, or ok=false if none has
// ever been archived under it.
func (a *KeyArchive) Get(fingerprint string) (PublicKey, bool, error) {
	raw, err := os.ReadFile(a.pathFor(fingerprint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PublicKey{}, false, nil
		}
		return PublicKey{}, false, wrap(KindIOError, "keys: get", err)
	}
	return PublicKey{Fingerprint: fingerprint, Raw: raw}, true, nil
}

// Archive writes pub under its fingerprint if this is the first time that
// fingerprint has been seen. A repeated Archive of an already-known
// fingerprint is a no-op: the first-archived bytes always win, so a
// signer reconfigured with a same-fingerprint-but-different key (which
// should never happen in practice) cannot silently replace what
// verification checks against.
func (a *KeyArchive) Archive(pub PublicKey) error {
	if pub.Fingerprint == "" {
		return wrap(KindKeyMissing, "keys: archive", errors.New("public key has no fingerprint"))
	}
	path := a.pathFor(pub.Fingerprint)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return wrap(KindIOError, "keys: archive stat", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return wrap(KindIOError, "keys: archive create", err)
	}
	defer f.Close()
	if _, err := f.Write(pub.Raw); err != nil {
		return wrap(KindIOError, "keys: archive write", err)
	}
	return wrap(KindIOError, "keys: archive sync", f.Sync())
}

// ArchivedFor resolves sigPath's embedded fingerprint and looks up the
// archived public key for it. ok is false when the signature names a
// fingerprint this repository has never archived a key for — the
// Verifier reports that as a signature failure rather than guessing.
func (a *KeyArchive) ArchivedFor(sigPath string) (PublicKey, bool, error) {
	fp, err := KeyFingerprint(sigPath)
	if err != nil {
		return PublicKey{}, false, err
	}
	return a.Get(fp)
}
