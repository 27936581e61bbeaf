package historify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// hashBufferSize is the fixed read buffer used for every streamed hash, per
// spec.md §4.1.
const hashBufferSize = 1 << 20 // 1 MiB

// Digests is the (sha256, blake3) pair recorded for every tracked file.
// The field order matches the CSV column order in spec.md §3 and is never
// reordered; new algorithms are appended as new fields/columns, never
// inserted.
type Digests struct {
	SHA256 string
	Blake3 string
}

// Hasher streams a file through SHA-256 and BLAKE3 in a single pass using one
// reusable buffer, as required by spec.md §4.1 and the resource policy in
// §5 ("Hasher uses a single reusable buffer per scan").
type Hasher struct {
	buf []byte
}

// NewHasher returns a Hasher with its buffer preallocated.
func NewHasher() *Hasher {
	return &Hasher{buf: make([]byte, hashBufferSize)}
}

// HashFile computes the digest pair of a regular file at path.
//
// Symlinks are never followed: the caller is expected to have already
// classified the directory entry (spec.md §4.1, §4.5) and only call
// HashFile for regular files. HashFile itself still refuses to follow a
// symlink if handed one, as a defense against a TOCTOU race between the
// walk's Lstat and this read.
func (h *Hasher) HashFile(path string) (Digests, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Digests{}, wrap(KindIOError, "hash: stat", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return Digests{}, wrap(KindIOError, "hash: symlink not tracked", fmt.Errorf("%s", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return Digests{}, wrap(KindIOError, "hash: open", err)
	}
	defer f.Close()

	sha := sha256.New()
	b3 := blake3.New(32, nil)
	mw := io.MultiWriter(sha, b3)

	if _, err := io.CopyBuffer(mw, f, h.buf); err != nil {
		return Digests{}, wrap(KindIOError, "hash: read", err)
	}

	return Digests{
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		Blake3: hex.EncodeToString(b3.Sum(nil)),
	}, nil
}

// HashBytes computes the digest pair of an in-memory blob (used for the
// test signer's key fingerprints and in tests). It shares no state with
// HashFile's buffer.
func HashBytes(b []byte) Digests {
	sha := sha256.Sum256(b)
	b3 := blake3.Sum256(b)
	return Digests{
		SHA256: hex.EncodeToString(sha[:]),
		Blake3: hex.EncodeToString(b3[:]),
	}
}
