package historify

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure the way spec.md §7 requires, so that
// cmd/historify can map it to the correct process exit code without the
// core packages knowing anything about exit codes.
type ErrorKind int

const (
	// KindUnknown is the zero value; never produced by this package.
	KindUnknown ErrorKind = iota
	// KindIOError covers unreadable/unwritable paths.
	KindIOError
	// KindConfigError covers bad or unknown configuration.
	KindConfigError
	// KindChainBroken covers a repository with zero or more than one open log.
	KindChainBroken
	// KindLogCorrupt covers a log with a partial (non-LF-terminated) row.
	KindLogCorrupt
	// KindLogInconsistent covers a replay that hits an impossible transition.
	KindLogInconsistent
	// KindBadSignature covers a signature that fails to verify.
	KindBadSignature
	// KindKeyMissing covers a missing signing or public key.
	KindKeyMissing
	// KindPasswordRequired covers a signer that needs a password and has none.
	KindPasswordRequired
	// KindPasswordIncorrect covers a rejected password.
	KindPasswordIncorrect
	// KindSignerUnavailable covers a missing or non-executable signer binary.
	KindSignerUnavailable
	// KindRepoBusy covers a lock that could not be acquired.
	KindRepoBusy
	// KindIndexCorrupt covers a derived integrity index that doesn't parse.
	KindIndexCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindIOError:
		return "IOError"
	case KindConfigError:
		return "ConfigError"
	case KindChainBroken:
		return "ChainBroken"
	case KindLogCorrupt:
		return "LogCorrupt"
	case KindLogInconsistent:
		return "LogInconsistent"
	case KindBadSignature:
		return "BadSignature"
	case KindKeyMissing:
		return "KeyMissing"
	case KindPasswordRequired:
		return "PasswordRequired"
	case KindPasswordIncorrect:
		return "PasswordIncorrect"
	case KindSignerUnavailable:
		return "SignerUnavailable"
	case KindRepoBusy:
		return "RepoBusy"
	case KindIndexCorrupt:
		return "IndexCorrupt"
	default:
		return "Unknown"
	}
}

// ExitCode implements spec.md §6's exit code table.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindConfigError:
		return 2
	case KindChainBroken, KindLogCorrupt, KindLogInconsistent,
		KindBadSignature, KindKeyMissing, KindPasswordIncorrect:
		return 3
	case KindIndexCorrupt:
		return 0 // recoverable; never the terminal error of a command
	case KindUnknown:
		return 1
	default:
		return 1
	}
}

// Error wraps an underlying cause with the ErrorKind that governs how the
// caller must react to it (§7: does it leave the chain unchanged? can it
// retry? is a write attempted at all?).
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, KindX) work by comparing kinds directly when the
// target is itself an *Error with no wrapped cause (a sentinel-by-kind).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Err == nil || errors.Is(e.Err, t.Err))
	}
	return false
}

// wrap builds an *Error, or returns nil if err is nil.
func wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindUnknown if err is not (or
// does not wrap) an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
