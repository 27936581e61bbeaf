// Package historify implements the core of a tamper-evident audit trail
// for file trees.
//
// A repository is a directory holding a configuration store, a random seed
// with a mandatory detached signature, an archive of public keys, and a
// directory of daily CSV change logs chained together by hash: each closed
// log's first row restates the digest of whatever preceded it (the seed, or
// the previous closed log), and each closed log carries its own detached
// signature. Scanning a category walks its filesystem tree, compares it
// against the state reconstructed by replaying the chain, and appends
// `new`/`changed`/`move`/`deleted` rows describing exactly what changed.
//
// The package is organized the way its components are described in the
// design: Hasher (hasher.go), Signer (signer.go), Log Store (logstore.go),
// State Reconstructor (state.go), Scanner (scanner.go), Chain Manager
// (chain.go), Verifier (verifier.go), and Integrity Index (index.go).
// Repository (repo.go) ties these together behind one handle so that no
// operation depends on global or ambient state.
//
// historify is not a version control system — no file content is retained
// after a change is recorded — and it is not an access-control layer: it
// observes and records, it does not gate access.
package historify

// KeySize is the size in bytes of the Ed25519 seed used by the in-memory
// test-double signer.
const KeySize = 32
