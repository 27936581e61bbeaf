package main

import (
	"path/filepath"

	"github.com/kwinsch/historify"
)

// repoT is a short alias used by command files so each doesn't need to
// import the historify package solely to spell out *historify.Repository.
type repoT = historify.Repository

// signerForPath builds the production Signer by peeking at the
// repository's configured minisign.key, without needing a fully wired
// Repository (which itself needs a Signer to construct).
func signerForPath(root string) historify.Signer {
	cfg := historify.NewConfig(filepath.Join(root, "db"))
	keyPath, _, _ := cfg.Get("minisign.key")
	return &historify.ExecSigner{
		SecretKeyPath:  keyPath,
		PromptPassword: promptPassword,
	}
}

// withRepo opens the repository at --repo, acquires the requested lock for
// the duration of fn, and always releases it (spec.md §5).
func withRepo(exclusive bool, fn func(repo *historify.Repository) error) error {
	repo, err := historify.OpenRepository(repoPath, signerForPath(repoPath), log)
	if err != nil {
		return err
	}

	if exclusive {
		if err := repo.Lock.AcquireExclusive(); err != nil {
			return err
		}
	} else {
		if err := repo.Lock.AcquireShared(); err != nil {
			return err
		}
	}
	defer repo.Lock.Release()

	return fn(repo)
}
