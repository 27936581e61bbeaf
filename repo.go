package historify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/kwinsch/historify/internal/xlog"
)

// dbDirName and defaultChangesDirName are the fixed top-level repository
// directories from spec.md §6's on-disk layout.
const (
	dbDirName             = "db"
	defaultChangesDirName = "changes"
	seedSizeBytes         = 1 << 20 // 1 MiB of CSPRNG output, per spec.md §3
)

var validCategoryName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Repository is the explicit handle binding every component to one
// on-disk repository (spec.md §9: "pass an explicit repository handle
// bearing config and open resources through every operation"). Exactly one
// is constructed per command invocation.
type Repository struct {
	Root    string
	DB      string
	Changes string

	Config *Config
	Keys   *KeyArchive
	Store  *LogStore
	State  *StateReconstructor
	Index  *IntegrityIndex
	Hasher *Hasher
	Signer Signer
	Chain  *ChainManager
	Verify *Verifier
	Lock   *RepoLock

	log xlog.Logger
}

// OpenRepository wires every component against an existing repository
// rooted at root. signer is supplied by the caller (cmd/historify chooses
// ExecSigner in production, MemorySigner in tests).
func OpenRepository(root string, signer Signer, log xlog.Logger) (*Repository, error) {
	if log == nil {
		log = xlog.Nop()
	}
	db := filepath.Join(root, dbDirName)
	cfg := NewConfig(db)

	changesDir := defaultChangesDirName
	if v, ok, err := cfg.Get("changes.directory"); err != nil {
		return nil, err
	} else if ok && v != "" {
		changesDir = v
	}
	changes := changesDir
	if !filepath.IsAbs(changes) {
		changes = filepath.Join(root, changesDir)
	}

	keys, err := NewKeyArchive(filepath.Join(db, "keys"))
	if err != nil {
		return nil, err
	}
	store, err := NewLogStore(changes)
	if err != nil {
		return nil, err
	}
	recon, err := NewStateReconstructor(store)
	if err != nil {
		return nil, err
	}
	index := NewIntegrityIndex(filepath.Join(db, "integrity.csv"))
	hasher := NewHasher()

	seedPath := seedPathIn(db)
	pubPath, _, err := cfg.Get("minisign.pub")
	if err != nil {
		return nil, err
	}
	if pubPath != "" && !filepath.IsAbs(pubPath) {
		pubPath = filepath.Join(root, pubPath)
	}

	verifier := NewVerifier(store, recon, signer, keys, seedPath, hasher, index, log)
	chain := NewChainManager(store, verifier, signer, keys, seedPath, pubPath, hasher, log)

	return &Repository{
		Root: root, DB: db, Changes: changes,
		Config: cfg, Keys: keys, Store: store, State: recon, Index: index,
		Hasher: hasher, Signer: signer, Chain: chain, Verify: verifier,
		Lock: NewRepoLock(db),
		log:  log,
	}, nil
}

// Init creates a fresh repository at root: the db and changes directories,
// a CSPRNG seed, and the immutable time.resolution setting. It does not
// sign the seed — that is an explicit administrative step (the operator
// runs the external signer against seed.bin before the first scan), matching
// spec.md §3's "its seed is immutable and signed before any scan is
// allowed" without this package ever touching the signing key itself.
func Init(root string) error {
	db := filepath.Join(root, dbDirName)
	if err := os.MkdirAll(db, 0o700); err != nil {
		return wrap(KindIOError, "repo: init mkdir db", err)
	}
	if err := os.MkdirAll(filepath.Join(root, defaultChangesDirName), 0o700); err != nil {
		return wrap(KindIOError, "repo: init mkdir changes", err)
	}

	seedPath := seedPathIn(db)
	if _, err := os.Stat(seedPath); err == nil {
		return wrap(KindConfigError, "repo: init", errors.New("repository already initialized: seed.bin exists"))
	}
	seed := make([]byte, seedSizeBytes)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return wrap(KindIOError, "repo: init seed", err)
	}
	if err := os.WriteFile(seedPath, seed, 0o600); err != nil {
		return wrap(KindIOError, "repo: init seed write", err)
	}

	cfg := NewConfig(db)
	if err := cfg.Set("time.resolution", "ns"); err != nil {
		return err
	}
	if err := cfg.Set("hash.algorithms", "blake3,sha256"); err != nil {
		return err
	}
	return nil
}

// AddCategory validates and records a new category (spec.md §3: a name
// matching `[A-Za-z0-9_-]+`), rejecting the write on any validation
// failure before touching the config file.
func (r *Repository) AddCategory(name, path, description string) error {
	if !validCategoryName.MatchString(name) {
		return wrap(KindConfigError, "repo: add-category", fmt.Errorf("invalid category name %q", name))
	}
	if err := r.Config.Set("category."+name+".path", path); err != nil {
		return err
	}
	if description != "" {
		if err := r.Config.Set("category."+name+".description", description); err != nil {
			return err
		}
	}
	return nil
}

// Categories resolves every configured category to an absolute root.
func (r *Repository) Categories() ([]Category, error) {
	cats, err := r.Config.Categories()
	if err != nil {
		return nil, err
	}
	out := make([]Category, len(cats))
	for i, c := range cats {
		root := c.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(r.Root, root)
		}
		out[i] = Category{Name: c.Name, Root: root}
	}
	return out, nil
}

// excludedPaths returns the absolute paths a scanner walk must never
// descend into, even when nested inside a category root (spec.md §9,
// mandatory).
func (r *Repository) excludedPaths() []string {
	return []string{r.DB, r.Changes}
}

// Scan runs one scan of every requested category (all configured
// categories if names is empty), appending emitted events to the open log.
func (r *Repository) Scan(ctx context.Context, names []string) (map[string][]Event, error) {
	cats, err := r.resolveCategories(names)
	if err != nil {
		return nil, err
	}
	recon, err := r.State.Reconstruct()
	if err != nil {
		return nil, err
	}
	scanner := NewScanner(r.Hasher, r.log)
	now := time.Now().UTC()

	results := map[string][]Event{}
	var allEvents []Event
	for _, cat := range cats {
		prior := recon.State[cat.Name]
		skipped := recon.Skipped[cat.Name]
		res, err := scanner.Scan(cat, prior, r.excludedPaths(), skipped, now)
		if err != nil {
			return nil, err
		}
		results[cat.Name] = res.Events
		allEvents = append(allEvents, res.Events...)
	}

	open, err := r.Store.Open()
	if err != nil {
		return nil, err
	}
	if len(allEvents) == 0 {
		return results, nil
	}
	if err := r.Store.Append(open.Path, allEvents); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) resolveCategories(names []string) ([]Category, error) {
	all, err := r.Categories()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, wrap(KindConfigError, "repo: resolve categories", errors.New("no categories configured"))
	}
	if len(names) == 0 {
		return all, nil
	}
	byName := map[string]Category{}
	for _, c := range all {
		byName[c.Name] = c
	}
	out := make([]Category, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, wrap(KindConfigError, "repo: resolve categories", fmt.Errorf("unknown category %q", n))
		}
		out = append(out, c)
	}
	return out, nil
}

// Comment appends an administrative `comment` row to the open log.
func (r *Repository) Comment(msg string) error {
	open, err := r.Store.Open()
	if err != nil {
		return err
	}
	ev := Event{
		Timestamp: time.Now().UTC(),
		Type:      EventComment,
		Extra:     buildExtra([2]string{"msg", msg}),
	}
	return r.Store.Append(open.Path, []Event{ev})
}

// SetConfig validates and writes a config key/value, then records the
// change as a `config` row in the open log (spec.md §3, §4 supplemented
// feature "config-change auditing"). Logs still need an open log to exist
// — Init doesn't create one, since bootstrap requires a signed seed first.
func (r *Repository) SetConfig(key, value string) error {
	if err := r.Config.Set(key, value); err != nil {
		return err
	}
	open, err := r.Store.Open()
	if err != nil {
		// No open log yet (pre-bootstrap): the config write itself still
		// succeeded and is the authoritative record until the chain exists.
		return nil
	}
	ev := Event{
		Timestamp: time.Now().UTC(),
		Type:      EventConfig,
		Extra:     buildExtra([2]string{"key", key}, [2]string{"value", value}),
	}
	return r.Store.Append(open.Path, []Event{ev})
}

// Status summarizes the repository for reporting: per-category file counts
// and the most recent closing link.
type Status struct {
	Categories map[string]int
	LastLink   *ClosingLink
}

// Duplicates reports groups of files sharing a blake3 digest, optionally
// filtered to one category (spec.md §4.5's read-only duplicate-detection
// operation, exposed as its own CLI verb).
func (r *Repository) Duplicates(categoryFilter string) ([]DuplicateGroup, error) {
	recon, err := r.State.Reconstruct()
	if err != nil {
		return nil, err
	}
	return FindDuplicates(recon.State, categoryFilter), nil
}

// Status reconstructs the chain and reports a summary for display.
func (r *Repository) Status() (Status, error) {
	recon, err := r.State.Reconstruct()
	if err != nil {
		return Status{}, err
	}
	st := Status{Categories: map[string]int{}}
	for cat, files := range recon.State {
		st.Categories[cat] = len(files)
	}
	if n := len(recon.Links); n > 0 {
		st.LastLink = &recon.Links[n-1]
	}
	return st, nil
}
