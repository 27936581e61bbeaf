package historify

import (
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileState is the last known state of one tracked file, as reconstructed
// from the change log chain (spec.md §4.4).
type FileState struct {
	SHA256 string
	Blake3 string
	Size   int64
	Mtime  int64
}

// ClosingLink is one log's expected link back to whatever preceded it,
// taken from that log's first (`closing`) row; the open log has one too.
type ClosingLink struct {
	LogName  string
	Prev     string // basename of the file this log's closing row points at
	Expected Digests
}

// Reconstruction is the result of replaying the full chain: per-category
// last-known state, plus the ordered list of closing links, one per log.
type Reconstruction struct {
	// State maps category -> relative path -> FileState.
	State map[string]map[string]FileState
	Links []ClosingLink
	// Skipped maps category -> relative path -> true for every non-tracked
	// directory entry (symlink, socket, device, fifo) already reported by
	// a "skip-nontracked" comment somewhere in the chain.
	Skipped map[string]map[string]bool
}

// StateReconstructor replays change logs to derive the authoritative
// "last known state" for one or all categories (spec.md §4.4). It caches
// its last result per repository generation so that repeated read-only
// queries (status, log, a no-op verify) don't re-replay an unchanged
// chain.
type StateReconstructor struct {
	store *LogStore
	cache *lru.Cache[string, cachedReconstruction]
}

type cachedReconstruction struct {
	generation string
	result     Reconstruction
}

// NewStateReconstructor builds a reconstructor over store with a small
// bounded cache. Reconstruct stores its result under one fixed key, so the
// cache holds at most one entry.
func NewStateReconstructor(store *LogStore) (*StateReconstructor, error) {
	c, err := lru.New[string, cachedReconstruction](8)
	if err != nil {
		return nil, wrap(KindIOError, "state: new cache", err)
	}
	return &StateReconstructor{store: store, cache: c}, nil
}

// generation fingerprints the current chain (every log's name and size) so
// the cache can detect "nothing changed since last replay" cheaply,
// without re-parsing CSV.
func (r *StateReconstructor) generation() (string, error) {
	logs, err := r.store.List()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, l := range logs {
		fi, err := os.Stat(l.Path)
		if err != nil {
			return "", wrap(KindIOError, "state: stat", err)
		}
		fmt.Fprintf(&b, "%s:%d;", l.Name, fi.Size())
	}
	return b.String(), nil
}

// Reconstruct replays every log in chronological order and returns the
// full Reconstruction. Replay errors (an impossible transition) are
// returned as *Error{Kind: KindLogInconsistent}; the caller may downgrade
// that to a warning and continue, per spec.md §4.4, but Reconstruct itself
// never does so silently.
func (r *StateReconstructor) Reconstruct() (Reconstruction, error) {
	gen, err := r.generation()
	if err != nil {
		return Reconstruction{}, err
	}
	const cacheKey = "*"
	if cached, ok := r.cache.Get(cacheKey); ok && cached.generation == gen {
		return cached.result, nil
	}

	logs, err := r.store.List()
	if err != nil {
		return Reconstruction{}, err
	}

	result := Reconstruction{State: map[string]map[string]FileState{}}
	var allEvents []Event

	for _, l := range logs {
		events, err := r.store.ReadAll(l.Path)
		if err != nil {
			return Reconstruction{}, err
		}
		for i, ev := range events {
			if ev.Type == EventClosing {
				if i != 0 {
					return Reconstruction{}, wrap(KindLogInconsistent, "state: replay",
						fmt.Errorf("%s: closing row at position %d, must be first", l.Name, i))
				}
				result.Links = append(result.Links, ClosingLink{
					LogName:  l.Name,
					Prev:     ev.ExtraPrev(),
					Expected: ev.Digests(),
				})
				continue
			}
			if err := applyEvent(result.State, ev); err != nil {
				return Reconstruction{}, wrap(KindLogInconsistent, "state: replay",
					fmt.Errorf("%s: %w", l.Name, err))
			}
		}
		allEvents = append(allEvents, events...)
	}
	result.Skipped = skippedSpecials(allEvents)

	r.cache.Add(cacheKey, cachedReconstruction{generation: gen, result: result})
	return result, nil
}

// CategoryState replays the chain and returns the state map for one
// category only (an empty map if the category has no recorded files yet).
func (r *StateReconstructor) CategoryState(category string) (map[string]FileState, error) {
	full, err := r.Reconstruct()
	if err != nil {
		return nil, err
	}
	if m, ok := full.State[category]; ok {
		return m, nil
	}
	return map[string]FileState{}, nil
}

func applyEvent(state map[string]map[string]FileState, ev Event) error {
	cat := categoryMap(state, ev.Category)
	switch ev.Type {
	case EventNew:
		cat[ev.Path] = FileState{SHA256: ev.SHA256, Blake3: ev.Blake3, Size: ev.Size, Mtime: ev.Mtime}
	case EventChanged:
		if _, ok := cat[ev.Path]; !ok {
			return fmt.Errorf("changed %q: no prior record", ev.Path)
		}
		cat[ev.Path] = FileState{SHA256: ev.SHA256, Blake3: ev.Blake3, Size: ev.Size, Mtime: ev.Mtime}
	case EventMove:
		from := ev.ExtraFrom()
		prior, ok := cat[from]
		if !ok {
			return fmt.Errorf("move %q: old path %q absent", ev.Path, from)
		}
		delete(cat, from)
		cat[ev.Path] = prior
	case EventDeleted:
		if _, ok := cat[ev.Path]; !ok {
			return fmt.Errorf("deleted %q: no prior record", ev.Path)
		}
		delete(cat, ev.Path)
	case EventConfig, EventComment, EventVerify:
		// No effect on file state.
	}
	return nil
}

func categoryMap(state map[string]map[string]FileState, category string) map[string]FileState {
	m, ok := state[category]
	if !ok {
		m = map[string]FileState{}
		state[category] = m
	}
	return m
}
