package historify

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kwinsch/historify/internal/xlog"
)

// Category is a named, rooted view of a filesystem subtree (spec.md §3).
type Category struct {
	Name string
	Root string // absolute path
}

// candidate is a file observed during a walk, before move-pairing decides
// whether it becomes its own new/deleted row or half of a move.
type candidate struct {
	path  string // category-relative, POSIX-style
	size  int64
	mtime int64
	d     Digests
}

// Scanner walks a category tree, compares it to reconstructed prior state,
// and emits a totally ordered sequence of change events (spec.md §4.5).
type Scanner struct {
	hasher *Hasher
	log    xlog.Logger
}

// NewScanner builds a Scanner. log may be xlog.Nop().
func NewScanner(h *Hasher, log xlog.Logger) *Scanner {
	if log == nil {
		log = xlog.Nop()
	}
	return &Scanner{hasher: h, log: log}
}

// ScanResult is one scan's output.
type ScanResult struct {
	Events        []Event
	CorrelationID string // in-process only; never written to the CSV rows
}

// Scan walks cat.Root, comparing it against prior (the category's
// reconstructed last-known state), and returns the ordered events for this
// scan. excludeAbs lists absolute directory paths (the repository's
// metadata and changes directories) that must never be descended into,
// even if nested inside the category root (spec.md §9, mandatory not
// best-effort). alreadySkipped is the set of category-relative paths this
// category has already emitted a "non-tracked entry" comment for, so a
// repeated scan of an unchanged tree emits nothing new for it (spec.md §8
// property 7).
func (sc *Scanner) Scan(cat Category, prior map[string]FileState, excludeAbs []string, alreadySkipped map[string]bool, now time.Time) (ScanResult, error) {
	correlationID := uuid.NewString()
	sc.log.Debug("scan_start", "category", cat.Name, "root", cat.Root, "correlation_id", correlationID)

	seen := map[string]bool{}
	var newCandidates []candidate
	var unchangedOrModified []Event // `changed` events ready to emit directly
	var skipComments []Event

	walkErr := filepath.WalkDir(cat.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return wrap(KindIOError, "scan: walk", err)
		}
		for _, ex := range excludeAbs {
			if path == ex {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(cat.Root, path)
		if relErr != nil {
			return wrap(KindIOError, "scan: relpath", relErr)
		}
		rel = filepath.ToSlash(rel)

		info, infoErr := d.Info()
		if infoErr != nil {
			return wrap(KindIOError, "scan: lstat", infoErr)
		}

		if !info.Mode().IsRegular() {
			seen[rel] = true
			if !alreadySkipped[rel] {
				skipComments = append(skipComments, Event{
					Type:     EventComment,
					Category: cat.Name,
					Path:     rel,
					Extra:    buildExtra([2]string{"msg", "skip-nontracked"}, [2]string{"mode", info.Mode().String()}),
				})
			}
			return nil
		}

		seen[rel] = true
		size := info.Size()
		mtime := info.ModTime().UnixNano()

		priorState, known := prior[rel]
		switch {
		case !known:
			d, err := sc.hasher.HashFile(path)
			if err != nil {
				return err
			}
			newCandidates = append(newCandidates, candidate{path: rel, size: size, mtime: mtime, d: d})
		case priorState.Size == size && priorState.Mtime == mtime:
			// assumed unchanged; not hashed (spec.md §4.5 step 3)
		default:
			d, err := sc.hasher.HashFile(path)
			if err != nil {
				return err
			}
			if d.SHA256 == priorState.SHA256 && d.Blake3 == priorState.Blake3 {
				// content identical despite size/mtime drift (e.g. touch); no event
				return nil
			}
			unchangedOrModified = append(unchangedOrModified, Event{
				Category: cat.Name, Path: rel, Size: size, Mtime: mtime, Ctime: mtime,
				SHA256: d.SHA256, Blake3: d.Blake3, Type: EventChanged,
			})
		}
		return nil
	})
	if walkErr != nil {
		return ScanResult{}, walkErr
	}

	var deletedCandidates []candidate
	for p, st := range prior {
		if seen[p] {
			continue
		}
		deletedCandidates = append(deletedCandidates, candidate{path: p, size: st.Size, mtime: st.Mtime, d: Digests{SHA256: st.SHA256, Blake3: st.Blake3}})
	}

	moves, unmatchedNew, unmatchedDel := pairMoves(newCandidates, deletedCandidates)

	var events []Event
	for _, e := range unchangedOrModified {
		e.Timestamp = now
		events = append(events, e)
	}
	for _, c := range unmatchedNew {
		events = append(events, Event{
			Category: cat.Name, Path: c.path, Size: c.size, Mtime: c.mtime, Ctime: c.mtime,
			SHA256: c.d.SHA256, Blake3: c.d.Blake3, Type: EventNew, Timestamp: now,
		})
	}
	for _, m := range moves {
		events = append(events, Event{
			Category: cat.Name, Path: m.to.path, Size: m.to.size, Mtime: m.to.mtime, Ctime: m.to.mtime,
			SHA256: m.from.d.SHA256, Blake3: m.from.d.Blake3, Type: EventMove,
			Extra: buildExtra([2]string{"from", m.from.path}), Timestamp: now,
		})
	}
	for _, c := range unmatchedDel {
		events = append(events, Event{
			Category: cat.Name, Path: c.path, Size: c.size, Mtime: c.mtime,
			SHA256: c.d.SHA256, Blake3: c.d.Blake3, Type: EventDeleted, Timestamp: now,
		})
	}
	for _, e := range skipComments {
		e.Timestamp = now
		events = append(events, e)
	}

	sortEvents(events)

	sc.log.Info("scan_done", "category", cat.Name, "events", len(events), "correlation_id", correlationID)
	return ScanResult{Events: events, CorrelationID: correlationID}, nil
}

type movePair struct{ from, to candidate }

// pairMoves implements spec.md §4.5's move-detection heuristic: pair new
// and deleted candidates that share a blake3 digest; when a hash has more
// than one candidate on either side, the pair with the longest shared path
// prefix wins, and remaining ambiguity resolves by lexicographic order of
// the new path. Everything left over becomes its own new/deleted event.
func pairMoves(newC, delC []candidate) (moves []movePair, remainingNew, remainingDel []candidate) {
	newByHash := map[string][]candidate{}
	for _, c := range newC {
		newByHash[c.d.Blake3] = append(newByHash[c.d.Blake3], c)
	}
	delByHash := map[string][]candidate{}
	for _, c := range delC {
		delByHash[c.d.Blake3] = append(delByHash[c.d.Blake3], c)
	}

	usedNew := map[string]bool{}
	usedDel := map[string]bool{}

	hashes := make([]string, 0, len(newByHash))
	for h := range newByHash {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, h := range hashes {
		ns, ok := newByHash[h]
		if !ok {
			continue
		}
		ds, ok := delByHash[h]
		if !ok {
			continue
		}
		type candPair struct {
			ni, di int
			shared int
		}
		var pairs []candPair
		for ni, n := range ns {
			for di, d := range ds {
				pairs = append(pairs, candPair{ni, di, sharedPrefixLen(n.path, d.path)})
			}
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].shared != pairs[j].shared {
				return pairs[i].shared > pairs[j].shared
			}
			if ns[pairs[i].ni].path != ns[pairs[j].ni].path {
				return ns[pairs[i].ni].path < ns[pairs[j].ni].path
			}
			return ds[pairs[i].di].path < ds[pairs[j].di].path
		})
		usedNiLocal := map[int]bool{}
		usedDiLocal := map[int]bool{}
		for _, p := range pairs {
			if usedNiLocal[p.ni] || usedDiLocal[p.di] {
				continue
			}
			usedNiLocal[p.ni] = true
			usedDiLocal[p.di] = true
			moves = append(moves, movePair{from: ds[p.di], to: ns[p.ni]})
			usedNew[ns[p.ni].path] = true
			usedDel[ds[p.di].path] = true
		}
	}

	for _, c := range newC {
		if !usedNew[c.path] {
			remainingNew = append(remainingNew, c)
		}
	}
	for _, c := range delC {
		if !usedDel[c.path] {
			remainingDel = append(remainingDel, c)
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].to.path < moves[j].to.path })
	return moves, remainingNew, remainingDel
}

func sharedPrefixLen(a, b string) int {
	da := filepath.Dir(a)
	db := filepath.Dir(b)
	n := 0
	for n < len(da) && n < len(db) && da[n] == db[n] {
		n++
	}
	return n
}

var eventTypeRank = map[EventType]int{
	EventNew:     0,
	EventChanged: 1,
	EventMove:    2,
	EventDeleted: 3,
}

// sortEvents applies spec.md §4.5's ordering: (category, path) with
// new > changed > move > deleted as a tiebreak.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return eventTypeRank[a.Type] < eventTypeRank[b.Type]
	})
}

// DuplicateGroup is a set of category-relative paths that currently share
// a blake3 digest (spec.md §4.5's read-only duplicate-detection op).
type DuplicateGroup struct {
	Blake3 string
	Paths  []string // "category:path"
}

// FindDuplicates groups the reconstructed state by blake3 digest and
// reports every group with more than one member. It performs no writes.
func FindDuplicates(state map[string]map[string]FileState, categoryFilter string) []DuplicateGroup {
	byHash := map[string][]string{}
	for cat, files := range state {
		if categoryFilter != "" && cat != categoryFilter {
			continue
		}
		for path, fs := range files {
			key := fmt.Sprintf("%s:%s", cat, path)
			byHash[fs.Blake3] = append(byHash[fs.Blake3], key)
		}
	}
	var out []DuplicateGroup
	for h, paths := range byHash {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		out = append(out, DuplicateGroup{Blake3: h, Paths: paths})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Blake3 < out[j].Blake3 })
	return out
}

// skippedSpecials collects, per category, the set of relative paths
// already reported by a "skip-nontracked" comment somewhere in the chain.
func skippedSpecials(events []Event) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	for _, ev := range events {
		if ev.Type != EventComment || ev.Category == "" || ev.Path == "" {
			continue
		}
		kv := extraKV(ev.Extra)
		if kv["msg"] != "skip-nontracked" {
			continue
		}
		m, ok := out[ev.Category]
		if !ok {
			m = map[string]bool{}
			out[ev.Category] = m
		}
		m[ev.Path] = true
	}
	return out
}
