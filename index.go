package historify

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
)

// indexColumns is the fixed column order of the derived integrity index
// (spec.md §4.8, on-disk as db/integrity.csv).
var indexColumns = []string{"category", "path", "sha256", "blake3", "size", "mtime"}

// IntegrityIndex is the optional, regeneratable cache of
// (category, path) -> last-hash described in spec.md §4.8. It is never a
// source of truth: any conflict with the logs resolves in favor of the
// logs, and IntegrityIndex.Rebuild always wins over whatever was on disk.
type IntegrityIndex struct {
	path string
}

// NewIntegrityIndex binds an IntegrityIndex to its on-disk path (typically
// <repo>/db/integrity.csv); the file need not exist yet.
func NewIntegrityIndex(path string) *IntegrityIndex {
	return &IntegrityIndex{path: path}
}

// Rebuild regenerates the index file from a Reconstruction, deterministically
// (spec.md §4.8: "Rebuilt deterministically by the State Reconstructor").
func (ix *IntegrityIndex) Rebuild(r Reconstruction) error {
	f, err := os.OpenFile(ix.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return wrap(KindIOError, "index: rebuild", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(indexColumns); err != nil {
		return wrap(KindIOError, "index: rebuild", err)
	}
	cats := sortedKeys(r.State)
	for _, cat := range cats {
		paths := sortedFileKeys(r.State[cat])
		for _, p := range paths {
			st := r.State[cat][p]
			row := []string{cat, p, st.SHA256, st.Blake3, strconv.FormatInt(st.Size, 10), strconv.FormatInt(st.Mtime, 10)}
			if err := w.Write(row); err != nil {
				return wrap(KindIOError, "index: rebuild", err)
			}
		}
	}
	w.Flush()
	return wrap(KindIOError, "index: rebuild flush", w.Error())
}

// Load reads the index file, returning (nil, KindIndexCorrupt) if it exists
// but doesn't parse, and (nil, nil) if it doesn't exist at all (the index
// is optional).
func (ix *IntegrityIndex) Load() (map[string]map[string]FileState, error) {
	f, err := os.Open(ix.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, wrap(KindIOError, "index: load", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		return nil, wrap(KindIndexCorrupt, "index: load header", err)
	}
	if len(header) < len(indexColumns) {
		return nil, wrap(KindIndexCorrupt, "index: load header", errors.New("unexpected column count"))
	}

	state := map[string]map[string]FileState{}
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrap(KindIndexCorrupt, "index: load row", err)
		}
		if len(rec) < len(indexColumns) {
			return nil, wrap(KindIndexCorrupt, "index: load row", errors.New("short row"))
		}
		size, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			return nil, wrap(KindIndexCorrupt, "index: load row", err)
		}
		mtime, err := strconv.ParseInt(rec[5], 10, 64)
		if err != nil {
			return nil, wrap(KindIndexCorrupt, "index: load row", err)
		}
		m := categoryMap(state, rec[0])
		m[rec[1]] = FileState{SHA256: rec[2], Blake3: rec[3], Size: size, Mtime: mtime}
	}
	return state, nil
}

// Equal reports whether the index's on-disk state matches a freshly
// reconstructed one exactly (spec.md §8 property 3).
func (ix *IntegrityIndex) Equal(r Reconstruction) (bool, error) {
	loaded, err := ix.Load()
	if err != nil {
		return false, err
	}
	if loaded == nil {
		return false, nil
	}
	// A category with no live files has no rows on disk, so it only counts
	// when it holds at least one file.
	live := 0
	for _, files := range r.State {
		if len(files) > 0 {
			live++
		}
	}
	if len(loaded) != live {
		return false, nil
	}
	for cat, files := range r.State {
		if len(files) == 0 {
			continue
		}
		lf, ok := loaded[cat]
		if !ok || len(lf) != len(files) {
			return false, nil
		}
		for p, st := range files {
			if lf[p] != st {
				return false, nil
			}
		}
	}
	return true, nil
}

func sortedKeys(m map[string]map[string]FileState) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedFileKeys(m map[string]FileState) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
