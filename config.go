package historify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// configFileName and configCSVName are the two on-disk artifacts of the
// configuration store (spec.md §6): the INI file is authoritative, the CSV
// is a grep/diff-friendly derived mirror rewritten on every change.
const (
	configFileName    = "config"
	configCSVFileName = "config.csv"
)

var categoryKeyPattern = regexp.MustCompile(`^category\.([A-Za-z0-9_-]+)\.(path|description)$`)

// recognizedStaticKeys is the fixed, non-category part of spec.md §6's
// configuration key table.
var recognizedStaticKeys = map[string]bool{
	"hash.algorithms":   true,
	"minisign.key":      true,
	"minisign.pub":      true,
	"changes.directory": true,
	"iso.publisher":     true,
	"time.resolution":   true,
}

// immutableKeys may be set once (typically at init) and never changed
// afterward; spec.md's resolved open question fixes time.resolution for
// the life of the repository.
var immutableKeys = map[string]bool{
	"time.resolution": true,
}

// Config is the repository's key/value store, addressed `section.option`
// exactly as spec.md §6 describes (`category.<name>.path`, ...). It is
// backed by an INI file and mirrors every change into a CSV file for
// grep/diff-friendliness.
type Config struct {
	mu      sync.Mutex
	dir     string
	path    string
	csvPath string
}

// NewConfig binds a Config to its repository's db directory. The files need
// not exist yet; Load treats an absent config file as empty.
func NewConfig(dbDir string) *Config {
	return &Config{
		dir:     dbDir,
		path:    filepath.Join(dbDir, configFileName),
		csvPath: filepath.Join(dbDir, configCSVFileName),
	}
}

// recognizedKey reports whether key is part of spec.md §6's recognized
// set: the fixed static keys, or a `category.<name>.(path|description)`
// key for any validly-named category.
func recognizedKey(key string) bool {
	if recognizedStaticKeys[key] {
		return true
	}
	return categoryKeyPattern.MatchString(key)
}

// load reads the INI file, returning an empty *ini.File if it doesn't
// exist yet.
func (c *Config) load() (*ini.File, error) {
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		return ini.Empty(), nil
	}
	f, err := ini.Load(c.path)
	if err != nil {
		return nil, wrap(KindConfigError, "config: load", err)
	}
	return f, nil
}

// Get returns the value stored at section.option, and whether it was set.
func (c *Config) Get(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	section, option, err := splitKey(key)
	if err != nil {
		return "", false, err
	}
	f, err := c.load()
	if err != nil {
		return "", false, err
	}
	if !f.HasSection(section) {
		return "", false, nil
	}
	sec := f.Section(section)
	if !sec.HasKey(option) {
		return "", false, nil
	}
	return sec.Key(option).String(), true, nil
}

// Set validates key against the recognized set, rejects an attempt to
// change an already-set immutable key, and — only once that validation
// passes — writes both the INI file and its CSV mirror (spec.md §7:
// "Administrative errors ... rejected before any write").
func (c *Config) Set(key, value string) error {
	if !recognizedKey(key) {
		return wrap(KindConfigError, "config: set", fmt.Errorf("unrecognized configuration key %q", key))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	section, option, err := splitKey(key)
	if err != nil {
		return err
	}
	f, err := c.load()
	if err != nil {
		return err
	}
	if immutableKeys[key] && f.HasSection(section) && f.Section(section).HasKey(option) {
		existing := f.Section(section).Key(option).String()
		if existing != value {
			return wrap(KindConfigError, "config: set", fmt.Errorf("%q is immutable once set (currently %q)", key, existing))
		}
		return nil
	}

	f.Section(section).Key(option).SetValue(value)
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return wrap(KindIOError, "config: set mkdir", err)
	}
	if err := f.SaveTo(c.path); err != nil {
		return wrap(KindIOError, "config: save ini", err)
	}
	return c.mirrorCSV(f)
}

// mirrorCSV rewrites the derived config.csv from the current INI contents,
// one row per recognized key, sorted for determinism.
func (c *Config) mirrorCSV(f *ini.File) error {
	type row struct{ key, value string }
	var rows []row
	for _, sec := range f.Sections() {
		for _, k := range sec.Keys() {
			key := k.Name()
			if sec.Name() != ini.DefaultSection {
				key = sec.Name() + "." + k.Name()
			}
			if !recognizedKey(key) {
				continue
			}
			rows = append(rows, row{key: key, value: k.String()})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })

	out, err := os.OpenFile(c.csvPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return wrap(KindIOError, "config: mirror csv", err)
	}
	defer out.Close()
	w := csv.NewWriter(out)
	if err := w.Write([]string{"key", "value"}); err != nil {
		return wrap(KindIOError, "config: mirror csv", err)
	}
	for _, r := range rows {
		if err := w.Write([]string{r.key, r.value}); err != nil {
			return wrap(KindIOError, "config: mirror csv", err)
		}
	}
	w.Flush()
	return wrap(KindIOError, "config: mirror csv flush", w.Error())
}

// Categories returns every configured category, derived from
// `category.<name>.path` keys. The sibling `.description` keys are not
// read here.
func (c *Config) Categories() ([]Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.load()
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	for _, sec := range f.Sections() {
		for _, k := range sec.Keys() {
			key := k.Name()
			if sec.Name() != ini.DefaultSection {
				key = sec.Name() + "." + k.Name()
			}
			m := categoryKeyPattern.FindStringSubmatch(key)
			if m == nil || m[2] != "path" {
				continue
			}
			names[m[1]] = k.String()
		}
	}
	out := make([]Category, 0, len(names))
	for name, path := range names {
		out = append(out, Category{Name: name, Root: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HashAlgorithms returns the configured algorithm list (default
// "blake3,sha256" per spec.md §3), first entry primary.
func (c *Config) HashAlgorithms() ([]string, error) {
	v, ok, err := c.Get("hash.algorithms")
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return []string{"blake3", "sha256"}, nil
	}
	var out []string
	for _, a := range strings.Split(v, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

// splitKey validates and splits a `section.option` key per spec.md §6.
func splitKey(key string) (section, option string, err error) {
	i := strings.Index(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", wrap(KindConfigError, "config: split key", fmt.Errorf("malformed key %q, want section.option", key))
	}
	// category.<name>.<field> has two dots; section is "category.<name>".
	if strings.HasPrefix(key, "category.") {
		last := strings.LastIndex(key, ".")
		return key[:last], key[last+1:], nil
	}
	return key[:i], key[i+1:], nil
}
