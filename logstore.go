package historify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// logFilePrefix and logFileSuffix bound the filenames LogStore manages:
// changelog-YYYY-MM-DD.csv, or changelog-YYYY-MM-DD-N.csv for same-day
// reopenings (spec.md §4.6 step 4).
const (
	logFilePrefix = "changelog-"
	logFileSuffix = ".csv"
	sigSuffix     = ".sig"
)

// LogFile describes one entry in the changes directory.
type LogFile struct {
	Name   string // base filename, e.g. "changelog-2026-07-30.csv"
	Path   string // absolute path
	Closed bool   // has a sibling .sig
}

// LogStore is the append-only reader/writer for daily CSV change logs
// (spec.md §4.3). It enforces the single-open-log invariant and performs
// line-atomic appends.
type LogStore struct {
	dir string
	mu  sync.Mutex
}

// NewLogStore opens the changes directory, creating it if absent.
func NewLogStore(dir string) (*LogStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, wrap(KindIOError, "logstore: mkdir", err)
	}
	return &LogStore{dir: dir}, nil
}

// List returns every log in the changes directory in creation order: by
// date, then by same-day sequence number (see logNameKey).
func (s *LogStore) List() ([]LogFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wrap(KindIOError, "logstore: readdir", err)
	}
	names := make([]string, 0, len(entries))
	sigs := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		switch {
		case strings.HasSuffix(n, logFileSuffix) && strings.HasPrefix(n, logFilePrefix):
			names = append(names, n)
		case strings.HasSuffix(n, logFileSuffix+sigSuffix) && strings.HasPrefix(n, logFilePrefix):
			sigs[strings.TrimSuffix(n, sigSuffix)] = true
		}
	}
	sort.Slice(names, func(i, j int) bool { return logNameLess(names[i], names[j]) })
	out := make([]LogFile, 0, len(names))
	for _, n := range names {
		out = append(out, LogFile{
			Name:   n,
			Path:   filepath.Join(s.dir, n),
			Closed: sigs[n],
		})
	}
	return out, nil
}

// logNameKey splits a log filename into its date and same-day sequence
// number (0 for the unsuffixed, first-of-the-day name), so names sort in
// creation order rather than plain byte order: plain string sort would put
// "changelog-2026-07-30-2.csv" before "changelog-2026-07-30.csv", since '-'
// sorts below '.'.
func logNameKey(name string) (date string, seq int) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), logFileSuffix)
	if len(trimmed) > 10 && trimmed[10] == '-' {
		n, err := strconv.Atoi(trimmed[11:])
		if err == nil {
			return trimmed[:10], n
		}
	}
	return trimmed, 0
}

func logNameLess(a, b string) bool {
	da, sa := logNameKey(a)
	db, sb := logNameKey(b)
	if da != db {
		return da < db
	}
	return sa < sb
}

// Open returns the single open (unsigned) log. Zero or more than one open
// log after a List is a fatal ChainBroken error per spec.md §4.3 — the
// system cannot scan in that state.
func (s *LogStore) Open() (LogFile, error) {
	logs, err := s.List()
	if err != nil {
		return LogFile{}, err
	}
	var open []LogFile
	for _, l := range logs {
		if !l.Closed {
			open = append(open, l)
		}
	}
	switch len(open) {
	case 0:
		return LogFile{}, wrap(KindChainBroken, "logstore: open", errors.New("no open log found"))
	case 1:
		return open[0], nil
	default:
		names := make([]string, len(open))
		for i, l := range open {
			names[i] = l.Name
		}
		return LogFile{}, wrap(KindChainBroken, "logstore: open",
			fmt.Errorf("more than one open log: %s", strings.Join(names, ", ")))
	}
}

// NameForDate returns the canonical filename for a new log created on day
// d, applying a monotonic "-2, -3, ..." suffix if that date's name (or a
// previous suffix of it) is already taken (spec.md §4.6 step 4).
func (s *LogStore) NameForDate(d time.Time) (string, error) {
	base := fmt.Sprintf("%s%s%s", logFilePrefix, d.UTC().Format("2006-01-02"), logFileSuffix)
	if _, err := os.Stat(filepath.Join(s.dir, base)); errors.Is(err, os.ErrNotExist) {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s%s-%d%s", logFilePrefix, d.UTC().Format("2006-01-02"), n, logFileSuffix)
		if _, err := os.Stat(filepath.Join(s.dir, candidate)); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
	}
}

// Create creates a new, empty log file exclusively (it must not already
// exist) and returns its path.
func (s *LogStore) Create(name string) (string, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", wrap(KindIOError, "logstore: create", err)
	}
	_ = f.Close()
	return path, nil
}

// ReadAll streams every Event in the log at path, in file order.
func (s *LogStore) ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap(KindIOError, "logstore: open for read", err)
	}
	defer f.Close()

	er := newEventReader(f)
	var out []Event
	for {
		ev, err := er.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		out = append(out, ev)
	}
	// Every appended row ends in LF; a log whose last byte is anything else
	// holds a partially-written final row.
	fi, err := f.Stat()
	if err != nil {
		return nil, wrap(KindIOError, "logstore: stat for read", err)
	}
	if fi.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
			return nil, wrap(KindIOError, "logstore: read tail", err)
		}
		if last[0] != '\n' {
			return nil, wrap(KindLogCorrupt, "logstore: read", fmt.Errorf("%s: final row is not LF-terminated", filepath.Base(path)))
		}
	}
	return out, nil
}

// LastTimestamp returns the timestamp of the final row in path, or the
// zero time if the log is empty.
func (s *LogStore) LastTimestamp(path string) (time.Time, error) {
	events, err := s.ReadAll(path)
	if err != nil {
		return time.Time{}, err
	}
	if len(events) == 0 {
		return time.Time{}, nil
	}
	return events[len(events)-1].Timestamp, nil
}

// Append appends one batch of events to the log at path as a single
// line-atomic write (spec.md §5: "partial event batches are never
// written... flushed atomically at the end of the scan"). Timestamps that
// would go backwards relative to the log's last row are clamped forward
// and a `comment` row documents the clamp (spec.md §4.3), rather than
// silently rewriting history.
func (s *LogStore) Append(path string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.LastTimestamp(path)
	if err != nil {
		return err
	}

	var b strings.Builder
	for i := range events {
		e := &events[i]
		if !last.IsZero() && e.Timestamp.Before(last) {
			clamp := Event{
				Timestamp: last,
				Type:      EventComment,
				Extra:     buildExtra([2]string{"msg", fmt.Sprintf("clock moved backward, clamped from %s", e.Timestamp.UTC().Format(time.RFC3339Nano))}),
			}
			b.WriteString(clamp.MarshalCSV())
			e.Timestamp = last
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
		b.WriteString(e.MarshalCSV())
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return wrap(KindIOError, "logstore: append open", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return wrap(KindIOError, "logstore: flock", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	data := []byte(b.String())
	n, err := f.Write(data)
	if err != nil {
		return wrap(KindIOError, "logstore: append write", err)
	}
	if n != len(data) {
		return wrap(KindLogCorrupt, "logstore: append write", fmt.Errorf("short write: %d of %d bytes", n, len(data)))
	}
	return wrap(KindIOError, "logstore: sync", f.Sync())
}

// SigPath returns the sibling signature path for a log file.
func SigPath(logPath string) string { return logPath + sigSuffix }
