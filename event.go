package historify

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// EventType enumerates the change log row kinds in spec.md §3. It is a
// closed set by design (§9: "Dynamic dispatch on event type by string" is
// explicitly called out as something to replace with an exhaustive,
// compile-time-checked variant) — ParseEventType fails on anything else so
// that an unrecognized future type never gets silently misinterpreted.
type EventType string

const (
	EventClosing EventType = "closing"
	EventNew     EventType = "new"
	EventChanged EventType = "changed"
	EventMove    EventType = "move"
	EventDeleted EventType = "deleted"
	EventConfig  EventType = "config"
	EventComment EventType = "comment"
	EventVerify  EventType = "verify"
)

// ParseEventType validates s against the exhaustive set of known types.
// An unknown type is a LogCorrupt error: spec.md §4.4 requires that column
// additions stay forward-compatible, but a wholly new row *type* isn't a
// migration this version understands.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventClosing, EventNew, EventChanged, EventMove, EventDeleted, EventConfig, EventComment, EventVerify:
		return EventType(s), nil
	default:
		return "", wrap(KindLogCorrupt, "event: parse type", fmt.Errorf("unknown event type %q", s))
	}
}

// csvColumns is the fixed column order from spec.md §3. New algorithms
// extend this slice at the end; existing indices never move.
var csvColumns = []string{"timestamp", "type", "category", "path", "size", "ctime", "mtime", "sha256", "blake3", "extra"}

// Event is the in-memory, tagged-variant form of one change log row.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Category  string
	Path      string
	Size      int64
	Ctime     int64 // unix nanoseconds
	Mtime     int64 // unix nanoseconds
	SHA256    string
	Blake3    string
	Extra     string
}

// Digests returns the event's (sha256, blake3) pair.
func (e Event) Digests() Digests { return Digests{SHA256: e.SHA256, Blake3: e.Blake3} }

// extraKV parses the `key=value;key2=value2` micro-format used in the
// `extra` column.
func extraKV(extra string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(extra, ";") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func buildExtra(kv ...[2]string) string {
	parts := make([]string, 0, len(kv))
	for _, p := range kv {
		parts = append(parts, p[0]+"="+p[1])
	}
	return strings.Join(parts, ";")
}

// ExtraPrev returns the `prev=<filename>` value of a closing row's extra.
func (e Event) ExtraPrev() string { return extraKV(e.Extra)["prev"] }

// ExtraFrom returns the `from=<path>` value of a move row's extra.
func (e Event) ExtraFrom() string { return extraKV(e.Extra)["from"] }

// needsQuote reports whether a CSV field must be quoted under the strict
// dialect in spec.md §4.3: quoted whenever it contains `,`, `"`, or any
// whitespace.
func needsQuote(s string) bool {
	return strings.ContainsAny(s, ",\"") || strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// quoteField quotes and escapes a field per the dialect: `"` doubled,
// wrapped in `"..."`. Fields that don't need quoting are written bare.
func quoteField(s string) string {
	if !needsQuote(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' {
			b.WriteByte('"')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// MarshalCSV renders e as a single LF-terminated CSV line in the fixed
// column order, using the strict quoting dialect from spec.md §4.3 (not
// Go's encoding/csv default quoting rule, which is looser: it only quotes
// on comma/quote/CR/LF, not on arbitrary whitespace).
func (e Event) MarshalCSV() string {
	fields := []string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Type),
		e.Category,
		e.Path,
		strconv.FormatInt(e.Size, 10),
		strconv.FormatInt(e.Ctime, 10),
		strconv.FormatInt(e.Mtime, 10),
		e.SHA256,
		e.Blake3,
		e.Extra,
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteField(f)
	}
	return strings.Join(quoted, ",") + "\n"
}

// ParseEventRow parses one CSV record (already split into fields by a CSV
// reader) into an Event.
func ParseEventRow(fields []string) (Event, error) {
	if len(fields) < len(csvColumns) {
		return Event{}, wrap(KindLogCorrupt, "event: parse row", fmt.Errorf("expected >= %d fields, got %d", len(csvColumns), len(fields)))
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return Event{}, wrap(KindLogCorrupt, "event: parse timestamp", err)
	}
	typ, err := ParseEventType(fields[1])
	if err != nil {
		return Event{}, err
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Event{}, wrap(KindLogCorrupt, "event: parse size", err)
	}
	ctime, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return Event{}, wrap(KindLogCorrupt, "event: parse ctime", err)
	}
	mtime, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return Event{}, wrap(KindLogCorrupt, "event: parse mtime", err)
	}
	return Event{
		Timestamp: ts.UTC(),
		Type:      typ,
		Category:  fields[2],
		Path:      fields[3],
		Size:      size,
		Ctime:     ctime,
		Mtime:     mtime,
		SHA256:    fields[7],
		Blake3:    fields[8],
		Extra:     fields[9],
	}, nil
}

// eventReader streams Events out of a change log, one row read at a time
// (spec.md §5: "Logs are read streamingly; no full log is loaded at once
// beyond the row currently parsed").
type eventReader struct {
	r   *csv.Reader
	n   int
	eof bool
}

func newEventReader(r io.Reader) *eventReader {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = false
	return &eventReader{r: cr}
}

// Next returns the next Event, or io.EOF when the log is exhausted. A
// partially-written final row (the symptom of a crash mid-append) that no
// longer parses surfaces as a LogCorrupt error per spec.md §4.3; a final
// row that parses but lacks its LF is caught by LogStore.ReadAll.
func (er *eventReader) Next() (Event, error) {
	fields, err := er.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			er.eof = true
			return Event{}, io.EOF
		}
		return Event{}, wrap(KindLogCorrupt, "event: read row", err)
	}
	er.n++
	return ParseEventRow(fields)
}
