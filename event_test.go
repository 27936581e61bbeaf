package historify

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func TestEvent_MarshalParseRoundTrip(t *testing.T) {
	ev := Event{
		Timestamp: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		Type:      EventNew,
		Category:  "documents",
		Path:      "a report, final.docx",
		Size:      1024,
		Ctime:     1,
		Mtime:     2,
		SHA256:    "deadbeef",
		Blake3:    "cafebabe",
		Extra:     "",
	}
	line := ev.MarshalCSV()

	fields := splitCSVLine(t, line)
	parsed, err := ParseEventRow(fields)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Category != ev.Category || parsed.Path != ev.Path || parsed.Size != ev.Size {
		t.Errorf("round trip mismatch: got %+v", parsed)
	}
}

func TestParseEventType_RejectsUnknown(t *testing.T) {
	if _, err := ParseEventType("bogus"); err == nil {
		t.Error("expected an error for an unrecognized event type")
	}
}

func TestEvent_ExtraPrevAndFrom(t *testing.T) {
	ev := Event{Extra: buildExtra([2]string{"prev", "changelog-2026-07-29.csv"})}
	if got := ev.ExtraPrev(); got != "changelog-2026-07-29.csv" {
		t.Errorf("ExtraPrev: got %q", got)
	}
	mv := Event{Extra: buildExtra([2]string{"from", "old/path.txt"})}
	if got := mv.ExtraFrom(); got != "old/path.txt" {
		t.Errorf("ExtraFrom: got %q", got)
	}
}

func TestNeedsQuote_Whitespace(t *testing.T) {
	ev := Event{Path: "has space.txt", Type: EventNew}
	line := ev.MarshalCSV()
	if !strings.Contains(line, `,"has space.txt",`) {
		t.Errorf("expected a path with whitespace to be quoted, got %q", line)
	}
	fields := splitCSVLine(t, line)
	if fields[3] != "has space.txt" {
		t.Errorf("unexpected parsed path %q", fields[3])
	}
}

// splitCSVLine is a tiny test helper around encoding/csv so these tests
// don't need to import it directly in more than one place.
func splitCSVLine(t *testing.T, line string) []string {
	t.Helper()
	r := csv.NewReader(strings.NewReader(line))
	fields, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	return fields
}
