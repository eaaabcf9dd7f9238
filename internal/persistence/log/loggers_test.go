package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"skycast.gg/internal/protocol"
	"skycast.gg/internal/realm"
)

func readJSONL(t *testing.T, dir string) [][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var lines [][]byte
	for _, e := range entries {
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("open %s: %v", e.Name(), err)
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("zstd %s: %v", e.Name(), err)
		}
		sc := bufio.NewScanner(dec)
		for sc.Scan() {
			line := make([]byte, len(sc.Bytes()))
			copy(line, sc.Bytes())
			lines = append(lines, line)
		}
		dec.Close()
		f.Close()
		if err := sc.Err(); err != nil {
			t.Fatalf("scan %s: %v", e.Name(), err)
		}
	}
	return lines
}

func TestEventLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)

	l.RecordEvent(1, protocol.Event{Name: protocol.EvWeatherUpdated, Zone: 2, Weather: "FOG", Sequence: 5})
	l.RecordEvent(2, protocol.Event{Name: protocol.EvAssetMinted, TokenID: 1, Owner: "ada"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readJSONL(t, filepath.Join(dir, "events"))
	if len(lines) != 2 {
		t.Fatalf("lines %d", len(lines))
	}
	var rec eventRecord
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Cursor != 1 || rec.Event.Name != protocol.EvWeatherUpdated || rec.Event.Zone != 2 {
		t.Fatalf("record %+v", rec)
	}
}

func TestAuditLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)

	entry := realm.AuditEntry{
		At:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Actor: "mallory",
		Op:    protocol.OpFundPool,
		Code:  protocol.ErrUnauthorized,
	}
	if err := l.WriteAudit(entry); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readJSONL(t, filepath.Join(dir, "audit"))
	if len(lines) != 1 {
		t.Fatalf("lines %d", len(lines))
	}
	var got realm.AuditEntry
	if err := json.Unmarshal(lines[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Actor != "mallory" || got.Code != protocol.ErrUnauthorized || !got.At.Equal(entry.At) {
		t.Fatalf("entry %+v", got)
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "test")
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening within the same hour appends a second zstd frame to the
	// same file; frame-aware readers see both lines.
	w = NewJSONLZstdWriter(dir, "test")
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("reclose: %v", err)
	}

	lines := readJSONL(t, dir)
	if len(lines) != 2 {
		t.Fatalf("lines %d", len(lines))
	}
}
