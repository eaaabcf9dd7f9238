package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"skycast.gg/internal/persistence/snapshot"
	"skycast.gg/internal/protocol"
)

// Verifies a realm's persisted record: prints the snapshot header and walks
// the compressed event logs checking that cursors are present, strictly
// increasing and gap-free past the snapshot's cursor.
func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		fromCursor = flag.Uint64("from_cursor", 0, "start verifying from cursor (exclusive, optional)")
		toCursor   = flag.Uint64("to_cursor", 0, "stop at cursor (inclusive, optional)")
	)
	flag.Parse()

	startCursor := *fromCursor

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d realm=%s sequence=%d accounts=%d quests=%d progress=%d assets=%d achievements=%d unlocks=%d event_cursor=%d\n",
			snap.Header.Version, snap.Header.RealmID, snap.Header.Sequence,
			len(snap.Accounts), len(snap.Quests), len(snap.Progress),
			len(snap.Assets), len(snap.Achievements), len(snap.Unlocks), snap.EventCursor)
		if startCursor == 0 {
			startCursor = snap.EventCursor
		}
	}

	if *eventsDir == "" {
		return
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	var (
		checked uint64
		last    uint64
		byName  = map[string]uint64{}
	)
	for _, path := range files {
		done, err := verifyFile(path, startCursor, *toCursor, &checked, &last, byName)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		if done {
			break
		}
	}

	fmt.Printf("events ok: checked=%d last_cursor=%d\n", checked, last)
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("  %-22s %d\n", n, byName[n])
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type eventRecord struct {
	Cursor uint64         `json:"cursor"`
	Event  protocol.Event `json:"event"`
}

func verifyFile(path string, fromCursor, toCursor uint64, checked, last *uint64, byName map[string]uint64) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var rec eventRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return false, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if rec.Cursor <= fromCursor {
			continue
		}
		if toCursor != 0 && rec.Cursor > toCursor {
			return true, nil
		}
		if rec.Event.Name == "" {
			return false, fmt.Errorf("cursor %d: empty event name (file=%s)", rec.Cursor, filepath.Base(path))
		}
		if *last != 0 && rec.Cursor != *last+1 {
			return false, fmt.Errorf("cursor gap: want=%d got=%d (file=%s)", *last+1, rec.Cursor, filepath.Base(path))
		}
		*last = rec.Cursor
		*checked++
		byName[rec.Event.Name]++
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	return false, nil
}
