package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"skycast.gg/internal/persistence/snapshot"
)

func writeSnap(t *testing.T, dir string, seq uint64) (string, snapshot.RealmV1) {
	t.Helper()
	snap := snapshot.RealmV1{
		Header:   snapshot.Header{Version: 1, RealmID: "realm_1", Sequence: seq},
		Accounts: []snapshot.AccountV1{{Owner: "ada", Balance: 10}},
	}
	path := filepath.Join(dir, "snapshots", "current.snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path, snap
}

func TestArchiveCheckpointAtBoundary(t *testing.T) {
	dir := t.TempDir()
	path, snap := writeSnap(t, dir, 200)

	checkpoint, archived, ok, err := ArchiveCheckpoint(dir, 100, path, snap)
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	if checkpoint != 2 {
		t.Fatalf("checkpoint = %d", checkpoint)
	}
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archived copy: %v", err)
	}
	got, err := snapshot.ReadSnapshot(archived)
	if err != nil || got.Header.Sequence != 200 {
		t.Fatalf("read archived: %+v err=%v", got.Header, err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "archives", "checkpoint_002", "meta.json"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	var meta CheckpointMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.Sequence != 200 || meta.RealmID != "realm_1" || meta.Accounts != 1 {
		t.Fatalf("meta %+v", meta)
	}
}

func TestArchiveCheckpointSkipsOffBoundary(t *testing.T) {
	dir := t.TempDir()
	path, snap := writeSnap(t, dir, 150)

	if _, _, ok, err := ArchiveCheckpoint(dir, 100, path, snap); ok || err != nil {
		t.Fatalf("off-boundary: ok=%v err=%v", ok, err)
	}
	// Interval zero disables archiving entirely.
	if _, _, ok, err := ArchiveCheckpoint(dir, 0, path, snap); ok || err != nil {
		t.Fatalf("disabled: ok=%v err=%v", ok, err)
	}
}
