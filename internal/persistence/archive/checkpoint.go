package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"skycast.gg/internal/persistence/snapshot"
)

type CheckpointMeta struct {
	Checkpoint int    `json:"checkpoint"`
	Sequence   uint64 `json:"sequence"`
	RealmID    string `json:"realm_id"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	Accounts   int    `json:"accounts"`
	Assets     int    `json:"assets"`
	Quests     int    `json:"quests"`
}

// ArchiveCheckpoint copies a snapshot into `realmDir/archives/checkpoint_<NNN>/`
// when its oracle sequence crosses a multiple of interval. Routine snapshots
// get rotated away; archived checkpoints are kept forever, so operators can
// reconstruct the realm at coarse points of its history.
// Returns (checkpoint, archivedPath, archived=true) when the snapshot was a
// checkpoint boundary.
func ArchiveCheckpoint(realmDir string, interval uint64, snapshotPath string, snap snapshot.RealmV1) (int, string, bool, error) {
	if interval == 0 {
		return 0, "", false, nil
	}
	seq := snap.Header.Sequence
	if seq == 0 || seq%interval != 0 {
		return 0, "", false, nil
	}
	checkpoint := int(seq / interval)

	archiveDir := filepath.Join(realmDir, "archives", fmt.Sprintf("checkpoint_%03d", checkpoint))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := CheckpointMeta{
		Checkpoint: checkpoint,
		Sequence:   seq,
		RealmID:    snap.Header.RealmID,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Accounts:   len(snap.Accounts),
		Assets:     len(snap.Assets),
		Quests:     len(snap.Quests),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return checkpoint, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
