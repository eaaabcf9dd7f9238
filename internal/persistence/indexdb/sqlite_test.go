package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"skycast.gg/internal/catalogs"
	"skycast.gg/internal/persistence/snapshot"
	"skycast.gg/internal/protocol"
	"skycast.gg/internal/realm"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return idx, path
}

func queryOne[T any](t *testing.T, path, query string, args ...any) T {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var out T
	if err := db.QueryRow(query, args...).Scan(&out); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return out
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatal("empty path accepted")
	}
}

func TestIndexWritesRows(t *testing.T) {
	idx, path := openTestIndex(t)

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	idx.RecordEvent(1, protocol.Event{Name: protocol.EvWeatherUpdated, Zone: 1, Weather: "STORM"})
	idx.RecordObservation(realm.Observation{Zone: 1, Weather: realm.WeatherStorm, Intensity: 7, Sequence: 5})
	idx.UpsertAccount(realm.BalanceEntry{Owner: "ada", Balance: 150})
	idx.UpsertQuest(realm.Quest{
		ID: "Q000001", Kind: realm.QuestGather, Zone: 1, RequiredWeather: realm.WeatherStorm,
		TargetAmount: 5, RewardXP: 20, RewardTokens: 100,
		Duration: time.Hour, CreatedAt: now, Status: realm.QuestActive,
	})
	idx.UpsertProgress(realm.PlayerQuestProgress{Player: "ada", QuestID: "Q000001", Amount: 3})
	idx.UpsertProgress(realm.PlayerQuestProgress{
		Player: "ada", QuestID: "Q000001", Amount: 5, CompletedAt: now,
	})
	idx.UpsertAsset(realm.Asset{
		TokenID: 1, Owner: "ada", Category: realm.CategoryGear, ZoneAtMint: 1,
		Rarity: realm.RarityRare, Stage: 1, Aspect: realm.WeatherStorm, MintedAt: now,
	})
	idx.RecordUnlock(realm.PlayerAchievementRecord{
		Player: "ada", AchievementID: "storm_chaser", UnlockedAt: now,
	})
	idx.RecordSnapshot("/data/realms/realm_1/snapshots/5.snap.zst", snapshot.RealmV1{
		Header:   snapshot.Header{Version: 1, RealmID: "realm_1", Sequence: 5, SavedAt: now.Format(time.RFC3339Nano)},
		Accounts: []snapshot.AccountV1{{Owner: "ada", Balance: 150}},
	})

	// Close drains and commits the writer before returning.
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := queryOne[string](t, path, `SELECT name FROM events WHERE cursor=1`); got != protocol.EvWeatherUpdated {
		t.Fatalf("event name %q", got)
	}
	if got := queryOne[string](t, path, `SELECT weather FROM observations WHERE zone=1 AND sequence=5`); got != "STORM" {
		t.Fatalf("observation weather %q", got)
	}
	if got := queryOne[int64](t, path, `SELECT balance FROM accounts WHERE owner='ada'`); got != 150 {
		t.Fatalf("balance %d", got)
	}
	if got := queryOne[string](t, path, `SELECT status FROM quests WHERE quest_id='Q000001'`); got != "ACTIVE" {
		t.Fatalf("quest status %q", got)
	}
	// Second upsert replaced the first: one row, completed.
	if got := queryOne[int64](t, path, `SELECT COUNT(*) FROM progress`); got != 1 {
		t.Fatalf("progress rows %d", got)
	}
	if got := queryOne[int64](t, path, `SELECT amount FROM progress WHERE player='ada'`); got != 5 {
		t.Fatalf("progress amount %d", got)
	}
	if got := queryOne[int64](t, path, `SELECT COUNT(*) FROM progress WHERE completed_at IS NOT NULL`); got != 1 {
		t.Fatalf("completed rows %d", got)
	}
	if got := queryOne[string](t, path, `SELECT rarity FROM assets WHERE token_id=1`); got != "RARE" {
		t.Fatalf("asset rarity %q", got)
	}
	if got := queryOne[int64](t, path, `SELECT COUNT(*) FROM unlocks WHERE player='ada'`); got != 1 {
		t.Fatalf("unlock rows %d", got)
	}
	if got := queryOne[int64](t, path, `SELECT accounts FROM snapshots WHERE sequence=5`); got != 1 {
		t.Fatalf("snapshot accounts %d", got)
	}
}

func TestUpsertCatalogs(t *testing.T) {
	idx, path := openTestIndex(t)

	cats := &catalogs.Catalogs{}
	cats.Quests.Defs = []catalogs.QuestDef{{Kind: "GATHER", TargetAmount: 1, DurationSeconds: 60}}
	cats.Quests.Digest = "aaaa"
	cats.Policies.Rarity = []catalogs.RarityTierDef{{Rarity: "COMMON", UpToPermille: 1000}}
	cats.Policies.Digest = "bbbb"

	if err := idx.UpsertCatalogs(cats); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Re-running with the same content is fine (startup happens on every boot).
	if err := idx.UpsertCatalogs(cats); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := queryOne[string](t, path, `SELECT digest FROM catalogs WHERE name='quests'`); got != "aaaa" {
		t.Fatalf("quests digest %q", got)
	}
	if got := queryOne[string](t, path, `SELECT digest FROM catalogs WHERE name='policies'`); got != "bbbb" {
		t.Fatalf("policies digest %q", got)
	}
	if got := queryOne[string](t, path, `SELECT value FROM meta WHERE key='schema_version'`); got != "1" {
		t.Fatalf("schema version %q", got)
	}
	// Achievements had no digest, so no row was written.
	if got := queryOne[int64](t, path, `SELECT COUNT(*) FROM catalogs`); got != 2 {
		t.Fatalf("catalog rows %d", got)
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	idx, _ := openTestIndex(t)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic on the closed channel.
	idx.RecordEvent(2, protocol.Event{Name: protocol.EvAssetMinted})
	idx.UpsertAccount(realm.BalanceEntry{Owner: "bob", Balance: 1})
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
