package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"skycast.gg/internal/catalogs"
	"skycast.gg/internal/persistence/snapshot"
	"skycast.gg/internal/protocol"
	"skycast.gg/internal/realm"
)

// SQLiteIndex is the queryable read model. Writes are funneled through a
// single goroutine and committed in batches; the realm never blocks on it
// and never reads from it. JSONL logs and snapshots stay the source of
// truth, so a dropped row is a queryability loss, not a correctness one.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqObservation
	reqAccount
	reqQuest
	reqProgress
	reqAsset
	reqUnlock
	reqSnapshot
)

type req struct {
	kind reqKind

	cursor   uint64
	event    protocol.Event
	obs      realm.Observation
	account  realm.BalanceEntry
	quest    realm.Quest
	progress realm.PlayerQuestProgress
	asset    realm.Asset
	unlock   realm.PlayerAchievementRecord
	snapshot snapshotRow
}

type snapshotRow struct {
	Sequence uint64
	Path     string
	Accounts int
	Quests   int
	Assets   int
	Unlocks  int
	SavedAt  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: event bursts (many quest completions in one storm)
		// must not stall the realm.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			cursor INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name, cursor);`,
		`CREATE TABLE IF NOT EXISTS observations (
			zone INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			weather TEXT NOT NULL,
			intensity INTEGER NOT NULL,
			PRIMARY KEY (zone, sequence)
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			owner TEXT PRIMARY KEY,
			balance INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quests (
			quest_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			zone INTEGER NOT NULL,
			required_weather TEXT NOT NULL,
			target_amount INTEGER NOT NULL,
			reward_xp INTEGER NOT NULL,
			reward_tokens INTEGER NOT NULL,
			status TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quests_zone_status ON quests(zone, status);`,
		`CREATE TABLE IF NOT EXISTS progress (
			player TEXT NOT NULL,
			quest_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			completed_at TEXT,
			PRIMARY KEY (player, quest_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_quest ON progress(quest_id, player);`,
		`CREATE TABLE IF NOT EXISTS assets (
			token_id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			category TEXT NOT NULL,
			zone INTEGER NOT NULL,
			rarity TEXT NOT NULL,
			stage INTEGER NOT NULL,
			aspect TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner, token_id);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_rarity ON assets(rarity, category);`,
		`CREATE TABLE IF NOT EXISTS unlocks (
			player TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at TEXT NOT NULL,
			PRIMARY KEY (player, achievement_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			sequence INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			accounts INTEGER NOT NULL,
			quests INTEGER NOT NULL,
			assets INTEGER NOT NULL,
			unlocks INTEGER NOT NULL,
			saved_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind.
	}
}

// RecordEvent implements realm.EventSink.
func (s *SQLiteIndex) RecordEvent(cursor uint64, ev protocol.Event) {
	s.enqueue(req{kind: reqEvent, cursor: cursor, event: ev})
}

func (s *SQLiteIndex) RecordObservation(obs realm.Observation) {
	s.enqueue(req{kind: reqObservation, obs: obs})
}

func (s *SQLiteIndex) UpsertAccount(e realm.BalanceEntry) {
	s.enqueue(req{kind: reqAccount, account: e})
}

func (s *SQLiteIndex) UpsertQuest(q realm.Quest) {
	s.enqueue(req{kind: reqQuest, quest: q})
}

func (s *SQLiteIndex) UpsertProgress(p realm.PlayerQuestProgress) {
	s.enqueue(req{kind: reqProgress, progress: p})
}

func (s *SQLiteIndex) UpsertAsset(a realm.Asset) {
	s.enqueue(req{kind: reqAsset, asset: a})
}

func (s *SQLiteIndex) RecordUnlock(u realm.PlayerAchievementRecord) {
	s.enqueue(req{kind: reqUnlock, unlock: u})
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.RealmV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Sequence: snap.Header.Sequence,
		Path:     path,
		Accounts: len(snap.Accounts),
		Quests:   len(snap.Quests),
		Assets:   len(snap.Assets),
		Unlocks:  len(snap.Unlocks),
		SavedAt:  snap.Header.SavedAt,
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r})
}

// UpsertCatalogs stores the loaded authored content with its digests, so
// operators can tell which quest and rarity definitions a database was
// built against. Synchronous; called once at startup.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Quests.Defs); len(b) > 0 && cats.Quests.Digest != "" {
		rows = append(rows, kv{name: "quests", digest: cats.Quests.Digest, json: b})
	}
	if b, _ := json.Marshal(cats.Achievements.Defs); len(b) > 0 && cats.Achievements.Digest != "" {
		rows = append(rows, kv{name: "achievements", digest: cats.Achievements.Digest, json: b})
	}
	if b, _ := json.Marshal(cats.Policies); len(b) > 0 {
		rows = append(rows, kv{name: "policies", digest: cats.Policies.Digest, json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(cursor,name,raw_json) VALUES(?,?,?)`)
	insertObs, _ := s.db.Prepare(`INSERT OR REPLACE INTO observations(zone,sequence,weather,intensity) VALUES(?,?,?,?)`)
	insertAccount, _ := s.db.Prepare(`INSERT OR REPLACE INTO accounts(owner,balance) VALUES(?,?)`)
	insertQuest, _ := s.db.Prepare(`INSERT OR REPLACE INTO quests(quest_id,kind,zone,required_weather,target_amount,reward_xp,reward_tokens,status,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertProgress, _ := s.db.Prepare(`INSERT OR REPLACE INTO progress(player,quest_id,amount,completed_at) VALUES(?,?,?,?)`)
	insertAsset, _ := s.db.Prepare(`INSERT OR REPLACE INTO assets(token_id,owner,category,zone,rarity,stage,aspect,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertUnlock, _ := s.db.Prepare(`INSERT OR REPLACE INTO unlocks(player,achievement_id,unlocked_at) VALUES(?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(sequence,path,accounts,quests,assets,unlocks,saved_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertObs, insertAccount, insertQuest, insertProgress, insertAsset, insertUnlock, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqEvent:
			if insertEvent == nil {
				continue
			}
			raw, _ := json.Marshal(r.event)
			_, err = tx.Stmt(insertEvent).Exec(int64(r.cursor), r.event.Name, string(raw))

		case reqObservation:
			if insertObs == nil {
				continue
			}
			o := r.obs
			_, err = tx.Stmt(insertObs).Exec(o.Zone, int64(o.Sequence), string(o.Weather), o.Intensity)

		case reqAccount:
			if insertAccount == nil {
				continue
			}
			_, err = tx.Stmt(insertAccount).Exec(r.account.Owner, int64(r.account.Balance))

		case reqQuest:
			if insertQuest == nil {
				continue
			}
			q := r.quest
			raw, _ := json.Marshal(q)
			_, err = tx.Stmt(insertQuest).Exec(
				q.ID, string(q.Kind), q.Zone, string(q.RequiredWeather),
				int64(q.TargetAmount), int64(q.RewardXP), int64(q.RewardTokens),
				string(q.Status), string(raw),
			)

		case reqProgress:
			if insertProgress == nil {
				continue
			}
			p := r.progress
			var completedAt any
			if p.Completed() {
				completedAt = p.CompletedAt.UTC().Format(time.RFC3339Nano)
			}
			_, err = tx.Stmt(insertProgress).Exec(p.Player, p.QuestID, int64(p.Amount), completedAt)

		case reqAsset:
			if insertAsset == nil {
				continue
			}
			a := r.asset
			raw, _ := json.Marshal(a)
			_, err = tx.Stmt(insertAsset).Exec(
				int64(a.TokenID), a.Owner, string(a.Category), a.ZoneAtMint,
				string(a.Rarity), a.Stage, string(a.Aspect), string(raw),
			)

		case reqUnlock:
			if insertUnlock == nil {
				continue
			}
			u := r.unlock
			_, err = tx.Stmt(insertUnlock).Exec(u.Player, u.AchievementID, u.UnlockedAt.UTC().Format(time.RFC3339Nano))

		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			sn := r.snapshot
			_, err = tx.Stmt(insertSnapshot).Exec(
				int64(sn.Sequence), sn.Path, sn.Accounts, sn.Quests, sn.Assets, sn.Unlocks, sn.SavedAt,
			)
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		flushIfNeeded()
	}

	commit()
}
