package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"skycast.gg/internal/catalogs"
	"skycast.gg/internal/persistence/archive"
	"skycast.gg/internal/persistence/indexdb"
	persistlog "skycast.gg/internal/persistence/log"
	"skycast.gg/internal/persistence/r2s3"
	"skycast.gg/internal/persistence/snapshot"
	"skycast.gg/internal/protocol"
	"skycast.gg/internal/realm"
	"skycast.gg/internal/transport/ws"
	"skycast.gg/internal/zones"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "http listen address")
		configDir = flag.String("configs", "./configs", "config directory")
		realmPath = flag.String("realm", "", "realm config path (default: <configs>/realm.yaml)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
		disableDB = flag.Bool("disable_db", false, "disable the sqlite read model")

		snapPath     = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest   = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		snapEvery    = flag.Duration("snapshot_every", 5*time.Minute, "periodic snapshot interval (0 to disable)")
		seedCatalogs = flag.Bool("seed_catalogs", true, "author catalog quests/achievements on a fresh realm")

		archiveEvery = flag.Uint64("archive_every", 0, "archive a snapshot each time the oracle sequence crosses this many observations (0 to disable)")

		r2Endpoint = flag.String("r2_endpoint", os.Getenv("SKYCAST_R2_ENDPOINT"), "S3-compatible endpoint for offsite snapshot mirroring (empty to disable)")
		r2Bucket   = flag.String("r2_bucket", os.Getenv("SKYCAST_R2_BUCKET"), "mirror bucket")
		r2Prefix   = flag.String("r2_prefix", os.Getenv("SKYCAST_R2_PREFIX"), "object key prefix")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	rp := strings.TrimSpace(*realmPath)
	if rp == "" {
		rp = filepath.Join(*configDir, "realm.yaml")
		if _, err := os.Stat(rp); err != nil {
			rp = ""
		}
	}
	zcfg, err := zones.Load(rp)
	if err != nil {
		logger.Fatalf("load realm config: %v", err)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	realmDir := filepath.Join(*dataDir, "realms", zcfg.RealmID)
	_ = os.MkdirAll(realmDir, 0o755)

	rarity, err := rarityPolicy(cats)
	if err != nil {
		logger.Fatalf("rarity policy: %v", err)
	}
	evolution := realm.EvolutionPolicy{
		AdvanceIntensity: cats.Policies.Evolution.AdvanceIntensity,
		MaxStage:         cats.Policies.Evolution.MaxStage,
	}

	r, err := realm.New(realm.RealmConfig{
		ID:               zcfg.RealmID,
		ZoneCount:        len(zcfg.Zones),
		Authority:        zcfg.Authority,
		PoolAccount:      zcfg.Pool.Account,
		InitialWeather:   realm.WeatherType(zcfg.InitialWeather),
		InitialIntensity: zcfg.InitialIntensity,
		MintCaps:         mintCaps(zcfg.MintCaps),
		EventRetain:      zcfg.EventRetain,
	}, rarity, evolution)
	if err != nil {
		logger.Fatalf("realm: %v", err)
	}

	// Optional read-model index (never consulted by the realm itself).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(realmDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
		r.SetIndex(idx)
	}

	eventLog := persistlog.NewEventLogger(realmDir)
	auditLog := persistlog.NewAuditLogger(realmDir)
	defer eventLog.Close()
	defer auditLog.Close()
	r.AddEventSink(eventLog)
	r.SetAuditLogger(auditLog)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(realmDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.RealmID != "" && snap.Header.RealmID != zcfg.RealmID {
			logger.Fatalf("snapshot realm id mismatch: config=%s snap=%s", zcfg.RealmID, snap.Header.RealmID)
		}
		if err := r.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s sequence=%d", filepath.Base(snapshotToLoad), snap.Header.Sequence)
	} else {
		if zcfg.Pool.InitialFunding > 0 {
			if err := r.FundPool(zcfg.Authority, zcfg.Pool.InitialFunding); err != nil {
				logger.Fatalf("fund pool: %v", err)
			}
		}
		if *seedCatalogs {
			seedFromCatalogs(r, cats, logger)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Optional offsite mirror for snapshots (and their archive copies).
	var mirror *r2s3.Mirror
	if *r2Endpoint != "" && *r2Bucket != "" {
		client, err := r2s3.New(*r2Endpoint, *r2Bucket,
			os.Getenv("SKYCAST_R2_ACCESS_KEY_ID"), os.Getenv("SKYCAST_R2_SECRET_ACCESS_KEY"))
		if err != nil {
			logger.Fatalf("r2 mirror: %v", err)
		}
		mirror = r2s3.NewMirror(client, *dataDir, *r2Prefix, 2, 2048, 25*time.Millisecond, logger)
		defer mirror.Close()
	}

	writeSnap := func() {
		snap := r.ExportSnapshot()
		path := filepath.Join(realmDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Sequence))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("snapshot write: %v", err)
			return
		}
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
		if mirror != nil {
			mirror.Enqueue(path)
		}
		if *archiveEvery > 0 {
			checkpoint, archived, ok, err := archive.ArchiveCheckpoint(realmDir, *archiveEvery, path, snap)
			if err != nil {
				logger.Printf("archive checkpoint: %v", err)
			} else if ok {
				logger.Printf("archived checkpoint=%d snapshot=%s", checkpoint, filepath.Base(archived))
				if mirror != nil {
					mirror.Enqueue(archived)
				}
			}
		}
	}
	if *snapEvery > 0 {
		go func() {
			t := time.NewTicker(*snapEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					writeSnap()
				}
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP skycast_oracle_sequence Oracle logical clock.\n")
		fmt.Fprintf(rw, "# TYPE skycast_oracle_sequence counter\n")
		fmt.Fprintf(rw, "skycast_oracle_sequence{realm=%q} %d\n", r.ID(), r.OracleSequence())

		fmt.Fprintf(rw, "# HELP skycast_event_cursor Last emitted event cursor.\n")
		fmt.Fprintf(rw, "# TYPE skycast_event_cursor counter\n")
		fmt.Fprintf(rw, "skycast_event_cursor{realm=%q} %d\n", r.ID(), r.EventCursor())

		fmt.Fprintf(rw, "# HELP skycast_tokens_circulating Circulating token supply.\n")
		fmt.Fprintf(rw, "# TYPE skycast_tokens_circulating gauge\n")
		fmt.Fprintf(rw, "skycast_tokens_circulating{realm=%q} %d\n", r.ID(), r.CirculatingSupply())

		fmt.Fprintf(rw, "# HELP skycast_tokens_credited_total Total tokens ever minted.\n")
		fmt.Fprintf(rw, "# TYPE skycast_tokens_credited_total counter\n")
		fmt.Fprintf(rw, "skycast_tokens_credited_total{realm=%q} %d\n", r.ID(), r.TotalCredited())

		fmt.Fprintf(rw, "# HELP skycast_tokens_debited_total Total tokens ever burned.\n")
		fmt.Fprintf(rw, "# TYPE skycast_tokens_debited_total counter\n")
		fmt.Fprintf(rw, "skycast_tokens_debited_total{realm=%q} %d\n", r.ID(), r.TotalDebited())

		fmt.Fprintf(rw, "# HELP skycast_assets_minted Minted asset count per category.\n")
		fmt.Fprintf(rw, "# TYPE skycast_assets_minted gauge\n")
		for _, cat := range realm.AssetCategories {
			fmt.Fprintf(rw, "skycast_assets_minted{realm=%q,category=%q} %d\n", r.ID(), string(cat), r.MintedCount(cat))
		}

		fmt.Fprintf(rw, "# HELP skycast_pool_balance Reward pool balance.\n")
		fmt.Fprintf(rw, "# TYPE skycast_pool_balance gauge\n")
		fmt.Fprintf(rw, "skycast_pool_balance{realm=%q} %d\n", r.ID(), r.Balance(r.PoolAccount()))

		if mirror != nil {
			st := mirror.Stats()
			fmt.Fprintf(rw, "# HELP skycast_mirror_queue_depth Snapshot mirror upload queue depth.\n")
			fmt.Fprintf(rw, "# TYPE skycast_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "skycast_mirror_queue_depth{realm=%q} %d\n", r.ID(), st.QueueDepth)
			fmt.Fprintf(rw, "# HELP skycast_mirror_uploads_total Mirror upload outcomes.\n")
			fmt.Fprintf(rw, "# TYPE skycast_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "skycast_mirror_uploads_total{realm=%q,outcome=\"success\"} %d\n", r.ID(), st.UploadSuccessTotal)
			fmt.Fprintf(rw, "skycast_mirror_uploads_total{realm=%q,outcome=\"fail\"} %d\n", r.ID(), st.UploadFailTotal)
			fmt.Fprintf(rw, "skycast_mirror_uploads_total{realm=%q,outcome=\"dropped\"} %d\n", r.ID(), st.DroppedTotal)
		}
	})

	if envBool("SKYCAST_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	wsSrv := ws.NewServer(r, zcfg.Manifest(), protocol.CatalogRefs{
		QuestsDigest:       cats.Quests.Digest,
		AchievementsDigest: cats.Achievements.Digest,
		RarityDigest:       cats.Policies.Digest,
	}, logger)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("realm=%s zones=%d listening on %s", r.ID(), r.ZoneCount(), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Final snapshot on clean shutdown.
	writeSnap()
}

func rarityPolicy(cats *catalogs.Catalogs) (realm.RarityPolicy, error) {
	var p realm.RarityPolicy
	for _, t := range cats.Policies.Rarity {
		p.Tiers = append(p.Tiers, realm.RarityTier{
			Rarity:       realm.Rarity(t.Rarity),
			UpToPermille: t.UpToPermille,
		})
	}
	if len(p.Tiers) == 0 {
		return p, fmt.Errorf("no rarity tiers")
	}
	return p, nil
}

func mintCaps(in map[string]uint64) map[realm.AssetCategory]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.AssetCategory]uint64, len(in))
	for k, v := range in {
		out[realm.AssetCategory(strings.ToUpper(k))] = v
	}
	return out
}

// seedFromCatalogs authors the shipped quest and achievement content as the
// configured authority. Duplicate achievement ids (already present via an
// earlier run's catalog) are skipped, everything else is fatal since the
// content was validated at load.
func seedFromCatalogs(r *realm.Realm, cats *catalogs.Catalogs, logger *log.Logger) {
	authority := r.Authority()
	for _, def := range cats.Quests.Defs {
		q, err := r.CreateQuest(authority, realm.QuestSpec{
			Kind:            realm.QuestKind(def.Kind),
			Zone:            def.Zone,
			RequiredWeather: realm.WeatherType(def.RequiredWeather),
			TargetAmount:    def.TargetAmount,
			RewardXP:        def.RewardXP,
			RewardTokens:    def.RewardTokens,
			Duration:        time.Duration(def.DurationSeconds) * time.Second,
		})
		if err != nil {
			logger.Fatalf("seed quest (kind=%s zone=%d): %v", def.Kind, def.Zone, err)
		}
		logger.Printf("seeded quest %s", q.ID)
	}
	for _, def := range cats.Achievements.Defs {
		_, err := r.CreateAchievement(authority, realm.AchievementSpec{
			ID:           def.ID,
			Description:  def.Description,
			RewardTokens: def.RewardTokens,
			Rule: realm.UnlockRule{
				MinCompletedTotal:   def.Rule.MinCompletedTotal,
				MinCompletedByKind:  kindMap(def.Rule.MinCompletedByKind),
				MinAssetsTotal:      def.Rule.MinAssetsTotal,
				MinAssetsByCategory: catMap(def.Rule.MinAssetsByCategory),
				MinAssetsByRarity:   rarityMap(def.Rule.MinAssetsByRarity),
				MinDistinctZones:    def.Rule.MinDistinctZones,
			},
		})
		if err != nil {
			if realm.IsCode(err, protocol.ErrDuplicateDefinition) {
				continue
			}
			logger.Fatalf("seed achievement %s: %v", def.ID, err)
		}
		logger.Printf("seeded achievement %s", def.ID)
	}
}

func kindMap(in map[string]uint64) map[realm.QuestKind]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.QuestKind]uint64, len(in))
	for k, v := range in {
		out[realm.QuestKind(k)] = v
	}
	return out
}

func catMap(in map[string]uint64) map[realm.AssetCategory]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.AssetCategory]uint64, len(in))
	for k, v := range in {
		out[realm.AssetCategory(k)] = v
	}
	return out
}

func rarityMap(in map[string]uint64) map[realm.Rarity]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.Rarity]uint64, len(in))
	for k, v := range in {
		out[realm.Rarity(k)] = v
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(realmDir string) string {
	dir := filepath.Join(realmDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestSeq uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		seq, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			bestSeq = seq
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
