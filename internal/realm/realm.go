package realm

import (
	"fmt"
	"time"

	"skycast.gg/internal/persistence/snapshot"
	"skycast.gg/internal/protocol"
)

// AuditEntry records one denied or failed operation for the audit trail.
type AuditEntry struct {
	At    time.Time      `json:"at"`
	Actor string         `json:"actor"`
	Op    string         `json:"op"`
	Code  string         `json:"code"`
	Extra map[string]any `json:"extra,omitempty"`
}

type AuditLogger interface {
	WriteAudit(AuditEntry) error
}

// Index is the optional read-model sink: one upsert per committed row. The
// realm never reads from it; JSONL logs and snapshots stay the source of
// truth.
type Index interface {
	EventSink
	RecordObservation(Observation)
	UpsertAccount(BalanceEntry)
	UpsertQuest(Quest)
	UpsertProgress(PlayerQuestProgress)
	UpsertAsset(Asset)
	RecordUnlock(PlayerAchievementRecord)
}

// Realm wires the oracle, the ledger and the three dependent engines behind
// one inbound operation surface. Each public operation completes or fails
// synchronously; failures leave every table untouched.
type Realm struct {
	cfg RealmConfig

	oracle   *WeatherOracle
	ledger   *TokenLedger
	registry *AssetRegistry
	quests   *QuestEngine
	achieves *AchievementSync

	hub *eventHub

	auditLogger AuditLogger
	index       Index
}

func New(cfg RealmConfig, rarity RarityPolicy, evolution EvolutionPolicy) (*Realm, error) {
	cfg.applyDefaults()
	if len(rarity.Tiers) == 0 {
		return nil, fmt.Errorf("rarity policy has no tiers")
	}

	oracle := NewWeatherOracle(cfg.ZoneCount, cfg.Authority, cfg.InitialWeather, cfg.InitialIntensity)
	ledger := NewTokenLedger(callerRealm, callerQuestEngine, callerAchievements)
	registry := NewAssetRegistry(oracle, rarity, evolution, cfg.MintCaps)
	quests := NewQuestEngine(oracle, ledger, cfg.Authority, cfg.PoolAccount)
	achieves := NewAchievementSync(quests, registry, ledger, cfg.Authority, cfg.PoolAccount)

	return &Realm{
		cfg:      cfg,
		oracle:   oracle,
		ledger:   ledger,
		registry: registry,
		quests:   quests,
		achieves: achieves,
		hub:      newEventHub(cfg.EventRetain),
	}, nil
}

func (r *Realm) ID() string          { return r.cfg.ID }
func (r *Realm) ZoneCount() int      { return r.cfg.ZoneCount }
func (r *Realm) PoolAccount() string { return r.cfg.PoolAccount }
func (r *Realm) Authority() string   { return r.cfg.Authority }

func (r *Realm) SetAuditLogger(l AuditLogger) { r.auditLogger = l }

// SetIndex attaches the read-model index; it also receives every event.
func (r *Realm) SetIndex(ix Index) {
	r.index = ix
	if ix != nil {
		r.hub.addSink(ix)
	}
}

// AddEventSink attaches a plain event sink (e.g. the JSONL event log).
func (r *Realm) AddEventSink(s EventSink) { r.hub.addSink(s) }

func (r *Realm) audit(actor, op string, err error, extra map[string]any) {
	if err == nil || r.auditLogger == nil {
		return
	}
	_ = r.auditLogger.WriteAudit(AuditEntry{
		At:    time.Now().UTC(),
		Actor: actor,
		Op:    op,
		Code:  CodeOf(err),
		Extra: extra,
	})
}

// ---- Oracle ----

func (r *Realm) RecordObservation(caller string, zone int, weather WeatherType, intensity int) (Observation, error) {
	obs, err := r.oracle.RecordObservation(caller, zone, weather, intensity)
	if err != nil {
		r.audit(caller, protocol.OpRecordObservation, err, map[string]any{"zone": zone})
		return Observation{}, err
	}
	if r.index != nil {
		r.index.RecordObservation(obs)
	}
	r.hub.emit(protocol.Event{
		Name:      protocol.EvWeatherUpdated,
		Zone:      obs.Zone,
		Weather:   string(obs.Weather),
		Intensity: obs.Intensity,
		Sequence:  obs.Sequence,
	})
	return obs, nil
}

func (r *Realm) CurrentWeather(zone int) (Observation, error) {
	return r.oracle.CurrentWeather(zone)
}

// OracleSequence is the oracle's logical clock (last assigned sequence).
func (r *Realm) OracleSequence() uint64 { return r.oracle.Sequence() }

// ---- Ledger ----

// FundPool mints tokens into the reward pool. This is the explicit funding
// mechanism: rewards are never minted ad hoc at payout time.
func (r *Realm) FundPool(caller string, amount uint64) error {
	if caller != r.cfg.Authority {
		err := errCode(protocol.ErrUnauthorized, "caller %q may not fund the pool", caller)
		r.audit(caller, protocol.OpFundPool, err, nil)
		return err
	}
	if err := r.ledger.Credit(callerRealm, r.cfg.PoolAccount, amount); err != nil {
		r.audit(caller, protocol.OpFundPool, err, nil)
		return err
	}
	r.indexAccount(r.cfg.PoolAccount)
	r.hub.emit(protocol.Event{Name: protocol.EvPoolFunded, Tokens: amount})
	return nil
}

func (r *Realm) Balance(owner string) uint64 { return r.ledger.Balance(owner) }

func (r *Realm) TotalCredited() uint64     { return r.ledger.TotalCredited() }
func (r *Realm) TotalDebited() uint64      { return r.ledger.TotalDebited() }
func (r *Realm) CirculatingSupply() uint64 { return r.ledger.CirculatingSupply() }

func (r *Realm) MintedCount(cat AssetCategory) uint64 { return r.registry.MintedCount(cat) }

func (r *Realm) indexAccount(owner string) {
	if r.index != nil {
		r.index.UpsertAccount(BalanceEntry{Owner: owner, Balance: r.ledger.Balance(owner)})
	}
}

// ---- Quests ----

func (r *Realm) CreateQuest(caller string, spec QuestSpec) (Quest, error) {
	q, err := r.quests.CreateQuest(caller, spec)
	if err != nil {
		r.audit(caller, protocol.OpCreateQuest, err, nil)
		return Quest{}, err
	}
	if r.index != nil {
		r.index.UpsertQuest(q)
	}
	r.hub.emit(protocol.Event{Name: protocol.EvQuestCreated, QuestID: q.ID, Zone: q.Zone})
	return q, nil
}

func (r *Realm) RetireQuest(caller, questID string) (Quest, error) {
	q, err := r.quests.RetireQuest(caller, questID)
	if err != nil {
		r.audit(caller, protocol.OpRetireQuest, err, map[string]any{"quest_id": questID})
		return Quest{}, err
	}
	if r.index != nil {
		r.index.UpsertQuest(q)
	}
	r.hub.emit(protocol.Event{Name: protocol.EvQuestRetired, QuestID: q.ID})
	return q, nil
}

func (r *Realm) RecordProgress(player, questID string, amount uint64) (ProgressResult, error) {
	res, err := r.quests.RecordProgress(player, questID, amount)
	if err != nil {
		r.audit(player, protocol.OpRecordProgress, err, map[string]any{"quest_id": questID})
		return ProgressResult{}, err
	}
	if res.AlreadyCompleted {
		// No state changed and no event re-emitted.
		return res, nil
	}
	if r.index != nil {
		if rec, ok := r.quests.ProgressOf(player, questID); ok {
			r.index.UpsertProgress(rec)
		}
	}
	if res.Completed {
		r.indexAccount(player)
		r.indexAccount(r.cfg.PoolAccount)
		r.hub.emit(protocol.Event{
			Name:    protocol.EvQuestCompleted,
			Player:  player,
			QuestID: questID,
			Tokens:  res.RewardTokens,
		})
	}
	return res, nil
}

func (r *Realm) QuestByID(id string) (Quest, error) { return r.quests.QuestByID(id) }

func (r *Realm) ProgressOf(player, questID string) (PlayerQuestProgress, bool) {
	return r.quests.ProgressOf(player, questID)
}

func (r *Realm) ExperienceOf(player string) uint64 { return r.quests.ExperienceOf(player) }

// ---- Assets ----

func (r *Realm) Mint(owner string, cat AssetCategory, zone int) (Asset, error) {
	a, err := r.registry.Mint(owner, cat, zone)
	if err != nil {
		r.audit(owner, protocol.OpMintAsset, err, map[string]any{"zone": zone, "category": string(cat)})
		return Asset{}, err
	}
	if r.index != nil {
		r.index.UpsertAsset(a)
	}
	r.hub.emit(protocol.Event{
		Name:     protocol.EvAssetMinted,
		TokenID:  a.TokenID,
		Owner:    a.Owner,
		Category: string(a.Category),
		Rarity:   string(a.Rarity),
		Zone:     a.ZoneAtMint,
	})
	return a, nil
}

func (r *Realm) Evolve(tokenID uint64) (Asset, bool, error) {
	a, changed, err := r.registry.Evolve(tokenID)
	if err != nil {
		r.audit("", protocol.OpEvolveAsset, err, map[string]any{"token_id": tokenID})
		return Asset{}, false, err
	}
	if changed {
		if r.index != nil {
			r.index.UpsertAsset(a)
		}
		r.hub.emit(protocol.Event{
			Name:    protocol.EvAssetEvolved,
			TokenID: a.TokenID,
			Owner:   a.Owner,
			Stage:   a.Stage,
			Aspect:  string(a.Aspect),
		})
	}
	return a, changed, err
}

func (r *Realm) OwnerOf(tokenID uint64) (string, error)      { return r.registry.OwnerOf(tokenID) }
func (r *Realm) AssetMetadata(tokenID uint64) (Asset, error) { return r.registry.MetadataOf(tokenID) }
func (r *Realm) HoldingsOf(owner string) []Asset             { return r.registry.HoldingsOf(owner) }

// ---- Achievements ----

func (r *Realm) CreateAchievement(caller string, spec AchievementSpec) (Achievement, error) {
	a, err := r.achieves.CreateAchievement(caller, spec)
	if err != nil {
		r.audit(caller, protocol.OpCreateAchievement, err, map[string]any{"achievement_id": spec.ID})
		return Achievement{}, err
	}
	r.hub.emit(protocol.Event{Name: protocol.EvAchievementCreated, AchievementID: a.ID})
	return a, nil
}

func (r *Realm) Evaluate(player string) ([]Unlock, error) {
	unlocked, err := r.achieves.Evaluate(player)
	if err != nil {
		r.audit(player, protocol.OpEvaluate, err, nil)
		return nil, err
	}
	for _, u := range unlocked {
		if r.index != nil {
			r.index.RecordUnlock(PlayerAchievementRecord{
				Player:        u.Player,
				AchievementID: u.AchievementID,
				UnlockedAt:    u.UnlockedAt,
			})
		}
		if u.RewardTokens > 0 {
			r.indexAccount(u.Player)
			r.indexAccount(r.cfg.PoolAccount)
		}
		r.hub.emit(protocol.Event{
			Name:          protocol.EvAchievementUnlocked,
			Player:        u.Player,
			AchievementID: u.AchievementID,
			Tokens:        u.RewardTokens,
		})
	}
	return unlocked, nil
}

func (r *Realm) Unlocked(player, achievementID string) bool {
	return r.achieves.Unlocked(player, achievementID)
}

func (r *Realm) AchievementRecords(player string) []PlayerAchievementRecord {
	return r.achieves.RecordsOf(player)
}

// ---- Events ----

func (r *Realm) EventsSince(cursor uint64, limit int) ([]protocol.EventBatchItem, uint64) {
	return r.hub.since(cursor, limit)
}

func (r *Realm) EventCursor() uint64 { return r.hub.cursor() }

// ---- Snapshot ----

func (r *Realm) ExportSnapshot() snapshot.RealmV1 {
	snap := snapshot.RealmV1{
		Header: snapshot.Header{
			Version:  1,
			RealmID:  r.cfg.ID,
			Sequence: r.oracle.Sequence(),
			SavedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		},
		ZoneCount:   r.cfg.ZoneCount,
		Credited:    r.ledger.TotalCredited(),
		Debited:     r.ledger.TotalDebited(),
		NextTokenID: r.registry.NextTokenID(),
		Experience:  r.quests.snapshotXP(),
		Counters:    snapshot.CountersV1{NextQuest: r.quests.nextQuestNum.Load()},
		EventCursor: r.hub.cursor(),
	}
	for _, obs := range r.oracle.snapshotObservations() {
		snap.Observations = append(snap.Observations, snapshot.ObservationV1{
			Zone: obs.Zone, Weather: string(obs.Weather), Intensity: obs.Intensity, Sequence: obs.Sequence,
		})
	}
	for _, e := range r.ledger.snapshotAccounts() {
		snap.Accounts = append(snap.Accounts, snapshot.AccountV1{Owner: e.Owner, Balance: e.Balance})
	}
	for _, q := range r.quests.snapshotQuests() {
		snap.Quests = append(snap.Quests, snapshot.QuestV1{
			ID: q.ID, Kind: string(q.Kind), Zone: q.Zone,
			RequiredWeather: string(q.RequiredWeather),
			TargetAmount:    q.TargetAmount, RewardXP: q.RewardXP, RewardTokens: q.RewardTokens,
			Duration: q.Duration, CreatedAt: q.CreatedAt, Status: string(q.Status),
		})
	}
	for _, p := range r.quests.snapshotProgress() {
		snap.Progress = append(snap.Progress, snapshot.ProgressV1{
			Player: p.Player, QuestID: p.QuestID, Amount: p.Amount, CompletedAt: p.CompletedAt,
		})
	}
	for _, a := range r.registry.snapshotAssets() {
		snap.Assets = append(snap.Assets, snapshot.AssetV1{
			TokenID: a.TokenID, Owner: a.Owner, Category: string(a.Category),
			ZoneAtMint:  a.ZoneAtMint,
			MintWeather: string(a.WeatherAtMint.Weather), MintIntensity: a.WeatherAtMint.Intensity,
			MintSequence: a.WeatherAtMint.Sequence,
			Rarity:       string(a.Rarity), Stage: a.Stage, Aspect: string(a.Aspect),
			CheckpointSeq: a.CheckpointSeq, MintedAt: a.MintedAt,
		})
	}
	for _, d := range r.achieves.snapshotDefs() {
		snap.Achievements = append(snap.Achievements, snapshot.AchievementV1{
			ID: d.ID, Description: d.Description, RewardTokens: d.RewardTokens, CreatedAt: d.CreatedAt,
			Rule: snapshot.RuleV1{
				MinCompletedTotal:   d.Rule.MinCompletedTotal,
				MinCompletedByKind:  kindMapOut(d.Rule.MinCompletedByKind),
				MinAssetsTotal:      d.Rule.MinAssetsTotal,
				MinAssetsByCategory: catMapOut(d.Rule.MinAssetsByCategory),
				MinAssetsByRarity:   rarityMapOut(d.Rule.MinAssetsByRarity),
				MinDistinctZones:    d.Rule.MinDistinctZones,
			},
		})
	}
	for _, u := range r.achieves.snapshotUnlocks() {
		snap.Unlocks = append(snap.Unlocks, snapshot.UnlockV1{
			Player: u.Player, AchievementID: u.AchievementID, UnlockedAt: u.UnlockedAt,
		})
	}
	return snap
}

// ImportSnapshot replaces all in-memory state. It must be called before the
// realm starts serving calls.
func (r *Realm) ImportSnapshot(snap snapshot.RealmV1) error {
	if snap.Header.Version != 1 {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.ZoneCount != r.cfg.ZoneCount {
		return fmt.Errorf("zone count mismatch: config=%d snapshot=%d", r.cfg.ZoneCount, snap.ZoneCount)
	}

	obs := make([]Observation, 0, len(snap.Observations))
	for _, o := range snap.Observations {
		obs = append(obs, Observation{
			Zone: o.Zone, Weather: WeatherType(o.Weather), Intensity: o.Intensity, Sequence: o.Sequence,
		})
	}
	r.oracle.restoreObservations(obs, snap.Header.Sequence)

	accounts := make([]BalanceEntry, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		accounts = append(accounts, BalanceEntry{Owner: a.Owner, Balance: a.Balance})
	}
	r.ledger.restoreAccounts(accounts, snap.Credited, snap.Debited)

	quests := make([]Quest, 0, len(snap.Quests))
	for _, q := range snap.Quests {
		quests = append(quests, Quest{
			ID: q.ID, Kind: QuestKind(q.Kind), Zone: q.Zone,
			RequiredWeather: WeatherType(q.RequiredWeather),
			TargetAmount:    q.TargetAmount, RewardXP: q.RewardXP, RewardTokens: q.RewardTokens,
			Duration: q.Duration, CreatedAt: q.CreatedAt, Status: QuestStatus(q.Status),
		})
	}
	progress := make([]PlayerQuestProgress, 0, len(snap.Progress))
	for _, p := range snap.Progress {
		progress = append(progress, PlayerQuestProgress{
			Player: p.Player, QuestID: p.QuestID, Amount: p.Amount, CompletedAt: p.CompletedAt,
		})
	}
	r.quests.restore(quests, progress, snap.Experience, snap.Counters.NextQuest)

	assets := make([]Asset, 0, len(snap.Assets))
	for _, a := range snap.Assets {
		assets = append(assets, Asset{
			TokenID: a.TokenID, Owner: a.Owner, Category: AssetCategory(a.Category),
			ZoneAtMint: a.ZoneAtMint,
			WeatherAtMint: Observation{
				Zone: a.ZoneAtMint, Weather: WeatherType(a.MintWeather),
				Intensity: a.MintIntensity, Sequence: a.MintSequence,
			},
			Rarity: Rarity(a.Rarity), Stage: a.Stage, Aspect: WeatherType(a.Aspect),
			CheckpointSeq: a.CheckpointSeq, MintedAt: a.MintedAt,
		})
	}
	r.registry.restoreAssets(assets, snap.NextTokenID)

	defs := make([]Achievement, 0, len(snap.Achievements))
	for _, d := range snap.Achievements {
		defs = append(defs, Achievement{
			ID: d.ID, Description: d.Description, RewardTokens: d.RewardTokens, CreatedAt: d.CreatedAt,
			Rule: UnlockRule{
				MinCompletedTotal:   d.Rule.MinCompletedTotal,
				MinCompletedByKind:  kindMapIn(d.Rule.MinCompletedByKind),
				MinAssetsTotal:      d.Rule.MinAssetsTotal,
				MinAssetsByCategory: catMapIn(d.Rule.MinAssetsByCategory),
				MinAssetsByRarity:   rarityMapIn(d.Rule.MinAssetsByRarity),
				MinDistinctZones:    d.Rule.MinDistinctZones,
			},
		})
	}
	unlocks := make([]PlayerAchievementRecord, 0, len(snap.Unlocks))
	for _, u := range snap.Unlocks {
		unlocks = append(unlocks, PlayerAchievementRecord{
			Player: u.Player, AchievementID: u.AchievementID, UnlockedAt: u.UnlockedAt,
		})
	}
	if err := r.achieves.restore(defs, unlocks); err != nil {
		return err
	}

	r.hub.restoreCursor(snap.EventCursor)
	return nil
}

func kindMapOut(in map[QuestKind]uint64) map[string]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func kindMapIn(in map[string]uint64) map[QuestKind]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[QuestKind]uint64, len(in))
	for k, v := range in {
		out[QuestKind(k)] = v
	}
	return out
}

func catMapOut(in map[AssetCategory]uint64) map[string]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func catMapIn(in map[string]uint64) map[AssetCategory]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[AssetCategory]uint64, len(in))
	for k, v := range in {
		out[AssetCategory(k)] = v
	}
	return out
}

func rarityMapOut(in map[Rarity]uint64) map[string]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func rarityMapIn(in map[string]uint64) map[Rarity]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[Rarity]uint64, len(in))
	for k, v := range in {
		out[Rarity(k)] = v
	}
	return out
}
