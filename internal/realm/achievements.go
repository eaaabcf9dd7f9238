package realm

import (
	"sort"
	"sync"
	"time"

	"skycast.gg/internal/protocol"
)

// AchievementSpec is the authoring input for CreateAchievement.
type AchievementSpec struct {
	ID           string
	Description  string
	Rule         UnlockRule
	RewardTokens uint64
}

// Unlock reports one achievement newly unlocked by an Evaluate call.
type Unlock struct {
	Player        string
	AchievementID string
	RewardTokens  uint64
	UnlockedAt    time.Time
}

// PlayerAggregate is the cross-component view an unlock rule is evaluated
// against. Each player's aggregate is independent, so evaluating different
// players concurrently cannot interfere.
type PlayerAggregate struct {
	CompletedTotal   uint64
	CompletedByKind  map[QuestKind]uint64
	AssetsTotal      uint64
	AssetsByCategory map[AssetCategory]uint64
	AssetsByRarity   map[Rarity]uint64
	DistinctZones    uint64
}

type unlockKey struct {
	player        string
	achievementID string
}

// AchievementSync observes quest completions and asset holdings through the
// engines' accessors (explicit pulls, no event subscription) and unlocks
// shared achievements at most once per (player, achievement).
type AchievementSync struct {
	quests   *QuestEngine
	registry *AssetRegistry
	ledger   *TokenLedger

	authority string
	pool      string

	mu      sync.RWMutex
	defs    map[string]*Achievement
	order   []string // definition ids, creation order, for deterministic evaluation
	unlocks map[unlockKey]*PlayerAchievementRecord

	now func() time.Time
}

func NewAchievementSync(quests *QuestEngine, registry *AssetRegistry, ledger *TokenLedger, authority, pool string) *AchievementSync {
	return &AchievementSync{
		quests:    quests,
		registry:  registry,
		ledger:    ledger,
		authority: authority,
		pool:      pool,
		defs:      make(map[string]*Achievement),
		unlocks:   make(map[unlockKey]*PlayerAchievementRecord),
		now:       time.Now,
	}
}

// CreateAchievement registers a definition. Authority only; ids are unique
// and rules must carry at least one clause.
func (s *AchievementSync) CreateAchievement(caller string, spec AchievementSpec) (Achievement, error) {
	if caller != s.authority {
		return Achievement{}, errCode(protocol.ErrUnauthorized, "caller %q may not author achievements", caller)
	}
	if spec.ID == "" {
		return Achievement{}, errCode(protocol.ErrBadRequest, "empty achievement id")
	}
	if spec.Rule.Empty() {
		return Achievement{}, errCode(protocol.ErrBadRequest, "achievement %q has no unlock clause", spec.ID)
	}
	for kind := range spec.Rule.MinCompletedByKind {
		if !kind.Valid() {
			return Achievement{}, errCode(protocol.ErrBadRequest, "achievement %q: unknown quest kind %q", spec.ID, kind)
		}
	}
	for cat := range spec.Rule.MinAssetsByCategory {
		if !cat.Valid() {
			return Achievement{}, errCode(protocol.ErrBadRequest, "achievement %q: unknown category %q", spec.ID, cat)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[spec.ID]; exists {
		return Achievement{}, errCode(protocol.ErrDuplicateDefinition, "achievement %q already defined", spec.ID)
	}
	a := &Achievement{
		ID:           spec.ID,
		Description:  spec.Description,
		Rule:         spec.Rule,
		RewardTokens: spec.RewardTokens,
		CreatedAt:    s.now(),
	}
	s.defs[a.ID] = a
	s.order = append(s.order, a.ID)
	return *a, nil
}

// aggregate pulls the player's current totals from the quest engine and the
// asset registry.
func (s *AchievementSync) aggregate(player string) PlayerAggregate {
	agg := PlayerAggregate{
		CompletedByKind:  s.quests.CompletionsByKind(player),
		AssetsByCategory: make(map[AssetCategory]uint64),
		AssetsByRarity:   make(map[Rarity]uint64),
	}
	for _, n := range agg.CompletedByKind {
		agg.CompletedTotal += n
	}
	zones := make(map[int]struct{})
	for _, a := range s.registry.HoldingsOf(player) {
		agg.AssetsTotal++
		agg.AssetsByCategory[a.Category]++
		agg.AssetsByRarity[a.Rarity]++
		zones[a.ZoneAtMint] = struct{}{}
	}
	agg.DistinctZones = uint64(len(zones))
	return agg
}

func ruleSatisfied(r UnlockRule, agg PlayerAggregate) bool {
	if agg.CompletedTotal < r.MinCompletedTotal {
		return false
	}
	for kind, min := range r.MinCompletedByKind {
		if agg.CompletedByKind[kind] < min {
			return false
		}
	}
	if agg.AssetsTotal < r.MinAssetsTotal {
		return false
	}
	for cat, min := range r.MinAssetsByCategory {
		if agg.AssetsByCategory[cat] < min {
			return false
		}
	}
	for rar, min := range r.MinAssetsByRarity {
		if agg.AssetsByRarity[rar] < min {
			return false
		}
	}
	return agg.DistinctZones >= r.MinDistinctZones
}

// Evaluate re-checks every rule against the player's current aggregate. For
// each rule newly satisfied it creates the unlock record exactly once and
// pays the configured bonus from the pool. Safe to call repeatedly: rules
// already unlocked are skipped, so nothing is re-paid or re-recorded. A rule
// whose bonus the pool cannot cover stays locked for a later evaluation.
func (s *AchievementSync) Evaluate(player string) ([]Unlock, error) {
	if player == "" {
		return nil, errCode(protocol.ErrBadRequest, "empty player")
	}
	agg := s.aggregate(player)

	s.mu.Lock()
	defer s.mu.Unlock()

	var unlocked []Unlock
	for _, id := range s.order {
		def := s.defs[id]
		key := unlockKey{player: player, achievementID: id}
		if _, done := s.unlocks[key]; done {
			continue
		}
		if !ruleSatisfied(def.Rule, agg) {
			continue
		}
		if def.RewardTokens > 0 {
			if err := s.ledger.Transfer(callerAchievements, s.pool, player, def.RewardTokens); err != nil {
				continue
			}
		}
		rec := &PlayerAchievementRecord{
			Player:        player,
			AchievementID: id,
			UnlockedAt:    s.now(),
		}
		s.unlocks[key] = rec
		unlocked = append(unlocked, Unlock{
			Player:        player,
			AchievementID: id,
			RewardTokens:  def.RewardTokens,
			UnlockedAt:    rec.UnlockedAt,
		})
	}
	return unlocked, nil
}

func (s *AchievementSync) Unlocked(player, achievementID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.unlocks[unlockKey{player: player, achievementID: achievementID}]
	return ok
}

func (s *AchievementSync) RecordsOf(player string) []PlayerAchievementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PlayerAchievementRecord, 0, 4)
	for key, rec := range s.unlocks {
		if key.player == player {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out
}

func (s *AchievementSync) AchievementByID(id string) (Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return Achievement{}, errCode(protocol.ErrUnknownAchievement, "achievement %q not found", id)
	}
	return *def, nil
}

func (s *AchievementSync) snapshotDefs() []Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Achievement, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.defs[id])
	}
	return out
}

func (s *AchievementSync) snapshotUnlocks() []PlayerAchievementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PlayerAchievementRecord, 0, len(s.unlocks))
	for _, rec := range s.unlocks {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Player != out[j].Player {
			return out[i].Player < out[j].Player
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out
}

func (s *AchievementSync) restore(defs []Achievement, unlocks []PlayerAchievementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = make(map[string]*Achievement, len(defs))
	s.order = s.order[:0]
	for i := range defs {
		d := defs[i]
		s.defs[d.ID] = &d
		s.order = append(s.order, d.ID)
	}
	s.unlocks = make(map[unlockKey]*PlayerAchievementRecord, len(unlocks))
	for i := range unlocks {
		rec := unlocks[i]
		key := unlockKey{player: rec.Player, achievementID: rec.AchievementID}
		if _, dup := s.unlocks[key]; dup {
			// Two records for one (player, achievement) would double-count
			// the unlock; the snapshot is not trustworthy.
			return errCode(protocol.ErrAlreadyUnlocked,
				"player %q already holds achievement %q", rec.Player, rec.AchievementID)
		}
		s.unlocks[key] = &rec
	}
	return nil
}
