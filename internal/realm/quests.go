package realm

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"skycast.gg/internal/protocol"
)

// QuestSpec is the authoring input for CreateQuest.
type QuestSpec struct {
	Kind            QuestKind
	Zone            int
	RequiredWeather WeatherType // empty: no weather gate
	TargetAmount    uint64
	RewardXP        uint64
	RewardTokens    uint64
	Duration        time.Duration
}

// ProgressResult reports the outcome of one RecordProgress call.
type ProgressResult struct {
	Quest            string
	Player           string
	Amount           uint64
	Completed        bool
	AlreadyCompleted bool
	RewardTokens     uint64
	RewardXP         uint64
}

type progressKey struct {
	player  string
	questID string
}

// QuestEngine tracks quests and per-(player,quest) progress. Expiry is lazy:
// wall time is compared to createdAt+duration at the moment of use, never by
// a background timer. Weather gates are evaluated at action time against the
// oracle's latest observation.
type QuestEngine struct {
	oracle *WeatherOracle
	ledger *TokenLedger

	authority string
	pool      string

	mu       sync.RWMutex
	quests   map[string]*Quest
	progress map[progressKey]*PlayerQuestProgress
	xp       map[string]uint64

	nextQuestNum atomic.Uint64
	now          func() time.Time
}

func NewQuestEngine(oracle *WeatherOracle, ledger *TokenLedger, authority, pool string) *QuestEngine {
	return &QuestEngine{
		oracle:    oracle,
		ledger:    ledger,
		authority: authority,
		pool:      pool,
		quests:    make(map[string]*Quest),
		progress:  make(map[progressKey]*PlayerQuestProgress),
		xp:        make(map[string]uint64),
		now:       time.Now,
	}
}

func (e *QuestEngine) newQuestID() string {
	return fmt.Sprintf("Q%06d", e.nextQuestNum.Add(1))
}

// CreateQuest validates and stores a new quest. Authority only.
func (e *QuestEngine) CreateQuest(caller string, spec QuestSpec) (Quest, error) {
	if caller != e.authority {
		return Quest{}, errCode(protocol.ErrUnauthorized, "caller %q may not author quests", caller)
	}
	if !spec.Kind.Valid() {
		return Quest{}, errCode(protocol.ErrBadRequest, "unknown quest kind %q", spec.Kind)
	}
	if spec.Zone < 0 || spec.Zone >= e.oracle.ZoneCount() {
		return Quest{}, errCode(protocol.ErrInvalidZone, "zone %d outside [0,%d)", spec.Zone, e.oracle.ZoneCount())
	}
	if spec.RequiredWeather != "" && !spec.RequiredWeather.Valid() {
		return Quest{}, errCode(protocol.ErrBadRequest, "unknown weather filter %q", spec.RequiredWeather)
	}
	if spec.TargetAmount == 0 {
		return Quest{}, errCode(protocol.ErrBadRequest, "target amount must be positive")
	}
	if spec.Duration <= 0 {
		return Quest{}, errCode(protocol.ErrBadRequest, "duration must be positive")
	}

	q := &Quest{
		ID:              e.newQuestID(),
		Kind:            spec.Kind,
		Zone:            spec.Zone,
		RequiredWeather: spec.RequiredWeather,
		TargetAmount:    spec.TargetAmount,
		RewardXP:        spec.RewardXP,
		RewardTokens:    spec.RewardTokens,
		Duration:        spec.Duration,
		CreatedAt:       e.now(),
		Status:          QuestActive,
	}
	e.mu.Lock()
	e.quests[q.ID] = q
	e.mu.Unlock()
	return *q, nil
}

// RetireQuest moves an active quest to RETIRED. Authority only.
func (e *QuestEngine) RetireQuest(caller, questID string) (Quest, error) {
	if caller != e.authority {
		return Quest{}, errCode(protocol.ErrUnauthorized, "caller %q may not retire quests", caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quests[questID]
	if !ok {
		return Quest{}, errCode(protocol.ErrUnknownQuest, "quest %q not found", questID)
	}
	if e.effectiveStatus(q) != QuestActive {
		return Quest{}, errCode(protocol.ErrQuestNotActive, "quest %q is %s", questID, q.Status)
	}
	q.Status = QuestRetired
	return *q, nil
}

// effectiveStatus applies lazy expiry: an active quest past its deadline is
// marked EXPIRED on first touch. Callers hold e.mu.
func (e *QuestEngine) effectiveStatus(q *Quest) QuestStatus {
	if q.Status == QuestActive && e.now().After(q.CreatedAt.Add(q.Duration)) {
		q.Status = QuestExpired
	}
	return q.Status
}

// RecordProgress adds amount to the player's record. On reaching the target
// it pays the reward from the pool and marks the record completed exactly
// once; a failed payout rolls the whole call back (E_REWARD_UNAVAILABLE).
// Calls after completion are no-ops reporting the completed state.
func (e *QuestEngine) RecordProgress(player, questID string, amount uint64) (ProgressResult, error) {
	if player == "" {
		return ProgressResult{}, errCode(protocol.ErrBadRequest, "empty player")
	}
	if amount == 0 {
		return ProgressResult{}, errCode(protocol.ErrBadRequest, "progress amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.quests[questID]
	if !ok {
		return ProgressResult{}, errCode(protocol.ErrUnknownQuest, "quest %q not found", questID)
	}

	key := progressKey{player: player, questID: questID}
	if rec := e.progress[key]; rec != nil && rec.Completed() {
		// Terminal: never regress, never re-pay.
		return ProgressResult{
			Quest:            questID,
			Player:           player,
			Amount:           rec.Amount,
			Completed:        true,
			AlreadyCompleted: true,
		}, nil
	}

	if st := e.effectiveStatus(q); st != QuestActive {
		return ProgressResult{}, errCode(protocol.ErrQuestNotActive, "quest %q is %s", questID, st)
	}
	if q.RequiredWeather != "" {
		obs, err := e.oracle.CurrentWeather(q.Zone)
		if err != nil {
			return ProgressResult{}, err
		}
		if obs.Weather != q.RequiredWeather {
			return ProgressResult{}, errCode(protocol.ErrWeatherMismatch,
				"quest %q requires %s in zone %d, current is %s", questID, q.RequiredWeather, q.Zone, obs.Weather)
		}
	}

	rec := e.progress[key]
	prior := uint64(0)
	if rec != nil {
		prior = rec.Amount
	}
	// Saturating add: progress never wraps below prior.
	next := prior + amount
	if next < prior {
		next = math.MaxUint64
	}
	completes := next >= q.TargetAmount

	if completes && q.RewardTokens > 0 {
		// Pay before committing any state so a failed payout leaves
		// everything exactly as it was.
		if err := e.ledger.Transfer(callerQuestEngine, e.pool, player, q.RewardTokens); err != nil {
			return ProgressResult{}, errCode(protocol.ErrRewardUnavailable,
				"reward pool cannot cover %d tokens for quest %q", q.RewardTokens, questID)
		}
	}

	if rec == nil {
		rec = &PlayerQuestProgress{Player: player, QuestID: questID}
		e.progress[key] = rec
	}
	rec.Amount = next
	res := ProgressResult{Quest: questID, Player: player, Amount: next}
	if completes {
		rec.CompletedAt = e.now()
		e.xp[player] += q.RewardXP
		res.Completed = true
		res.RewardTokens = q.RewardTokens
		res.RewardXP = q.RewardXP
	}
	return res, nil
}

func (e *QuestEngine) QuestByID(id string) (Quest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quests[id]
	if !ok {
		return Quest{}, errCode(protocol.ErrUnknownQuest, "quest %q not found", id)
	}
	e.effectiveStatus(q)
	return *q, nil
}

func (e *QuestEngine) ProgressOf(player, questID string) (PlayerQuestProgress, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec := e.progress[progressKey{player: player, questID: questID}]
	if rec == nil {
		return PlayerQuestProgress{}, false
	}
	return *rec, true
}

func (e *QuestEngine) ExperienceOf(player string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.xp[player]
}

// CompletionsByKind aggregates the player's completed quests per kind, for
// achievement evaluation.
func (e *QuestEngine) CompletionsByKind(player string) map[QuestKind]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[QuestKind]uint64)
	for key, rec := range e.progress {
		if key.player != player || !rec.Completed() {
			continue
		}
		if q := e.quests[key.questID]; q != nil {
			out[q.Kind]++
		}
	}
	return out
}

func (e *QuestEngine) snapshotQuests() []Quest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Quest, 0, len(e.quests))
	for _, q := range e.quests {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *QuestEngine) snapshotProgress() []PlayerQuestProgress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PlayerQuestProgress, 0, len(e.progress))
	for _, rec := range e.progress {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Player != out[j].Player {
			return out[i].Player < out[j].Player
		}
		return out[i].QuestID < out[j].QuestID
	})
	return out
}

func (e *QuestEngine) snapshotXP() map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]uint64, len(e.xp))
	for p, v := range e.xp {
		out[p] = v
	}
	return out
}

func (e *QuestEngine) restore(quests []Quest, progress []PlayerQuestProgress, xp map[string]uint64, nextQuestNum uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quests = make(map[string]*Quest, len(quests))
	for i := range quests {
		q := quests[i]
		e.quests[q.ID] = &q
	}
	e.progress = make(map[progressKey]*PlayerQuestProgress, len(progress))
	for i := range progress {
		rec := progress[i]
		e.progress[progressKey{player: rec.Player, questID: rec.QuestID}] = &rec
	}
	e.xp = make(map[string]uint64, len(xp))
	for p, v := range xp {
		e.xp[p] = v
	}
	e.nextQuestNum.Store(nextQuestNum)
}
