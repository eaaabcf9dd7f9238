package realm

import (
	"math"
	"testing"
	"time"

	"skycast.gg/internal/protocol"
)

const testPool = "pool:rewards"

func newTestQuestEngine(t *testing.T, poolFunds uint64) (*WeatherOracle, *TokenLedger, *QuestEngine) {
	t.Helper()
	o := NewWeatherOracle(4, "authority", WeatherSunshine, 0)
	l := NewTokenLedger(callerRealm, callerQuestEngine, callerAchievements)
	if poolFunds > 0 {
		if err := l.Credit(callerRealm, testPool, poolFunds); err != nil {
			t.Fatalf("fund pool: %v", err)
		}
	}
	return o, l, NewQuestEngine(o, l, "authority", testPool)
}

func TestCreateQuestValidation(t *testing.T) {
	_, _, e := newTestQuestEngine(t, 0)

	valid := QuestSpec{Kind: QuestGather, Zone: 1, TargetAmount: 5, Duration: time.Hour}

	cases := []struct {
		name   string
		caller string
		mutate func(*QuestSpec)
		code   string
	}{
		{"not authority", "p1", func(*QuestSpec) {}, protocol.ErrUnauthorized},
		{"bad kind", "authority", func(s *QuestSpec) { s.Kind = "LOITER" }, protocol.ErrBadRequest},
		{"bad zone", "authority", func(s *QuestSpec) { s.Zone = -1 }, protocol.ErrInvalidZone},
		{"bad weather", "authority", func(s *QuestSpec) { s.RequiredWeather = "HAIL" }, protocol.ErrBadRequest},
		{"zero target", "authority", func(s *QuestSpec) { s.TargetAmount = 0 }, protocol.ErrBadRequest},
		{"zero duration", "authority", func(s *QuestSpec) { s.Duration = 0 }, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		spec := valid
		tc.mutate(&spec)
		if _, err := e.CreateQuest(tc.caller, spec); !IsCode(err, tc.code) {
			t.Fatalf("%s: got %v, want %s", tc.name, err, tc.code)
		}
	}

	q, err := e.CreateQuest("authority", valid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.ID != "Q000001" || q.Status != QuestActive {
		t.Fatalf("quest %+v", q)
	}
}

func TestRetireQuest(t *testing.T) {
	_, _, e := newTestQuestEngine(t, 0)
	q, _ := e.CreateQuest("authority", QuestSpec{Kind: QuestExplore, Zone: 0, TargetAmount: 1, Duration: time.Hour})

	if _, err := e.RetireQuest("p1", q.ID); !IsCode(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-authority retire: %v", err)
	}
	if _, err := e.RetireQuest("authority", "Q999999"); !IsCode(err, protocol.ErrUnknownQuest) {
		t.Fatalf("unknown quest: %v", err)
	}

	got, err := e.RetireQuest("authority", q.ID)
	if err != nil || got.Status != QuestRetired {
		t.Fatalf("retire: %+v err=%v", got, err)
	}
	if _, err := e.RetireQuest("authority", q.ID); !IsCode(err, protocol.ErrQuestNotActive) {
		t.Fatalf("double retire: %v", err)
	}
	if _, err := e.RecordProgress("p1", q.ID, 1); !IsCode(err, protocol.ErrQuestNotActive) {
		t.Fatalf("progress on retired: %v", err)
	}
}

func TestQuestLazyExpiry(t *testing.T) {
	_, _, e := newTestQuestEngine(t, 0)

	clock := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return clock }

	q, _ := e.CreateQuest("authority", QuestSpec{Kind: QuestSurvive, Zone: 0, TargetAmount: 10, Duration: time.Hour})

	// Inside the window: fine.
	clock = clock.Add(30 * time.Minute)
	if _, err := e.RecordProgress("p1", q.ID, 1); err != nil {
		t.Fatalf("progress in window: %v", err)
	}

	// Past the deadline: the first touch flips the quest to EXPIRED.
	clock = clock.Add(31 * time.Minute)
	if _, err := e.RecordProgress("p1", q.ID, 1); !IsCode(err, protocol.ErrQuestNotActive) {
		t.Fatalf("progress past deadline: %v", err)
	}
	got, err := e.QuestByID(q.ID)
	if err != nil || got.Status != QuestExpired {
		t.Fatalf("status after expiry: %+v err=%v", got, err)
	}
	// An expired quest cannot be retired either.
	if _, err := e.RetireQuest("authority", q.ID); !IsCode(err, protocol.ErrQuestNotActive) {
		t.Fatalf("retire expired: %v", err)
	}
}

func TestProgressWeatherGate(t *testing.T) {
	o, _, e := newTestQuestEngine(t, 0)
	q, _ := e.CreateQuest("authority", QuestSpec{
		Kind: QuestGather, Zone: 2, RequiredWeather: WeatherStorm,
		TargetAmount: 10, Duration: time.Hour,
	})

	// Zone is sunny: gated.
	if _, err := e.RecordProgress("p1", q.ID, 1); !IsCode(err, protocol.ErrWeatherMismatch) {
		t.Fatalf("sunny progress: %v", err)
	}
	if _, ok := e.ProgressOf("p1", q.ID); ok {
		t.Fatal("rejected progress left a record")
	}

	// The gate is checked at action time, against the gate zone only.
	_, _ = o.RecordObservation("authority", 1, WeatherStorm, 8)
	if _, err := e.RecordProgress("p1", q.ID, 1); !IsCode(err, protocol.ErrWeatherMismatch) {
		t.Fatalf("storm in wrong zone: %v", err)
	}
	_, _ = o.RecordObservation("authority", 2, WeatherStorm, 8)
	res, err := e.RecordProgress("p1", q.ID, 3)
	if err != nil || res.Amount != 3 || res.Completed {
		t.Fatalf("storm progress: %+v err=%v", res, err)
	}
}

func TestProgressCompletionPaysFromPool(t *testing.T) {
	_, l, e := newTestQuestEngine(t, 1000)
	q, _ := e.CreateQuest("authority", QuestSpec{
		Kind: QuestGather, Zone: 0, TargetAmount: 5,
		RewardXP: 40, RewardTokens: 75, Duration: time.Hour,
	})

	res, err := e.RecordProgress("p1", q.ID, 3)
	if err != nil || res.Completed {
		t.Fatalf("partial progress: %+v err=%v", res, err)
	}
	if got := l.Balance("p1"); got != 0 {
		t.Fatalf("paid before completion: %d", got)
	}

	// Overshooting the target still completes exactly once.
	res, err = e.RecordProgress("p1", q.ID, 4)
	if err != nil {
		t.Fatalf("completing progress: %v", err)
	}
	if !res.Completed || res.Amount != 7 || res.RewardTokens != 75 || res.RewardXP != 40 {
		t.Fatalf("completion result %+v", res)
	}
	if got := l.Balance("p1"); got != 75 {
		t.Fatalf("player balance = %d", got)
	}
	if got := l.Balance(testPool); got != 925 {
		t.Fatalf("pool balance = %d", got)
	}
	if got := e.ExperienceOf("p1"); got != 40 {
		t.Fatalf("xp = %d", got)
	}

	// Further progress is a terminal no-op: no second payout, amount frozen.
	res, err = e.RecordProgress("p1", q.ID, 10)
	if err != nil || !res.AlreadyCompleted || res.Amount != 7 || res.RewardTokens != 0 {
		t.Fatalf("post-completion call: %+v err=%v", res, err)
	}
	if got := l.Balance("p1"); got != 75 {
		t.Fatalf("double payout: %d", got)
	}
	if got := e.ExperienceOf("p1"); got != 40 {
		t.Fatalf("double xp: %d", got)
	}

	// Transfers never touch mint/burn totals.
	if l.TotalCredited() != 1000 || l.TotalDebited() != 0 {
		t.Fatalf("totals moved: credited=%d debited=%d", l.TotalCredited(), l.TotalDebited())
	}
}

func TestProgressRewardUnavailableRollsBack(t *testing.T) {
	_, l, e := newTestQuestEngine(t, 10)
	q, _ := e.CreateQuest("authority", QuestSpec{
		Kind: QuestSocial, Zone: 0, TargetAmount: 2,
		RewardXP: 5, RewardTokens: 50, Duration: time.Hour,
	})

	if _, err := e.RecordProgress("p1", q.ID, 1); err != nil {
		t.Fatalf("first progress: %v", err)
	}
	if _, err := e.RecordProgress("p1", q.ID, 1); !IsCode(err, protocol.ErrRewardUnavailable) {
		t.Fatalf("underfunded completion: %v", err)
	}

	// The whole call rolled back: progress stays where it was and the quest
	// can still complete once the pool is topped up.
	rec, ok := e.ProgressOf("p1", q.ID)
	if !ok || rec.Amount != 1 || rec.Completed() {
		t.Fatalf("progress after rollback: %+v ok=%v", rec, ok)
	}
	if got := e.ExperienceOf("p1"); got != 0 {
		t.Fatalf("xp after rollback: %d", got)
	}

	if err := l.Credit(callerRealm, testPool, 100); err != nil {
		t.Fatalf("refund pool: %v", err)
	}
	res, err := e.RecordProgress("p1", q.ID, 1)
	if err != nil || !res.Completed || res.RewardTokens != 50 {
		t.Fatalf("retry after refund: %+v err=%v", res, err)
	}
	if got := l.Balance("p1"); got != 50 {
		t.Fatalf("player balance = %d", got)
	}
}

func TestProgressValidation(t *testing.T) {
	_, _, e := newTestQuestEngine(t, 0)
	q, _ := e.CreateQuest("authority", QuestSpec{Kind: QuestGather, Zone: 0, TargetAmount: 1, Duration: time.Hour})

	if _, err := e.RecordProgress("", q.ID, 1); !IsCode(err, protocol.ErrBadRequest) {
		t.Fatalf("empty player: %v", err)
	}
	if _, err := e.RecordProgress("p1", q.ID, 0); !IsCode(err, protocol.ErrBadRequest) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := e.RecordProgress("p1", "Q424242", 1); !IsCode(err, protocol.ErrUnknownQuest) {
		t.Fatalf("unknown quest: %v", err)
	}
}

func TestProgressSaturatesInsteadOfWrapping(t *testing.T) {
	_, l, e := newTestQuestEngine(t, 50)
	q, err := e.CreateQuest("authority", QuestSpec{
		Kind: QuestGather, Zone: 1, TargetAmount: math.MaxUint64,
		RewardTokens: 20, Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.RecordProgress("p1", q.ID, 5); err != nil {
		t.Fatalf("progress: %v", err)
	}
	// Prior 5 plus a near-max amount would wrap below 5. It must clamp at
	// the maximum, meeting the target, rather than regress the record.
	res, err := e.RecordProgress("p1", q.ID, math.MaxUint64-1)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if res.Amount != math.MaxUint64 || !res.Completed {
		t.Fatalf("result %+v", res)
	}
	if got := l.Balance("p1"); got != 20 {
		t.Fatalf("reward balance %d", got)
	}
}

func TestCompletionsByKind(t *testing.T) {
	_, _, e := newTestQuestEngine(t, 0)

	for _, k := range []QuestKind{QuestGather, QuestGather, QuestExplore, QuestSurvive} {
		q, err := e.CreateQuest("authority", QuestSpec{Kind: k, Zone: 0, TargetAmount: 1, Duration: time.Hour})
		if err != nil {
			t.Fatalf("create %s: %v", k, err)
		}
		if _, err := e.RecordProgress("p1", q.ID, 1); err != nil {
			t.Fatalf("complete %s: %v", q.ID, err)
		}
	}
	// One more gather quest p1 never finishes.
	q, _ := e.CreateQuest("authority", QuestSpec{Kind: QuestGather, Zone: 0, TargetAmount: 5, Duration: time.Hour})
	_, _ = e.RecordProgress("p1", q.ID, 1)

	got := e.CompletionsByKind("p1")
	if got[QuestGather] != 2 || got[QuestExplore] != 1 || got[QuestSurvive] != 1 || got[QuestSocial] != 0 {
		t.Fatalf("completions %v", got)
	}
	if other := e.CompletionsByKind("p2"); len(other) != 0 {
		t.Fatalf("p2 completions %v", other)
	}
}
