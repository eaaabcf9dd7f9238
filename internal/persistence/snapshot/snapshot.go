package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	RealmID string `json:"realm_id"`
	// Sequence is the oracle's logical clock at export time.
	Sequence uint64 `json:"sequence"`
	SavedAt  string `json:"saved_at"`
}

// RealmV1 is the full realm state: every table from the persisted state
// layout, plus the counters needed to resume without reuse of ids/cursors.
type RealmV1 struct {
	Header Header `json:"header"`

	ZoneCount    int             `json:"zone_count"`
	Observations []ObservationV1 `json:"observations"`

	Accounts []AccountV1 `json:"accounts"`
	Credited uint64      `json:"credited"`
	Debited  uint64      `json:"debited"`

	Quests     []QuestV1         `json:"quests"`
	Progress   []ProgressV1      `json:"progress"`
	Experience map[string]uint64 `json:"experience,omitempty"`

	Assets      []AssetV1 `json:"assets"`
	NextTokenID uint64    `json:"next_token_id"`

	Achievements []AchievementV1 `json:"achievements"`
	Unlocks      []UnlockV1      `json:"unlocks"`

	Counters    CountersV1 `json:"counters"`
	EventCursor uint64     `json:"event_cursor"`
}

type CountersV1 struct {
	NextQuest uint64 `json:"next_quest"`
}

type ObservationV1 struct {
	Zone      int    `json:"zone"`
	Weather   string `json:"weather"`
	Intensity int    `json:"intensity"`
	Sequence  uint64 `json:"sequence"`
}

type AccountV1 struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

type QuestV1 struct {
	ID              string        `json:"id"`
	Kind            string        `json:"kind"`
	Zone            int           `json:"zone"`
	RequiredWeather string        `json:"required_weather,omitempty"`
	TargetAmount    uint64        `json:"target_amount"`
	RewardXP        uint64        `json:"reward_xp,omitempty"`
	RewardTokens    uint64        `json:"reward_tokens,omitempty"`
	Duration        time.Duration `json:"duration"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          string        `json:"status"`
}

type ProgressV1 struct {
	Player      string    `json:"player"`
	QuestID     string    `json:"quest_id"`
	Amount      uint64    `json:"amount"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

type AssetV1 struct {
	TokenID       uint64    `json:"token_id"`
	Owner         string    `json:"owner"`
	Category      string    `json:"category"`
	ZoneAtMint    int       `json:"zone_at_mint"`
	MintWeather   string    `json:"mint_weather"`
	MintIntensity int       `json:"mint_intensity"`
	MintSequence  uint64    `json:"mint_sequence"`
	Rarity        string    `json:"rarity"`
	Stage         int       `json:"stage"`
	Aspect        string    `json:"aspect,omitempty"`
	CheckpointSeq uint64    `json:"checkpoint_seq"`
	MintedAt      time.Time `json:"minted_at"`
}

type AchievementV1 struct {
	ID           string    `json:"id"`
	Description  string    `json:"description,omitempty"`
	RewardTokens uint64    `json:"reward_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Rule         RuleV1    `json:"rule"`
}

type RuleV1 struct {
	MinCompletedTotal   uint64            `json:"min_completed_total,omitempty"`
	MinCompletedByKind  map[string]uint64 `json:"min_completed_by_kind,omitempty"`
	MinAssetsTotal      uint64            `json:"min_assets_total,omitempty"`
	MinAssetsByCategory map[string]uint64 `json:"min_assets_by_category,omitempty"`
	MinAssetsByRarity   map[string]uint64 `json:"min_assets_by_rarity,omitempty"`
	MinDistinctZones    uint64            `json:"min_distinct_zones,omitempty"`
}

type UnlockV1 struct {
	Player        string    `json:"player"`
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

func WriteSnapshot(path string, snap RealmV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	// Plain-JSON header line so tooling can peek without a gob decoder.
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (RealmV1, error) {
	var snap RealmV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; gob carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
