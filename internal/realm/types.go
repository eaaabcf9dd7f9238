package realm

import "time"

type WeatherType string

const (
	WeatherStorm    WeatherType = "STORM"
	WeatherSunshine WeatherType = "SUNSHINE"
	WeatherFog      WeatherType = "FOG"
	WeatherRain     WeatherType = "RAIN"
	WeatherSnow     WeatherType = "SNOW"
)

func (w WeatherType) Valid() bool {
	switch w {
	case WeatherStorm, WeatherSunshine, WeatherFog, WeatherRain, WeatherSnow:
		return true
	}
	return false
}

const (
	MinIntensity = 0
	MaxIntensity = 10
)

// Observation is one authoritative weather reading for a zone. Sequence is
// the oracle's logical clock: observations are totally ordered by it, never
// by wall time.
type Observation struct {
	Zone      int
	Weather   WeatherType
	Intensity int
	Sequence  uint64
}

type AssetCategory string

const (
	CategoryGear        AssetCategory = "GEAR"
	CategoryCollectible AssetCategory = "COLLECTIBLE"
	CategoryArtifact    AssetCategory = "ARTIFACT"
	CategoryWeapon      AssetCategory = "WEAPON"
	CategoryTool        AssetCategory = "TOOL"
)

func (c AssetCategory) Valid() bool {
	switch c {
	case CategoryGear, CategoryCollectible, CategoryArtifact, CategoryWeapon, CategoryTool:
		return true
	}
	return false
}

// AssetCategories lists all categories in a fixed order (used for cap
// counters and deterministic iteration).
var AssetCategories = []AssetCategory{
	CategoryGear, CategoryCollectible, CategoryArtifact, CategoryWeapon, CategoryTool,
}

type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityUncommon  Rarity = "UNCOMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// Asset is a uniquely-identified collectible. Rarity is fixed at mint;
// Stage/Aspect change only through evolution checkpoints.
type Asset struct {
	TokenID       uint64
	Owner         string
	Category      AssetCategory
	ZoneAtMint    int
	WeatherAtMint Observation
	Rarity        Rarity

	Stage  int
	Aspect WeatherType

	// Oracle sequence of the last evolution checkpoint (the mint snapshot
	// counts as the first checkpoint).
	CheckpointSeq uint64

	MintedAt time.Time
}

type QuestKind string

const (
	QuestGather  QuestKind = "GATHER"
	QuestExplore QuestKind = "EXPLORE"
	QuestSurvive QuestKind = "SURVIVE"
	QuestSocial  QuestKind = "SOCIAL"
)

func (k QuestKind) Valid() bool {
	switch k {
	case QuestGather, QuestExplore, QuestSurvive, QuestSocial:
		return true
	}
	return false
}

type QuestStatus string

const (
	QuestActive  QuestStatus = "ACTIVE"
	QuestExpired QuestStatus = "EXPIRED"
	QuestRetired QuestStatus = "RETIRED"
)

// Quest is immutable once created except for Status.
type Quest struct {
	ID              string
	Kind            QuestKind
	Zone            int
	RequiredWeather WeatherType // empty: no weather gate
	TargetAmount    uint64
	RewardXP        uint64
	RewardTokens    uint64
	Duration        time.Duration
	CreatedAt       time.Time
	Status          QuestStatus
}

// PlayerQuestProgress is the one record per (player, quest). Completion is
// terminal: a completed record never regresses and is never re-rewarded.
type PlayerQuestProgress struct {
	Player      string
	QuestID     string
	Amount      uint64
	CompletedAt time.Time // zero until completed
}

func (p PlayerQuestProgress) Completed() bool { return !p.CompletedAt.IsZero() }

// Achievement pairs an id with a declarative unlock rule. The rule is an
// AND of its non-zero clauses.
type Achievement struct {
	ID           string
	Description  string
	Rule         UnlockRule
	RewardTokens uint64
	CreatedAt    time.Time
}

type UnlockRule struct {
	MinCompletedTotal   uint64                   `json:"min_completed_total,omitempty"`
	MinCompletedByKind  map[QuestKind]uint64     `json:"min_completed_by_kind,omitempty"`
	MinAssetsTotal      uint64                   `json:"min_assets_total,omitempty"`
	MinAssetsByCategory map[AssetCategory]uint64 `json:"min_assets_by_category,omitempty"`
	MinAssetsByRarity   map[Rarity]uint64        `json:"min_assets_by_rarity,omitempty"`
	MinDistinctZones    uint64                   `json:"min_distinct_zones,omitempty"`
}

// Empty reports whether the rule has no clause at all; such rules are
// rejected at creation since they would unlock for every player.
func (r UnlockRule) Empty() bool {
	return r.MinCompletedTotal == 0 &&
		len(r.MinCompletedByKind) == 0 &&
		r.MinAssetsTotal == 0 &&
		len(r.MinAssetsByCategory) == 0 &&
		len(r.MinAssetsByRarity) == 0 &&
		r.MinDistinctZones == 0
}

// PlayerAchievementRecord exists exactly once per (player, achievement).
type PlayerAchievementRecord struct {
	Player        string
	AchievementID string
	UnlockedAt    time.Time
}
