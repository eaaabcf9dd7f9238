package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Catalogs holds the authored content a realm is seeded with: quest
// templates, achievement definitions and the rarity/evolution policies.
// Digests identify the exact content a running realm was booted from.
type Catalogs struct {
	Quests       QuestCatalog
	Achievements AchievementCatalog
	Policies     PolicyCatalog
}

type QuestCatalog struct {
	Defs   []QuestDef
	Digest string
}

type QuestDef struct {
	Kind            string `json:"kind"`
	Zone            int    `json:"zone"`
	RequiredWeather string `json:"required_weather,omitempty"`
	TargetAmount    uint64 `json:"target_amount"`
	RewardXP        uint64 `json:"reward_xp,omitempty"`
	RewardTokens    uint64 `json:"reward_tokens,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type AchievementCatalog struct {
	Defs   []AchievementDef
	Digest string
}

type AchievementDef struct {
	ID           string  `json:"id"`
	Description  string  `json:"description,omitempty"`
	RewardTokens uint64  `json:"reward_tokens,omitempty"`
	Rule         RuleDef `json:"rule"`
}

type RuleDef struct {
	MinCompletedTotal   uint64            `json:"min_completed_total,omitempty"`
	MinCompletedByKind  map[string]uint64 `json:"min_completed_by_kind,omitempty"`
	MinAssetsTotal      uint64            `json:"min_assets_total,omitempty"`
	MinAssetsByCategory map[string]uint64 `json:"min_assets_by_category,omitempty"`
	MinAssetsByRarity   map[string]uint64 `json:"min_assets_by_rarity,omitempty"`
	MinDistinctZones    uint64            `json:"min_distinct_zones,omitempty"`
}

type PolicyCatalog struct {
	Rarity    []RarityTierDef `json:"rarity"`
	Evolution EvolutionDef    `json:"evolution"`
	Digest    string          `json:"-"`
}

type RarityTierDef struct {
	Rarity       string `json:"rarity"`
	UpToPermille uint32 `json:"up_to_permille"`
}

type EvolutionDef struct {
	AdvanceIntensity int `json:"advance_intensity"`
	MaxStage         int `json:"max_stage"`
}

// Load reads quests.json, achievements.json and policies.json from dir.
// Quest and achievement files are optional (a realm can start unauthored);
// policies fall back to built-in defaults when the file is absent.
func Load(dir string) (*Catalogs, error) {
	c := &Catalogs{}

	if b, ok, err := readOptional(filepath.Join(dir, "quests.json")); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal(b, &c.Quests.Defs); err != nil {
			return nil, fmt.Errorf("quests.json: %w", err)
		}
		c.Quests.Digest = digest(b)
	}

	if b, ok, err := readOptional(filepath.Join(dir, "achievements.json")); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal(b, &c.Achievements.Defs); err != nil {
			return nil, fmt.Errorf("achievements.json: %w", err)
		}
		c.Achievements.Digest = digest(b)
	}

	if b, ok, err := readOptional(filepath.Join(dir, "policies.json")); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal(b, &c.Policies); err != nil {
			return nil, fmt.Errorf("policies.json: %w", err)
		}
		c.Policies.Digest = digest(b)
	}
	if len(c.Policies.Rarity) == 0 {
		c.Policies.Rarity = defaultRarityTiers()
	}
	if c.Policies.Evolution.AdvanceIntensity <= 0 {
		c.Policies.Evolution.AdvanceIntensity = 5
	}
	if c.Policies.Evolution.MaxStage <= 0 {
		c.Policies.Evolution.MaxStage = 3
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultRarityTiers() []RarityTierDef {
	return []RarityTierDef{
		{Rarity: "COMMON", UpToPermille: 600},
		{Rarity: "UNCOMMON", UpToPermille: 850},
		{Rarity: "RARE", UpToPermille: 950},
		{Rarity: "EPIC", UpToPermille: 990},
		{Rarity: "LEGENDARY", UpToPermille: 1000},
	}
}

func (c *Catalogs) validate() error {
	var prev uint32
	for i, t := range c.Policies.Rarity {
		if t.Rarity == "" {
			return fmt.Errorf("policies.json: rarity[%d] has empty name", i)
		}
		if t.UpToPermille <= prev {
			return fmt.Errorf("policies.json: rarity[%d] threshold %d not increasing", i, t.UpToPermille)
		}
		prev = t.UpToPermille
	}
	if prev != 1000 {
		return fmt.Errorf("policies.json: rarity thresholds must end at 1000, got %d", prev)
	}

	seen := map[string]bool{}
	for i, d := range c.Achievements.Defs {
		if d.ID == "" {
			return fmt.Errorf("achievements.json: defs[%d] has empty id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("achievements.json: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
	}

	for i, q := range c.Quests.Defs {
		if q.Kind == "" {
			return fmt.Errorf("quests.json: defs[%d] has empty kind", i)
		}
		if q.TargetAmount == 0 {
			return fmt.Errorf("quests.json: defs[%d] target_amount must be positive", i)
		}
		if q.DurationSeconds <= 0 {
			return fmt.Errorf("quests.json: defs[%d] duration_seconds must be positive", i)
		}
	}
	return nil
}

func readOptional(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
