package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadEmptyDirUsesDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Quests.Defs) != 0 || c.Quests.Digest != "" {
		t.Fatalf("quests %+v", c.Quests)
	}
	if len(c.Policies.Rarity) != 5 || c.Policies.Rarity[4].UpToPermille != 1000 {
		t.Fatalf("default rarity %+v", c.Policies.Rarity)
	}
	if c.Policies.Evolution.AdvanceIntensity != 5 || c.Policies.Evolution.MaxStage != 3 {
		t.Fatalf("default evolution %+v", c.Policies.Evolution)
	}
}

func TestLoadFullSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quests.json", `[
		{"kind":"GATHER","zone":1,"required_weather":"STORM","target_amount":5,"reward_xp":20,"reward_tokens":100,"duration_seconds":3600},
		{"kind":"EXPLORE","zone":0,"target_amount":3,"duration_seconds":7200}
	]`)
	writeFile(t, dir, "achievements.json", `[
		{"id":"first_steps","reward_tokens":25,"rule":{"min_completed_total":1}},
		{"id":"collector","rule":{"min_assets_by_category":{"GEAR":2}}}
	]`)
	writeFile(t, dir, "policies.json", `{
		"rarity":[
			{"rarity":"COMMON","up_to_permille":700},
			{"rarity":"RARE","up_to_permille":1000}
		],
		"evolution":{"advance_intensity":6,"max_stage":4}
	}`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Quests.Defs) != 2 || c.Quests.Defs[0].RequiredWeather != "STORM" {
		t.Fatalf("quests %+v", c.Quests.Defs)
	}
	if len(c.Achievements.Defs) != 2 || c.Achievements.Defs[1].Rule.MinAssetsByCategory["GEAR"] != 2 {
		t.Fatalf("achievements %+v", c.Achievements.Defs)
	}
	if len(c.Policies.Rarity) != 2 || c.Policies.Evolution.MaxStage != 4 {
		t.Fatalf("policies %+v", c.Policies)
	}
	for _, d := range []string{c.Quests.Digest, c.Achievements.Digest, c.Policies.Digest} {
		if len(d) != 64 {
			t.Fatalf("digest %q", d)
		}
	}
	if c.Quests.Digest == c.Achievements.Digest {
		t.Fatal("distinct files share a digest")
	}
}

func TestLoadDigestTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quests.json", `[{"kind":"GATHER","zone":0,"target_amount":1,"duration_seconds":60}]`)
	c1, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	writeFile(t, dir, "quests.json", `[{"kind":"GATHER","zone":0,"target_amount":2,"duration_seconds":60}]`)
	c2, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c1.Quests.Digest == c2.Quests.Digest {
		t.Fatal("digest did not change with content")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"malformed quests", "quests.json", `{"kind":`, "quests.json"},
		{"zero target", "quests.json", `[{"kind":"GATHER","zone":0,"target_amount":0,"duration_seconds":60}]`, "target_amount"},
		{"zero duration", "quests.json", `[{"kind":"GATHER","zone":0,"target_amount":1,"duration_seconds":0}]`, "duration_seconds"},
		{"empty kind", "quests.json", `[{"zone":0,"target_amount":1,"duration_seconds":60}]`, "empty kind"},
		{"duplicate achievement", "achievements.json", `[{"id":"a","rule":{"min_completed_total":1}},{"id":"a","rule":{"min_completed_total":2}}]`, "duplicate id"},
		{"empty achievement id", "achievements.json", `[{"rule":{"min_completed_total":1}}]`, "empty id"},
		{"non-increasing tiers", "policies.json", `{"rarity":[{"rarity":"COMMON","up_to_permille":500},{"rarity":"RARE","up_to_permille":500}]}`, "not increasing"},
		{"tiers short of 1000", "policies.json", `{"rarity":[{"rarity":"COMMON","up_to_permille":900}]}`, "end at 1000"},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		writeFile(t, dir, tc.file, tc.content)
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: got %v, want substring %q", tc.name, err, tc.wantErr)
		}
	}
}
