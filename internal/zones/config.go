package zones

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"skycast.gg/internal/protocol"
)

// Config is the realm.yaml shape: zone layout, authority identity, mint
// caps and reward-pool funding. The core receives these already validated.
type Config struct {
	RealmID   string `yaml:"realm_id"`
	Authority string `yaml:"authority"`

	Zones []ZoneSpec `yaml:"zones"`

	InitialWeather   string `yaml:"initial_weather"`
	InitialIntensity int    `yaml:"initial_intensity"`

	MintCaps map[string]uint64 `yaml:"mint_caps,omitempty"`

	Pool PoolSpec `yaml:"pool"`

	EventRetain int `yaml:"event_retain"`
}

type ZoneSpec struct {
	Name  string `yaml:"name"`
	Biome string `yaml:"biome,omitempty"`
}

type PoolSpec struct {
	Account        string `yaml:"account"`
	InitialFunding uint64 `yaml:"initial_funding"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("realm.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("realm.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		RealmID:   "realm_1",
		Authority: "authority",
		Zones: []ZoneSpec{
			{Name: "VERDANT_COAST", Biome: "COAST"},
			{Name: "EMBER_WASTES", Biome: "DESERT"},
			{Name: "FROSTPEAK", Biome: "ALPINE"},
			{Name: "MIRROR_MARSH", Biome: "WETLAND"},
		},
		InitialWeather:   "SUNSHINE",
		InitialIntensity: 0,
		Pool: PoolSpec{
			Account:        "pool:rewards",
			InitialFunding: 100_000,
		},
		EventRetain: 65536,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.RealmID = strings.TrimSpace(c.RealmID)
	c.Authority = strings.TrimSpace(c.Authority)
	c.InitialWeather = strings.ToUpper(strings.TrimSpace(c.InitialWeather))
	if c.InitialWeather == "" {
		c.InitialWeather = "SUNSHINE"
	}
	if c.Pool.Account == "" {
		c.Pool.Account = "pool:rewards"
	}
	if c.EventRetain <= 0 {
		c.EventRetain = 65536
	}
	for i := range c.Zones {
		c.Zones[i].Name = strings.ToUpper(strings.TrimSpace(c.Zones[i].Name))
		if c.Zones[i].Name == "" {
			c.Zones[i].Name = fmt.Sprintf("ZONE_%d", i)
		}
	}
}

func (c Config) Validate() error {
	if c.RealmID == "" {
		return fmt.Errorf("realm_id must not be empty")
	}
	if c.Authority == "" {
		return fmt.Errorf("authority must not be empty")
	}
	if len(c.Zones) == 0 {
		return fmt.Errorf("zones must not be empty")
	}
	seen := map[string]bool{}
	for i, z := range c.Zones {
		if seen[z.Name] {
			return fmt.Errorf("zones[%d]: duplicate zone name %s", i, z.Name)
		}
		seen[z.Name] = true
	}
	switch c.InitialWeather {
	case "STORM", "SUNSHINE", "FOG", "RAIN", "SNOW":
	default:
		return fmt.Errorf("initial_weather %q unknown", c.InitialWeather)
	}
	if c.InitialIntensity < 0 || c.InitialIntensity > 10 {
		return fmt.Errorf("initial_intensity must be in [0,10]")
	}
	for cat, limit := range c.MintCaps {
		switch strings.ToUpper(cat) {
		case "GEAR", "COLLECTIBLE", "ARTIFACT", "WEAPON", "TOOL":
		default:
			return fmt.Errorf("mint_caps: unknown category %q", cat)
		}
		if limit == 0 {
			return fmt.Errorf("mint_caps: cap for %s must be positive (omit to uncap)", cat)
		}
	}
	return nil
}

// Manifest lists the zones for the WELCOME handshake, in id order.
func (c Config) Manifest() []protocol.ZoneRef {
	out := make([]protocol.ZoneRef, 0, len(c.Zones))
	for i, z := range c.Zones {
		out = append(out, protocol.ZoneRef{Zone: i, Name: z.Name, Biome: z.Biome})
	}
	return out
}
