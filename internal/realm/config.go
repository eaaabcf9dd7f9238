package realm

// RealmConfig carries the already-validated parameters the realm core
// receives from the outside (zone count, authority identity, caps, pool).
type RealmConfig struct {
	ID        string
	ZoneCount int

	// Authority is the only identity allowed to record observations, author
	// quests/achievements, retire quests and fund the reward pool.
	Authority string

	// PoolAccount is the pre-funded account quest and achievement rewards
	// are debited from.
	PoolAccount string

	// InitialWeather/InitialIntensity seed every zone's first observation.
	InitialWeather   WeatherType
	InitialIntensity int

	// MintCaps limits minted supply per category; categories absent from the
	// map are uncapped.
	MintCaps map[AssetCategory]uint64

	// EventRetain bounds the in-memory outbound event window.
	EventRetain int
}

func (c *RealmConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "realm_1"
	}
	if c.ZoneCount <= 0 {
		c.ZoneCount = 4
	}
	if c.Authority == "" {
		c.Authority = "authority"
	}
	if c.PoolAccount == "" {
		c.PoolAccount = "pool:rewards"
	}
	if !c.InitialWeather.Valid() {
		c.InitialWeather = WeatherSunshine
	}
	if c.InitialIntensity < MinIntensity || c.InitialIntensity > MaxIntensity {
		c.InitialIntensity = MinIntensity
	}
	if c.EventRetain <= 0 {
		c.EventRetain = 65536
	}
}
