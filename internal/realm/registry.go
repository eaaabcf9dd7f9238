package realm

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"skycast.gg/internal/protocol"
)

// RarityPolicy maps a deterministic per-mille draw onto rarity tiers.
// Tiers are cumulative and ordered; the last tier must reach 1000.
type RarityPolicy struct {
	Tiers []RarityTier
}

type RarityTier struct {
	Rarity       Rarity
	UpToPermille uint32
}

func DefaultRarityPolicy() RarityPolicy {
	return RarityPolicy{Tiers: []RarityTier{
		{Rarity: RarityCommon, UpToPermille: 600},
		{Rarity: RarityUncommon, UpToPermille: 850},
		{Rarity: RarityRare, UpToPermille: 950},
		{Rarity: RarityEpic, UpToPermille: 990},
		{Rarity: RarityLegendary, UpToPermille: 1000},
	}}
}

func (p RarityPolicy) tierFor(permille uint32) Rarity {
	for _, t := range p.Tiers {
		if permille < t.UpToPermille {
			return t.Rarity
		}
	}
	if n := len(p.Tiers); n > 0 {
		return p.Tiers[n-1].Rarity
	}
	return RarityCommon
}

// EvolutionPolicy parameterizes the pure evolution step: the aspect follows
// the checkpoint weather, the stage advances when intensity reaches
// AdvanceIntensity, up to MaxStage.
type EvolutionPolicy struct {
	AdvanceIntensity int
	MaxStage         int
}

func DefaultEvolutionPolicy() EvolutionPolicy {
	return EvolutionPolicy{AdvanceIntensity: 5, MaxStage: 3}
}

// AssetRegistry mints and evolves collectible assets. Token ids are strictly
// increasing and a failed mint never consumes one: the per-category cap is
// reserved (compare-and-swap) before the id counter is touched.
type AssetRegistry struct {
	oracle    *WeatherOracle
	rarity    RarityPolicy
	evolution EvolutionPolicy
	caps      map[AssetCategory]uint64

	nextTokenID atomic.Uint64
	minted      map[AssetCategory]*atomic.Uint64

	mu      sync.RWMutex
	assets  map[uint64]*Asset
	byOwner map[string]map[uint64]struct{}

	now func() time.Time
}

func NewAssetRegistry(oracle *WeatherOracle, rarity RarityPolicy, evolution EvolutionPolicy, caps map[AssetCategory]uint64) *AssetRegistry {
	r := &AssetRegistry{
		oracle:    oracle,
		rarity:    rarity,
		evolution: evolution,
		caps:      make(map[AssetCategory]uint64, len(caps)),
		minted:    make(map[AssetCategory]*atomic.Uint64, len(AssetCategories)),
		assets:    make(map[uint64]*Asset),
		byOwner:   make(map[string]map[uint64]struct{}),
		now:       time.Now,
	}
	for cat, limit := range caps {
		r.caps[cat] = limit
	}
	for _, cat := range AssetCategories {
		r.minted[cat] = new(atomic.Uint64)
	}
	return r
}

// reserveSupply bumps the category's mint counter iff it stays under the
// cap. CAS so concurrent mints cannot overshoot; the reservation is what
// makes tokenId allocation and success atomic as a pair.
func (r *AssetRegistry) reserveSupply(cat AssetCategory) error {
	counter := r.minted[cat]
	limit, capped := r.caps[cat]
	for {
		cur := counter.Load()
		if capped && cur >= limit {
			return errCode(protocol.ErrSupplyExceeded, "category %s reached mint cap %d", cat, limit)
		}
		if counter.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// rarityFor derives the mint rarity from (tokenId, mint intensity,
// category) alone. Reproducible given identical inputs; no hidden
// randomness.
func (r *AssetRegistry) rarityFor(tokenID uint64, intensity int, cat AssetCategory) Rarity {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], tokenID)
	buf[8] = byte(intensity)
	h := sha256.New()
	h.Write(buf[:])
	h.Write([]byte(cat))
	sum := h.Sum(nil)
	draw := binary.BigEndian.Uint64(sum[:8])
	return r.rarity.tierFor(uint32(draw % 1000))
}

// Mint snapshots the zone's current weather, reserves category supply,
// assigns the next token id and stores the asset. No internal retries; a
// failed mint leaves the id counter and all tables untouched.
func (r *AssetRegistry) Mint(owner string, cat AssetCategory, zone int) (Asset, error) {
	if owner == "" {
		return Asset{}, errCode(protocol.ErrBadRequest, "empty owner")
	}
	if !cat.Valid() {
		return Asset{}, errCode(protocol.ErrBadRequest, "unknown asset category %q", cat)
	}
	obs, err := r.oracle.CurrentWeather(zone)
	if err != nil {
		return Asset{}, err
	}
	if err := r.reserveSupply(cat); err != nil {
		return Asset{}, err
	}

	id := r.nextTokenID.Add(1)
	a := &Asset{
		TokenID:       id,
		Owner:         owner,
		Category:      cat,
		ZoneAtMint:    zone,
		WeatherAtMint: obs,
		Rarity:        r.rarityFor(id, obs.Intensity, cat),
		Stage:         0,
		Aspect:        obs.Weather,
		CheckpointSeq: obs.Sequence,
		MintedAt:      r.now(),
	}

	r.mu.Lock()
	r.assets[id] = a
	owned := r.byOwner[owner]
	if owned == nil {
		owned = make(map[uint64]struct{})
		r.byOwner[owner] = owned
	}
	owned[id] = struct{}{}
	r.mu.Unlock()
	return *a, nil
}

// Evolve re-reads the asset zone's weather. If the oracle's logical clock
// has advanced past the asset's last checkpoint the evolution state is
// recomputed as a pure function of (state, newWeather); otherwise no-op.
func (r *AssetRegistry) Evolve(tokenID uint64) (Asset, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[tokenID]
	if !ok {
		return Asset{}, false, errCode(protocol.ErrUnknownAsset, "token %d not minted", tokenID)
	}
	obs, err := r.oracle.CurrentWeather(a.ZoneAtMint)
	if err != nil {
		return Asset{}, false, err
	}
	if obs.Sequence <= a.CheckpointSeq {
		return *a, false, nil
	}
	a.Stage, a.Aspect = nextEvolution(a.Stage, obs, r.evolution)
	a.CheckpointSeq = obs.Sequence
	return *a, true, nil
}

// nextEvolution is the pure evolution step shared by Evolve and tests.
func nextEvolution(stage int, obs Observation, pol EvolutionPolicy) (int, WeatherType) {
	if obs.Intensity >= pol.AdvanceIntensity && stage < pol.MaxStage {
		stage++
	}
	return stage, obs.Weather
}

func (r *AssetRegistry) OwnerOf(tokenID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[tokenID]
	if !ok {
		return "", errCode(protocol.ErrUnknownAsset, "token %d not minted", tokenID)
	}
	return a.Owner, nil
}

func (r *AssetRegistry) MetadataOf(tokenID uint64) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[tokenID]
	if !ok {
		return Asset{}, errCode(protocol.ErrUnknownAsset, "token %d not minted", tokenID)
	}
	return *a, nil
}

// HoldingsOf returns the owner's assets ordered by token id.
func (r *AssetRegistry) HoldingsOf(owner string) []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byOwner[owner]
	out := make([]Asset, 0, len(ids))
	for id := range ids {
		out = append(out, *r.assets[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (r *AssetRegistry) MintedCount(cat AssetCategory) uint64 {
	c := r.minted[cat]
	if c == nil {
		return 0
	}
	return c.Load()
}

func (r *AssetRegistry) NextTokenID() uint64 { return r.nextTokenID.Load() }

func (r *AssetRegistry) snapshotAssets() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (r *AssetRegistry) restoreAssets(assets []Asset, nextTokenID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = make(map[uint64]*Asset, len(assets))
	r.byOwner = make(map[string]map[uint64]struct{})
	counts := make(map[AssetCategory]uint64)
	for i := range assets {
		a := assets[i]
		r.assets[a.TokenID] = &a
		owned := r.byOwner[a.Owner]
		if owned == nil {
			owned = make(map[uint64]struct{})
			r.byOwner[a.Owner] = owned
		}
		owned[a.TokenID] = struct{}{}
		counts[a.Category]++
	}
	for _, cat := range AssetCategories {
		r.minted[cat].Store(counts[cat])
	}
	r.nextTokenID.Store(nextTokenID)
}
