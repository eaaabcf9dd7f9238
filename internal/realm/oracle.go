package realm

import (
	"sync"
	"sync/atomic"

	"skycast.gg/internal/protocol"
)

// WeatherOracle holds the canonical per-zone observation set. It is
// single-writer (the configured updater identity), multi-reader. A logical
// sequence counter, not wall time, orders observations so the ordering is
// deterministic regardless of clock skew.
type WeatherOracle struct {
	updater string

	mu      sync.RWMutex
	current []Observation
	seq     atomic.Uint64
}

func NewWeatherOracle(zoneCount int, updater string, initial WeatherType, initialIntensity int) *WeatherOracle {
	o := &WeatherOracle{
		updater: updater,
		current: make([]Observation, zoneCount),
	}
	for z := range o.current {
		o.current[z] = Observation{
			Zone:      z,
			Weather:   initial,
			Intensity: initialIntensity,
			Sequence:  o.seq.Add(1),
		}
	}
	return o
}

func (o *WeatherOracle) ZoneCount() int { return len(o.current) }

// Sequence is the logical clock: the sequence of the most recent committed
// observation across all zones.
func (o *WeatherOracle) Sequence() uint64 { return o.seq.Load() }

// RecordObservation atomically replaces the zone's current observation.
// Only the configured updater may call it.
func (o *WeatherOracle) RecordObservation(caller string, zone int, weather WeatherType, intensity int) (Observation, error) {
	if caller != o.updater {
		return Observation{}, errCode(protocol.ErrUnauthorized, "caller %q is not the weather updater", caller)
	}
	if zone < 0 || zone >= len(o.current) {
		return Observation{}, errCode(protocol.ErrInvalidZone, "zone %d outside [0,%d)", zone, len(o.current))
	}
	if !weather.Valid() {
		return Observation{}, errCode(protocol.ErrBadRequest, "unknown weather type %q", weather)
	}
	if intensity < MinIntensity || intensity > MaxIntensity {
		return Observation{}, errCode(protocol.ErrInvalidIntensity, "intensity %d outside [%d,%d]", intensity, MinIntensity, MaxIntensity)
	}

	o.mu.Lock()
	obs := Observation{
		Zone:      zone,
		Weather:   weather,
		Intensity: intensity,
		Sequence:  o.seq.Add(1),
	}
	o.current[zone] = obs
	o.mu.Unlock()
	return obs, nil
}

// CurrentWeather returns the latest committed observation for the zone.
// "Currently known" semantics: it never blocks and never stale-fails.
func (o *WeatherOracle) CurrentWeather(zone int) (Observation, error) {
	if zone < 0 || zone >= len(o.current) {
		return Observation{}, errCode(protocol.ErrInvalidZone, "zone %d outside [0,%d)", zone, len(o.current))
	}
	o.mu.RLock()
	obs := o.current[zone]
	o.mu.RUnlock()
	return obs, nil
}

// snapshotObservations copies the current observation table (for export).
func (o *WeatherOracle) snapshotObservations() []Observation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Observation, len(o.current))
	copy(out, o.current)
	return out
}

// restoreObservations replaces the observation table and fast-forwards the
// sequence counter. Only for snapshot import, before the realm serves calls.
func (o *WeatherOracle) restoreObservations(obs []Observation, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ob := range obs {
		if ob.Zone >= 0 && ob.Zone < len(o.current) {
			o.current[ob.Zone] = ob
		}
	}
	o.seq.Store(seq)
}
