package realm

import (
	"testing"

	"skycast.gg/internal/protocol"
)

func TestOracleSeedsEveryZone(t *testing.T) {
	o := NewWeatherOracle(4, "authority", WeatherSunshine, 0)
	if got := o.Sequence(); got != 4 {
		t.Fatalf("seed sequence = %d, want 4", got)
	}
	for z := 0; z < 4; z++ {
		obs, err := o.CurrentWeather(z)
		if err != nil {
			t.Fatalf("zone %d: %v", z, err)
		}
		if obs.Weather != WeatherSunshine || obs.Intensity != 0 {
			t.Fatalf("zone %d seeded %s/%d", z, obs.Weather, obs.Intensity)
		}
		if obs.Sequence == 0 {
			t.Fatalf("zone %d has zero sequence", z)
		}
	}
}

func TestOracleRecordObservation(t *testing.T) {
	o := NewWeatherOracle(2, "authority", WeatherSunshine, 0)

	obs, err := o.RecordObservation("authority", 1, WeatherStorm, 7)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if obs.Weather != WeatherStorm || obs.Intensity != 7 || obs.Zone != 1 {
		t.Fatalf("unexpected observation %+v", obs)
	}

	cur, err := o.CurrentWeather(1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur != obs {
		t.Fatalf("current %+v != recorded %+v", cur, obs)
	}

	// Other zones are untouched.
	other, _ := o.CurrentWeather(0)
	if other.Weather != WeatherSunshine {
		t.Fatalf("zone 0 weather changed to %s", other.Weather)
	}
}

func TestOracleSequenceMonotonic(t *testing.T) {
	o := NewWeatherOracle(1, "authority", WeatherSunshine, 0)
	var last uint64
	for i := 0; i < 10; i++ {
		obs, err := o.RecordObservation("authority", 0, WeatherRain, i%11)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if obs.Sequence <= last {
			t.Fatalf("sequence %d not after %d", obs.Sequence, last)
		}
		last = obs.Sequence
	}
}

func TestOracleValidation(t *testing.T) {
	o := NewWeatherOracle(2, "authority", WeatherSunshine, 0)

	cases := []struct {
		name      string
		caller    string
		zone      int
		weather   WeatherType
		intensity int
		code      string
	}{
		{"not updater", "player1", 0, WeatherRain, 3, protocol.ErrUnauthorized},
		{"zone low", "authority", -1, WeatherRain, 3, protocol.ErrInvalidZone},
		{"zone high", "authority", 2, WeatherRain, 3, protocol.ErrInvalidZone},
		{"bad weather", "authority", 0, "DRIZZLE", 3, protocol.ErrBadRequest},
		{"intensity low", "authority", 0, WeatherRain, -1, protocol.ErrInvalidIntensity},
		{"intensity high", "authority", 0, WeatherRain, 11, protocol.ErrInvalidIntensity},
	}
	for _, tc := range cases {
		_, err := o.RecordObservation(tc.caller, tc.zone, tc.weather, tc.intensity)
		if !IsCode(err, tc.code) {
			t.Fatalf("%s: got %v, want %s", tc.name, err, tc.code)
		}
	}

	// Rejected observations must not advance the clock or the state.
	if got := o.Sequence(); got != 2 {
		t.Fatalf("sequence advanced to %d on rejected observations", got)
	}

	if _, err := o.CurrentWeather(5); !IsCode(err, protocol.ErrInvalidZone) {
		t.Fatalf("CurrentWeather(5) = %v, want %s", err, protocol.ErrInvalidZone)
	}
}

func TestOracleBoundaryIntensities(t *testing.T) {
	o := NewWeatherOracle(1, "authority", WeatherSunshine, 0)
	for _, n := range []int{MinIntensity, MaxIntensity} {
		if _, err := o.RecordObservation("authority", 0, WeatherSnow, n); err != nil {
			t.Fatalf("intensity %d rejected: %v", n, err)
		}
	}
}
