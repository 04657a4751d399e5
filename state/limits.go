package state

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"math"
)

// Limits bound rotor travel in physical degrees.
type Limits struct {
	AzMin float64 `json:"az_min"`
	AzMax float64 `json:"az_max"`
	ElMin float64 `json:"el_min"`
	ElMax float64 `json:"el_max"`
}

// DefaultLimits returns the stock travel window: full azimuth circle,
// elevation 45-135 with 90 at zenith.
func DefaultLimits() Limits {
	return Limits{AzMin: 0, AzMax: 360, ElMin: 45, ElMax: 135}
}

// LoadLimits reads limits from a JSON file. Any failure falls back to
// DefaultLimits; the file is collaborator-owned and read once at startup.
func LoadLimits(path string) Limits {
	limits := DefaultLimits()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		log.Printf("limits: using defaults: %v", err)
		return limits
	}
	if err := json.Unmarshal(data, &limits); err != nil {
		log.Printf("limits: using defaults: parsing %q: %v", path, err)
		return DefaultLimits()
	}
	return limits
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}

// WrapAzimuth folds an angle into [0, 360).
func WrapAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	return az
}

// ClampAz bounds an azimuth to the configured travel window.
func (l Limits) ClampAz(az float64) float64 {
	return Clamp(az, l.AzMin, l.AzMax)
}

// ClampEl bounds an elevation to the configured travel window.
func (l Limits) ClampEl(el float64) float64 {
	return Clamp(el, l.ElMin, l.ElMax)
}
