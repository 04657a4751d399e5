// Package state is the single source of truth for rotor position, runtime
// config, the serial handle, and the last set request. All access funnels
// through one data lock; the physical bus and the state describing it are
// never observed in an inconsistent combination.
package state

import (
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrSerialNotInitialized is returned when a frame send is attempted before
// a serial handle has been set.
var ErrSerialNotInitialized = errors.New("serial port not initialized")

// frameDelay gives the head time to latch a frame before the next write.
const frameDelay = 50 * time.Millisecond

// Defaults are the built-in config values. File contents merge over them at
// load; unknown keys fall back here and never error.
var Defaults = map[string]float64{
	"AZIMUTH_SPEED_DPS":      6.0,
	"ELEVATION_SPEED_DPS":    4.0,
	"TIMING_SAFETY_FACTOR":   0.92,
	"EL_NEAR_STOP_BAND_DEG":  5.0,
	"EL_NEAR_STOP_FACTOR":    0.6,
	"EL_BREAKAWAY_S":         0.15,
	"EL_SETTLE_FROM_ABOVE_S": 0.0,
	"AZ_ZERO_OVERDRIVE_S":    0.0,
	"CAL_TILT_DOWN_S":        30.0,
	"CAL_TILT_UP_DEG":        90.0,
	"CAL_ROTATE_LEFT_S":      40.0,
}

// Store holds the shared mutable rotor state. Position is volatile and
// starts at (0, 0); config mutations are persisted to disk atomically.
type Store struct {
	mu         sync.Mutex
	az, el     float64
	serial     io.Writer
	config     map[string]float64
	configPath string
	limits     Limits

	reqAz, reqEl float64
	reqClamped   bool
}

// NewStore creates a store with the given config file path and travel
// limits, loading any persisted config over the built-in defaults.
func NewStore(configPath string, limits Limits) *Store {
	s := &Store{
		config:     make(map[string]float64),
		configPath: configPath,
		limits:     limits,
	}
	s.loadConfig()
	return s
}

func (s *Store) loadConfig() {
	data, err := ioutil.ReadFile(s.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("config: load %q: %v", s.configPath, err)
		}
		return
	}
	loaded := make(map[string]float64)
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("config: parse %q: %v", s.configPath, err)
		return
	}
	for k, v := range loaded {
		s.config[k] = v
	}
}

// saveConfig persists the overrides with a write-temp-then-rename so a
// crash mid-write never corrupts the file. Failures are logged and
// non-fatal; the in-memory map stays authoritative for the session.
// Called with s.mu held.
func (s *Store) saveConfig() {
	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		log.Printf("config: marshal: %v", err)
		return
	}
	dir := filepath.Dir(s.configPath)
	tmp, err := ioutil.TempFile(dir, ".peltrack_config-*")
	if err != nil {
		log.Printf("config: save %q: %v", s.configPath, err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.Printf("config: save %q: %v", s.configPath, err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		log.Printf("config: save %q: %v", s.configPath, err)
		return
	}
	if err := os.Rename(tmp.Name(), s.configPath); err != nil {
		os.Remove(tmp.Name())
		log.Printf("config: save %q: %v", s.configPath, err)
	}
}

// SetPosition stores a position. The store performs no clamping; callers
// are responsible for handing it clamped-representation values.
func (s *Store) SetPosition(az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.az, s.el = az, el
}

// Position returns the current stored position.
func (s *Store) Position() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.az, s.el
}

// SetSerial stores the open serial handle. The store owns all writes to it.
func (s *Store) SetSerial(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial = w
}

// WriteFrame sends a frame over the serial handle under the data lock, then
// pauses for the per-frame device processing delay.
func (s *Store) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serial == nil {
		return ErrSerialNotInitialized
	}
	if _, err := s.serial.Write(frame); err != nil {
		return err
	}
	time.Sleep(frameDelay)
	return nil
}

// Config returns the stored value for key, the built-in default if the key
// was never set, or zero for a key with no default.
func (s *Store) Config(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.config[key]; ok {
		return v
	}
	return Defaults[key]
}

// SetConfig updates a tunable and synchronously persists the config file.
func (s *Store) SetConfig(key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	s.saveConfig()
}

// SetLastRequest records the most recent set request so observers can show
// requested-vs-applied values.
func (s *Store) SetLastRequest(az, el float64, clamped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqAz, s.reqEl, s.reqClamped = az, el, clamped
}

// LastRequest returns the most recent set request.
func (s *Store) LastRequest() (az, el float64, clamped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqAz, s.reqEl, s.reqClamped
}

// Limits returns the travel limits loaded at startup.
func (s *Store) Limits() Limits {
	return s.limits
}
