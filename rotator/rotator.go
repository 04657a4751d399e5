// Package rotator defines the motion surface and observer types shared by
// the protocol servers and front ends.
package rotator

// Update is the observer payload emitted during motion and calibration.
// Fields other than Msg are zero unless the operation has something to say
// about them; a plain status string is carried as Msg alone.
type Update struct {
	Busy        bool    `json:"busy"`
	Msg         string  `json:"msg,omitempty"`
	CalProgress float64 `json:"cal_progress,omitempty"`
	CalStage    string  `json:"cal_stage,omitempty"`
	ReqAz       float64 `json:"req_az,omitempty"`
	ReqEl       float64 `json:"req_el,omitempty"`
	Clamped     bool    `json:"clamped,omitempty"`
}

// Message wraps a plain status string in an Update.
func Message(msg string) Update {
	return Update{Msg: msg}
}

// UpdateFunc receives progress and status updates. A nil UpdateFunc is
// valid and discards everything.
type UpdateFunc func(Update)

// Emit invokes f if it is non-nil.
func (f UpdateFunc) Emit(u Update) {
	if f != nil {
		f(u)
	}
}

// Rotator is the motion surface consumed by protocol servers and front
// ends. Implementations serialize motion internally; callers may dispatch
// concurrently.
type Rotator interface {
	// Position returns the current (azimuth, elevation) in physical degrees.
	Position() (az, el float64)
	// SendCommand moves to the target position, emitting updates along the
	// way, and returns a human-readable outcome.
	SendCommand(az, el float64, update UpdateFunc) (string, error)
	// Stop cancels any motion in flight and halts the head.
	Stop() error
}
