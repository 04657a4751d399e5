// Package motion turns target angles into bounded, interruptible sequences
// of Pelco-D pulses and keeps the stored position consistent with what the
// hardware actually did. It also hosts the calibration sequencer, which
// runs under the same motion lock.
package motion

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/kf7ijz/peltrack/pelco"
	"github.com/kf7ijz/peltrack/rotator"
	"github.com/kf7ijz/peltrack/state"
)

const (
	// pollInterval bounds the latency between a stop request and motor
	// cessation.
	pollInterval = 25 * time.Millisecond

	// moveSpeed is the speed byte for measured motion.
	moveSpeed = 0x20
	// breakawaySpeed is the high-speed byte for the stiction breakaway pulse.
	breakawaySpeed = 0x3F

	// neutralEl is the elevation reached by a full calibration up-travel.
	neutralEl = 90.0
)

// Controller owns the motion lock: exactly one motion sequence issues
// device frames at any time. Callers that invoke motion concurrently block
// until the lock is free.
type Controller struct {
	store *state.Store
	addr  byte

	// moveMu serializes whole move/calibration sequences. It subsumes the
	// store's data lock, which guards individual frame writes and state
	// accesses; Stop deliberately bypasses moveMu so it can interrupt a
	// sequence in flight.
	moveMu sync.Mutex
	cancel *token
}

func NewController(store *state.Store, addr byte) *Controller {
	return &Controller{store: store, addr: addr, cancel: newToken()}
}

// Position returns the current stored position.
func (c *Controller) Position() (float64, float64) {
	return c.store.Position()
}

// Stop trips the cancellation signal and immediately sends a stop frame.
// Idempotent; safe to call with no motion in flight.
func (c *Controller) Stop() error {
	c.cancel.trip()
	return c.stopHead()
}

func (c *Controller) writeMove(cmd2, panSpeed, tiltSpeed byte) error {
	return c.store.WriteFrame(pelco.MoveFrame(c.addr, cmd2, panSpeed, tiltSpeed))
}

func (c *Controller) stopHead() error {
	return c.store.WriteFrame(pelco.StopFrame(c.addr))
}

// sleep waits for d in pollInterval increments, re-checking the
// cancellation signal at each boundary. It returns the time actually slept
// and false if the run was canceled.
func (c *Controller) sleep(d time.Duration) (time.Duration, bool) {
	done := c.cancel.tripped()
	start := time.Now()
	for {
		remaining := d - time.Since(start)
		if remaining <= 0 {
			return d, true
		}
		step := pollInterval
		if remaining < step {
			step = remaining
		}
		select {
		case <-done:
			return time.Since(start), false
		case <-time.After(step):
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Controller) azimuthSpeed() float64 {
	speed := c.store.Config("AZIMUTH_SPEED_DPS")
	if speed <= 0 {
		speed = state.Defaults["AZIMUTH_SPEED_DPS"]
	}
	return speed
}

// elevationSpeed returns the effective elevation speed starting from el:
// nominal, derated by the near-stop factor when starting inside the band
// next to either stop (gravity and drag are asymmetric there).
func (c *Controller) elevationSpeed(el float64) float64 {
	speed := c.store.Config("ELEVATION_SPEED_DPS")
	if speed <= 0 {
		speed = state.Defaults["ELEVATION_SPEED_DPS"]
	}
	limits := c.store.Limits()
	band := c.store.Config("EL_NEAR_STOP_BAND_DEG")
	if el <= limits.ElMin+band || el >= limits.ElMax-band {
		if factor := c.store.Config("EL_NEAR_STOP_FACTOR"); factor > 0 {
			speed *= factor
		}
	}
	return speed
}

func (c *Controller) safetyFactor() float64 {
	factor := c.store.Config("TIMING_SAFETY_FACTOR")
	if factor <= 0 || factor > 1 {
		factor = state.Defaults["TIMING_SAFETY_FACTOR"]
	}
	return factor
}

// SendCommand moves the rotor to the target azimuth and elevation using
// timed, axis-staggered pulses, and returns a human-readable outcome. The
// target is clamped into the configured limits first. If the run is
// canceled mid-flight the stored position is set to the degrees actually
// traveled; otherwise it is set to the exact clamped target.
func (c *Controller) SendCommand(targetAz, targetEl float64, update rotator.UpdateFunc) (string, error) {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.cancel.reset()

	limits := c.store.Limits()
	az := limits.ClampAz(targetAz)
	el := limits.ClampEl(targetEl)
	clamped := az != targetAz || el != targetEl
	c.store.SetLastRequest(targetAz, targetEl, clamped)
	if clamped {
		update.Emit(rotator.Update{
			Busy:    true,
			Msg:     fmt.Sprintf("Requested az=%.1f el=%.1f clamped to az=%.1f el=%.1f", targetAz, targetEl, az, el),
			ReqAz:   targetAz,
			ReqEl:   targetEl,
			Clamped: true,
		})
	}

	curAz, curEl := c.store.Position()
	azDelta := az - curAz
	elDelta := el - curEl

	azSpeed := c.azimuthSpeed()
	elSpeed := c.elevationSpeed(curEl)
	safety := c.safetyFactor()

	var azTime, elTime time.Duration
	if azDelta != 0 {
		azTime = seconds(math.Abs(azDelta) / azSpeed * safety)
	}
	if elDelta != 0 {
		elTime = seconds(math.Abs(elDelta) / elSpeed * safety)
	}

	if azTime == 0 && elTime == 0 {
		c.store.SetPosition(az, el)
		msg := "No movement needed"
		update.Emit(rotator.Update{Msg: msg, ReqAz: targetAz, ReqEl: targetEl, Clamped: clamped})
		return msg, nil
	}

	var azDir, elDir byte
	if azDelta > 0 {
		azDir = pelco.PanRight
	} else if azDelta < 0 {
		azDir = pelco.PanLeft
	}
	if elDelta > 0 {
		elDir = pelco.TiltUp
	} else if elDelta < 0 {
		elDir = pelco.TiltDown
	}

	log.Printf("motion: az %.1f->%.1f el %.1f->%.1f (az %.2fs, el %.2fs)",
		curAz, az, curEl, el, azTime.Seconds(), elTime.Seconds())

	canceled := false

	// Breakaway: a short uncounted high-speed pulse to overcome static
	// friction when elevation starts inside the band next to a stop and is
	// moving away from it.
	band := c.store.Config("EL_NEAR_STOP_BAND_DEG")
	breakS := c.store.Config("EL_BREAKAWAY_S")
	awayFromStop := (curEl <= limits.ElMin+band && elDelta > 0) ||
		(curEl >= limits.ElMax-band && elDelta < 0)
	if elDir != 0 && breakS > 0 && awayFromStop {
		if err := c.writeMove(elDir, 0, breakawaySpeed); err != nil {
			return "", err
		}
		_, ok := c.sleep(seconds(breakS))
		if err := c.stopHead(); err != nil {
			return "", err
		}
		canceled = !ok
	}

	// Axis-staggered execution: both axes together for the shorter of the
	// two durations, then the slower axis alone for the remainder.
	bothTime := azTime
	if elTime < bothTime {
		bothTime = elTime
	}
	var azElapsed, elElapsed time.Duration
	if !canceled && bothTime > 0 {
		if err := c.writeMove(azDir|elDir, moveSpeed, moveSpeed); err != nil {
			return "", err
		}
		elapsed, ok := c.sleep(bothTime)
		azElapsed += elapsed
		elElapsed += elapsed
		if err := c.stopHead(); err != nil {
			return "", err
		}
		canceled = !ok
	}
	if !canceled && azTime > bothTime {
		if err := c.writeMove(azDir, moveSpeed, 0); err != nil {
			return "", err
		}
		elapsed, ok := c.sleep(azTime - bothTime)
		azElapsed += elapsed
		if err := c.stopHead(); err != nil {
			return "", err
		}
		canceled = !ok
	}
	if !canceled && elTime > bothTime {
		if err := c.writeMove(elDir, 0, moveSpeed); err != nil {
			return "", err
		}
		elapsed, ok := c.sleep(elTime - bothTime)
		elElapsed += elapsed
		if err := c.stopHead(); err != nil {
			return "", err
		}
		canceled = !ok
	}

	if !canceled {
		if err := c.normalize(az, el, elDir); err != nil {
			return "", err
		}
	}

	var msg string
	if canceled {
		azNow := curAz
		if azDelta != 0 {
			azNow += math.Copysign(azSpeed*azElapsed.Seconds(), azDelta)
		}
		elNow := curEl
		if elDelta != 0 {
			elNow += math.Copysign(elSpeed*elElapsed.Seconds(), elDelta)
		}
		azNow = limits.ClampAz(azNow)
		elNow = limits.ClampEl(elNow)
		c.store.SetPosition(azNow, elNow)
		msg = fmt.Sprintf("Move canceled at az=%.1f, el=%.1f", azNow, elNow)
	} else {
		c.store.SetPosition(az, el)
		msg = fmt.Sprintf("Moved to az=%.1f, el=%.1f", az, el)
	}
	update.Emit(rotator.Update{Msg: msg, ReqAz: targetAz, ReqEl: targetEl, Clamped: clamped})
	return msg, nil
}

// normalize runs the optional fixed-point repeatability passes after a
// completed move: approach-from-above for the neutral elevation target and
// an overdrive pulse into the left stop for azimuth zero. Both are
// zero-length (skipped) by default.
func (c *Controller) normalize(az, el float64, elDir byte) error {
	if settleS := c.store.Config("EL_SETTLE_FROM_ABOVE_S"); settleS > 0 && el == neutralEl && elDir != 0 {
		if err := c.writeMove(pelco.TiltUp, 0, moveSpeed); err != nil {
			return err
		}
		c.sleep(seconds(settleS))
		if err := c.stopHead(); err != nil {
			return err
		}
		if err := c.writeMove(pelco.TiltDown, 0, moveSpeed); err != nil {
			return err
		}
		c.sleep(seconds(settleS))
		if err := c.stopHead(); err != nil {
			return err
		}
	}
	if overS := c.store.Config("AZ_ZERO_OVERDRIVE_S"); overS > 0 && az == 0 {
		if err := c.writeMove(pelco.PanLeft, moveSpeed, 0); err != nil {
			return err
		}
		c.sleep(seconds(overS))
		if err := c.stopHead(); err != nil {
			return err
		}
	}
	return nil
}

// NudgeAzimuth pulses the azimuth axis for up to the given duration.
// direction is -1 (left) or +1 (right). The stored azimuth advances by
// speed times the time actually spent moving, wrapped modulo 360 and
// clamped into limits.
func (c *Controller) NudgeAzimuth(direction int, durationSeconds float64, update rotator.UpdateFunc) (string, error) {
	if direction != -1 && direction != 1 {
		return "", fmt.Errorf("invalid nudge direction %d", direction)
	}
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.cancel.reset()

	dir, word := byte(pelco.PanRight), "right"
	if direction < 0 {
		dir, word = pelco.PanLeft, "left"
	}
	if err := c.writeMove(dir, moveSpeed, 0); err != nil {
		return "", err
	}
	elapsed, _ := c.sleep(seconds(durationSeconds))
	if err := c.stopHead(); err != nil {
		return "", err
	}

	limits := c.store.Limits()
	az, el := c.store.Position()
	az = limits.ClampAz(state.WrapAzimuth(az + float64(direction)*c.azimuthSpeed()*elapsed.Seconds()))
	c.store.SetPosition(az, el)
	msg := fmt.Sprintf("Nudged azimuth %s for %.1f seconds", word, elapsed.Seconds())
	update.Emit(rotator.Message(msg))
	return msg, nil
}

// NudgeElevation pulses the elevation axis for up to the given duration.
// direction is -1 (down) or +1 (up). Elevation does not wrap; the result is
// clamped into limits.
func (c *Controller) NudgeElevation(direction int, durationSeconds float64, update rotator.UpdateFunc) (string, error) {
	if direction != -1 && direction != 1 {
		return "", fmt.Errorf("invalid nudge direction %d", direction)
	}
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.cancel.reset()

	dir, word := byte(pelco.TiltUp), "up"
	if direction < 0 {
		dir, word = pelco.TiltDown, "down"
	}
	if err := c.writeMove(dir, 0, moveSpeed); err != nil {
		return "", err
	}
	elapsed, _ := c.sleep(seconds(durationSeconds))
	if err := c.stopHead(); err != nil {
		return "", err
	}

	limits := c.store.Limits()
	az, el := c.store.Position()
	speed := c.store.Config("ELEVATION_SPEED_DPS")
	el = limits.ClampEl(el + float64(direction)*speed*elapsed.Seconds())
	c.store.SetPosition(az, el)
	msg := fmt.Sprintf("Nudged elevation %s for %.1f seconds", word, elapsed.Seconds())
	update.Emit(rotator.Message(msg))
	return msg, nil
}
