package motion

import (
	"time"

	"github.com/kf7ijz/peltrack/pelco"
	"github.com/kf7ijz/peltrack/rotator"
)

// Calibration stage labels, in execution order. Canceled is an absorbing
// state reachable from any in-progress stage.
const (
	StageStarting     = "starting"
	StageTiltingDown  = "tilting-down"
	StageTiltingUp    = "tilting-up"
	StageRotatingLeft = "rotating-left"
	StageComplete     = "complete"
	StageCanceled     = "canceled"
)

// progressInterval is how often calibration emits a progress tick.
const progressInterval = 250 * time.Millisecond

type calStage struct {
	name      string
	cmd2      byte
	panSpeed  byte
	tiltSpeed byte
	duration  time.Duration
}

// Calibrate homes the mechanism: elevation down against the lower stop,
// elevation up by the configured travel, then azimuth left against the stop
// that defines azimuth zero. Progress is reported as a cumulative fraction
// across all stages. Cancellation aborts the current stage within the
// polling granularity and leaves the stored position unmodified; only a
// fully completed run claims the (0, 90) reference.
func (c *Controller) Calibrate(update rotator.UpdateFunc) (string, error) {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.cancel.reset()

	elSpeed := c.elevationSpeed(c.store.Limits().ElMin)
	stages := []calStage{
		{StageTiltingDown, pelco.TiltDown, 0, moveSpeed, seconds(c.store.Config("CAL_TILT_DOWN_S"))},
		{StageTiltingUp, pelco.TiltUp, 0, moveSpeed, seconds(c.store.Config("CAL_TILT_UP_DEG") / elSpeed)},
		{StageRotatingLeft, pelco.PanLeft, moveSpeed, 0, seconds(c.store.Config("CAL_ROTATE_LEFT_S"))},
	}
	var total time.Duration
	for _, stage := range stages {
		total += stage.duration
	}

	update.Emit(rotator.Update{Busy: true, CalStage: StageStarting})

	var done time.Duration
	for _, stage := range stages {
		elapsed, canceled, err := c.runCalStage(stage, done, total, update)
		done += elapsed
		if err != nil {
			return "", err
		}
		if canceled {
			update.Emit(rotator.Update{
				CalStage:    StageCanceled,
				CalProgress: fraction(done, total),
				Msg:         "Calibration canceled",
			})
			return "Calibration canceled", nil
		}
	}

	c.store.SetPosition(0, neutralEl)
	msg := "Calibration complete: azimuth 0, elevation 90"
	update.Emit(rotator.Update{CalStage: StageComplete, CalProgress: 1, Msg: msg})
	return msg, nil
}

// runCalStage pulses one axis for the stage duration, emitting cumulative
// progress ticks, and stops the head on the way out.
func (c *Controller) runCalStage(stage calStage, done, total time.Duration, update rotator.UpdateFunc) (time.Duration, bool, error) {
	if stage.duration <= 0 {
		return 0, false, nil
	}
	if err := c.writeMove(stage.cmd2, stage.panSpeed, stage.tiltSpeed); err != nil {
		return 0, false, err
	}
	var elapsed time.Duration
	ok := true
	for ok && elapsed < stage.duration {
		step := progressInterval
		if remaining := stage.duration - elapsed; remaining < step {
			step = remaining
		}
		var slept time.Duration
		slept, ok = c.sleep(step)
		elapsed += slept
		update.Emit(rotator.Update{
			Busy:        true,
			CalStage:    stage.name,
			CalProgress: fraction(done+elapsed, total),
		})
	}
	if err := c.stopHead(); err != nil {
		return elapsed, !ok, err
	}
	return elapsed, !ok, nil
}

func fraction(done, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	f := done.Seconds() / total.Seconds()
	if f > 1 {
		f = 1
	}
	return f
}
