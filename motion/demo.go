package motion

import (
	"time"

	"github.com/kf7ijz/peltrack/pelco"
	"github.com/kf7ijz/peltrack/rotator"
)

// RunDemo wiggles both axes through a short visible pattern. The pattern is
// symmetric so the rotor ends roughly where it started; the stored position
// is intentionally left untouched.
func (c *Controller) RunDemo(update rotator.UpdateFunc) (string, error) {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.cancel.reset()

	steps := []struct {
		cmd2 byte
		d    time.Duration
	}{
		{pelco.PanRight, 500 * time.Millisecond},
		{pelco.PanLeft, 500 * time.Millisecond},
		{pelco.PanRight, 300 * time.Millisecond},
		{pelco.PanLeft, 300 * time.Millisecond},
		{pelco.TiltUp, 300 * time.Millisecond},
		{pelco.TiltDown, 300 * time.Millisecond},
	}
	for _, step := range steps {
		var panSpeed, tiltSpeed byte
		if step.cmd2 == pelco.PanLeft || step.cmd2 == pelco.PanRight {
			panSpeed = moveSpeed
		} else {
			tiltSpeed = moveSpeed
		}
		if err := c.writeMove(step.cmd2, panSpeed, tiltSpeed); err != nil {
			return "", err
		}
		_, ok := c.sleep(step.d)
		if err := c.stopHead(); err != nil {
			return "", err
		}
		if !ok {
			msg := "Demo canceled"
			update.Emit(rotator.Message(msg))
			return msg, nil
		}
	}
	msg := "Demo complete"
	update.Emit(rotator.Message(msg))
	return msg, nil
}
