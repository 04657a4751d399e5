package motion

import (
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kf7ijz/peltrack/pelco"
	"github.com/kf7ijz/peltrack/rotator"
	"github.com/kf7ijz/peltrack/state"
)

// recorder stands in for the serial port and captures every frame written.
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame := make([]byte, len(p))
	copy(frame, p)
	r.frames = append(r.frames, frame)
	return len(p), nil
}

func (r *recorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

// cmd2s extracts the cmd2 byte of each recorded frame.
func (r *recorder) cmd2s() []byte {
	var out []byte
	for _, frame := range r.all() {
		out = append(out, frame[3])
	}
	return out
}

// collector accumulates observer updates.
type collector struct {
	mu      sync.Mutex
	updates []rotator.Update
}

func (c *collector) fn(u rotator.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) all() []rotator.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rotator.Update, len(c.updates))
	copy(out, c.updates)
	return out
}

func newTestController(t *testing.T) (*Controller, *state.Store, *recorder) {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "config.json"), state.DefaultLimits())
	rec := &recorder{}
	store.SetSerial(rec)
	// Fast speeds and no derating keep test durations short and the
	// position arithmetic exact.
	store.SetConfig("AZIMUTH_SPEED_DPS", 100)
	store.SetConfig("ELEVATION_SPEED_DPS", 100)
	store.SetConfig("TIMING_SAFETY_FACTOR", 1)
	store.SetConfig("EL_NEAR_STOP_FACTOR", 1)
	store.SetConfig("EL_BREAKAWAY_S", 0)
	return NewController(store, 1), store, rec
}

func TestNoOpMove(t *testing.T) {
	c, store, rec := newTestController(t)
	store.SetPosition(180, 90)
	msg, err := c.SendCommand(180, 90, nil)
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if msg != "No movement needed" {
		t.Errorf("msg = %q, want %q", msg, "No movement needed")
	}
	if frames := rec.all(); len(frames) != 0 {
		t.Errorf("no-op move wrote %d frames, want 0", len(frames))
	}
	if az, el := store.Position(); az != 180 || el != 90 {
		t.Errorf("position = (%v, %v), want (180, 90)", az, el)
	}
}

func TestClampOnDispatch(t *testing.T) {
	c, store, rec := newTestController(t)
	store.SetPosition(360, 135)
	if _, err := c.SendCommand(400, 200, nil); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	// Target clamps to (360, 135) before any duration is computed, so no
	// motion happens from there.
	if frames := rec.all(); len(frames) != 0 {
		t.Errorf("clamped no-op wrote %d frames, want 0", len(frames))
	}
	reqAz, reqEl, clamped := store.LastRequest()
	if reqAz != 400 || reqEl != 200 || !clamped {
		t.Errorf("LastRequest = (%v, %v, %v), want (400, 200, true)", reqAz, reqEl, clamped)
	}
	if az, el := store.Position(); az != 360 || el != 135 {
		t.Errorf("position = (%v, %v), want (360, 135)", az, el)
	}
}

func TestSingleAxisMove(t *testing.T) {
	c, store, rec := newTestController(t)
	store.SetPosition(180, 90)
	msg, err := c.SendCommand(190, 90, nil)
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if !strings.Contains(msg, "Moved to az=190.0") {
		t.Errorf("msg = %q", msg)
	}
	got := rec.cmd2s()
	if len(got) != 2 || got[0] != pelco.PanRight || got[1] != 0 {
		t.Errorf("cmd2 sequence = %#v, want [PanRight, stop]", got)
	}
	if az, el := store.Position(); az != 190 || el != 90 {
		t.Errorf("position = (%v, %v), want (190, 90)", az, el)
	}
}

func TestStaggeredMove(t *testing.T) {
	c, store, rec := newTestController(t)
	store.SetPosition(180, 90)
	// Azimuth needs 0.1s, elevation 0.05s: both axes together first, then
	// azimuth alone for the remainder.
	if _, err := c.SendCommand(190, 95, nil); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	want := []byte{pelco.PanRight | pelco.TiltUp, 0, pelco.PanRight, 0}
	got := rec.cmd2s()
	if len(got) != len(want) {
		t.Fatalf("cmd2 sequence = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cmd2 sequence = %#v, want %#v", got, want)
		}
	}
	frames := rec.all()
	if frames[0][4] != moveSpeed || frames[0][5] != moveSpeed {
		t.Errorf("combined frame speeds = %x %x, want both %x", frames[0][4], frames[0][5], moveSpeed)
	}
	if frames[2][5] != 0 {
		t.Errorf("azimuth-only frame has tilt speed %x, want 0", frames[2][5])
	}
	if az, el := store.Position(); az != 190 || el != 95 {
		t.Errorf("position = (%v, %v), want (190, 95)", az, el)
	}
}

func TestBreakawayPulse(t *testing.T) {
	c, store, rec := newTestController(t)
	store.SetConfig("EL_BREAKAWAY_S", 0.05)
	// Starting inside the near-stop band and moving away from the stop.
	store.SetPosition(180, 46)
	if _, err := c.SendCommand(180, 60, nil); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	frames := rec.all()
	if len(frames) < 4 {
		t.Fatalf("got %d frames, want breakaway + stop + move + stop", len(frames))
	}
	if frames[0][3] != pelco.TiltUp || frames[0][5] != breakawaySpeed {
		t.Errorf("first frame = cmd2 %x tilt %x, want breakaway TiltUp at %x", frames[0][3], frames[0][5], byte(breakawaySpeed))
	}
	if frames[1][3] != 0 {
		t.Errorf("breakaway not followed by stop: cmd2 %x", frames[1][3])
	}
}

func TestCancellationBound(t *testing.T) {
	c, store, _ := newTestController(t)
	store.SetConfig("AZIMUTH_SPEED_DPS", 10)
	store.SetPosition(0, 90)

	start := time.Now()
	done := make(chan string, 1)
	go func() {
		// Nominal duration is 10 seconds.
		msg, err := c.SendCommand(100, 90, nil)
		if err != nil {
			t.Errorf("SendCommand failed: %v", err)
		}
		done <- msg
	}()

	time.Sleep(300 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var msg string
	select {
	case msg = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendCommand did not return after Stop")
	}
	wall := time.Since(start)
	if !strings.Contains(msg, "canceled") {
		t.Errorf("msg = %q, want cancellation notice", msg)
	}
	az, _ := store.Position()
	if az <= 0 {
		t.Errorf("canceled move left azimuth at %v, want partial progress", az)
	}
	if max := 10 * wall.Seconds(); az > max {
		t.Errorf("azimuth %v exceeds speed*elapsed bound %v", az, max)
	}
}

func TestMutualExclusion(t *testing.T) {
	c, store, rec := newTestController(t)
	store.SetPosition(180, 90)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := c.NudgeAzimuth(1, 0.1, nil); err != nil {
			t.Errorf("NudgeAzimuth failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := c.NudgeElevation(1, 0.1, nil); err != nil {
			t.Errorf("NudgeElevation failed: %v", err)
		}
	}()
	wg.Wait()

	// Each operation writes a move frame followed by its stop frame; the
	// second operation's frames appear strictly after the first's stop.
	got := rec.cmd2s()
	if len(got) != 4 {
		t.Fatalf("cmd2 sequence = %#v, want 4 frames", got)
	}
	if got[1] != 0 || got[3] != 0 {
		t.Errorf("cmd2 sequence = %#v, want stops at positions 1 and 3", got)
	}
	if got[0] == 0 || got[2] == 0 || got[0] == got[2] {
		t.Errorf("cmd2 sequence = %#v, want two distinct move frames", got)
	}
}

func TestNudgeAzimuthWraps(t *testing.T) {
	c, store, _ := newTestController(t)
	store.SetPosition(1, 90)
	if _, err := c.NudgeAzimuth(-1, 0.2, nil); err != nil {
		t.Fatalf("NudgeAzimuth failed: %v", err)
	}
	az, el := store.Position()
	if math.Abs(az-341) > 1e-9 {
		t.Errorf("azimuth = %v, want 341 (wrapped)", az)
	}
	if el != 90 {
		t.Errorf("elevation = %v, want unchanged 90", el)
	}
}

func TestNudgeElevationClamps(t *testing.T) {
	c, store, _ := newTestController(t)
	store.SetPosition(0, 134)
	if _, err := c.NudgeElevation(1, 1, nil); err != nil {
		t.Fatalf("NudgeElevation failed: %v", err)
	}
	if _, el := store.Position(); el != 135 {
		t.Errorf("elevation = %v, want clamped 135", el)
	}
}

func TestMoveRequiresSerial(t *testing.T) {
	store := state.NewStore(filepath.Join(t.TempDir(), "config.json"), state.DefaultLimits())
	c := NewController(store, 1)
	store.SetPosition(0, 90)
	if _, err := c.SendCommand(10, 90, nil); err != state.ErrSerialNotInitialized {
		t.Errorf("SendCommand without serial = %v, want ErrSerialNotInitialized", err)
	}
}

func TestClampedUpdateEmitted(t *testing.T) {
	c, store, _ := newTestController(t)
	store.SetPosition(360, 135)
	var col collector
	if _, err := c.SendCommand(400, 200, col.fn); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	updates := col.all()
	if len(updates) == 0 {
		t.Fatal("no updates emitted")
	}
	if !updates[0].Clamped || updates[0].ReqAz != 400 || updates[0].ReqEl != 200 {
		t.Errorf("first update = %+v, want clamped with request echo", updates[0])
	}
	last := updates[len(updates)-1]
	if last.Busy {
		t.Errorf("final update busy = true, want false: %+v", last)
	}
}
