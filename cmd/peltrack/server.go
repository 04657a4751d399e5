package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kf7ijz/peltrack/motion"
	"github.com/kf7ijz/peltrack/rotator"
	"github.com/kf7ijz/peltrack/state"
)

// Status is the snapshot published to HTTP and websocket clients. Angles are
// in the configured display representation.
type Status struct {
	Azimuth     float64 `json:"azimuth"`
	Elevation   float64 `json:"elevation"`
	Busy        bool    `json:"busy"`
	Msg         string  `json:"msg,omitempty"`
	CalProgress float64 `json:"cal_progress,omitempty"`
	CalStage    string  `json:"cal_stage,omitempty"`
	ReqAz       float64 `json:"req_az,omitempty"`
	ReqEl       float64 `json:"req_el,omitempty"`
	Clamped     bool    `json:"clamped,omitempty"`
}

type Server struct {
	store     *state.Store
	ctrl      *motion.Controller
	transform rotator.Transform

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
}

func NewServer(store *state.Store, ctrl *motion.Controller, transform rotator.Transform) *Server {
	s := &Server{store: store, ctrl: ctrl, transform: transform}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	s.Update(rotator.Update{})
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Update folds a motion update into the published status and wakes every
// waiting websocket writer. It satisfies rotator.UpdateFunc so it can be
// handed to any motion operation as the observer.
func (s *Server) Update(u rotator.Update) {
	az, el := s.ctrl.Position()
	az, el = s.transform(az, el)
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = Status{
		Azimuth:     az,
		Elevation:   el,
		Busy:        u.Busy,
		Msg:         u.Msg,
		CalProgress: u.CalProgress,
		CalStage:    u.CalStage,
		ReqAz:       u.ReqAz,
		ReqEl:       u.ReqEl,
		Clamped:     u.Clamped,
	}
	s.statusCond.Broadcast()
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command   string  `json:"command"`
	Az        float64 `json:"az"`
	El        float64 `json:"el"`
	Direction int     `json:"direction"`
	Seconds   float64 `json:"seconds"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			s.execute(msg)
		}
	}()

	// The cond has no cancellation; a broadcast on shutdown lets the loop
	// notice the dead context and return.
	go func() {
		<-ctx.Done()
		s.statusCond.Broadcast()
	}()

	send := func(status Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return false
		}
		return true
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if !send(status) {
		return
	}

	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if !send(status) {
			return
		}
	}
}

// execute dispatches one websocket command. Motion operations run in the
// background; the controller's own lock serializes them.
func (s *Server) execute(msg Command) {
	dispatch := func(name string, op func() (string, error)) {
		go func() {
			if _, err := op(); err != nil {
				log.Printf("%s: %v", name, err)
				s.Update(rotator.Message(name + " failed: " + err.Error()))
			}
		}()
	}
	switch msg.Command {
	case "set":
		az, el := msg.Az, msg.El
		dispatch("set", func() (string, error) { return s.ctrl.SendCommand(az, el, s.Update) })
	case "stop":
		if err := s.ctrl.Stop(); err != nil {
			log.Printf("stop: %v", err)
		}
	case "calibrate":
		dispatch("calibrate", func() (string, error) { return s.ctrl.Calibrate(s.Update) })
	case "demo":
		dispatch("demo", func() (string, error) { return s.ctrl.RunDemo(s.Update) })
	case "nudge_az":
		dir, secs := msg.Direction, msg.Seconds
		dispatch("nudge_az", func() (string, error) { return s.ctrl.NudgeAzimuth(dir, secs, s.Update) })
	case "nudge_el":
		dir, secs := msg.Direction, msg.Seconds
		dispatch("nudge_el", func() (string, error) { return s.ctrl.NudgeElevation(dir, secs, s.Update) })
	case "reset":
		// Declare the current pose to be the reference without moving.
		s.store.SetPosition(0, 90)
		s.Update(rotator.Message("Position reset to azimuth 0, elevation 90"))
	case "horizon":
		az, _ := s.store.Position()
		dispatch("horizon", func() (string, error) { return s.ctrl.SendCommand(az, 0, s.Update) })
	case "set_config":
		if msg.Key == "" {
			return
		}
		s.store.SetConfig(msg.Key, msg.Value)
		s.Update(rotator.Message("Config " + msg.Key + " updated"))
	default:
		log.Printf("unknown command %q", msg.Command)
	}
}
