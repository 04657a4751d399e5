package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"

	"github.com/kf7ijz/peltrack/easycomm"
	"github.com/kf7ijz/peltrack/motion"
	"github.com/kf7ijz/peltrack/rotator"
	"github.com/kf7ijz/peltrack/state"
)

var (
	serialPort     = flag.String("serial", "", "serial port name")
	baud           = flag.Int("baud", 2400, "serial baud rate")
	address        = flag.Int("address", 1, "Pelco-D device address")
	easycommAddr   = flag.String("easycomm_addr", easycomm.DefaultAddr, "EasyComm/rotctld listen address")
	httpAddr       = flag.String("http_addr", "127.0.0.1:8502", "HTTP listen address")
	staticDir      = flag.String("static_dir", "static", "directory containing static files")
	configPath     = flag.String("config", "peltrack_config.json", "runtime config file")
	limitsPath     = flag.String("limits", "limits.json", "travel limits file")
	horizonDisplay = flag.Bool("horizon_display", false, "report elevation relative to the horizon instead of the lower stop")
	idleTimeout    = flag.Duration("idle_timeout", easycomm.DefaultIdleTimeout, "EasyComm client idle timeout")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	store := state.NewStore(*configPath, state.LoadLimits(*limitsPath))
	if *serialPort != "" {
		port, err := serial.OpenPort(&serial.Config{Name: *serialPort, Baud: *baud})
		if err != nil {
			log.Fatalf("opening %s: %v", *serialPort, err)
		}
		store.SetSerial(port)
	} else {
		log.Print("no -serial given; motion commands will fail until restart with a port")
	}

	ctrl := motion.NewController(store, byte(*address))
	transform := rotator.Transform(rotator.Identity)
	if *horizonDisplay {
		transform = rotator.HorizonReferenced
	}
	srv := NewServer(store, ctrl, transform)

	ec := &easycomm.Server{
		Addr:        *easycommAddr,
		IdleTimeout: *idleTimeout,
		Rotator:     ctrl,
		OnUpdate:    srv.Update,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler)
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
	httpSrv := &http.Server{
		Handler:           r,
		Addr:              *httpAddr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ec.ListenAndServe(ctx)
	})
	g.Go(func() error {
		log.Printf("http: listening on %s", *httpAddr)
		return httpSrv.ListenAndServe()
	})
	log.Fatal(g.Wait())
}
