// Command pelcoquery polls a Pelco-D head for its reported pan and tilt
// angles. Useful for checking whether a particular unit implements the
// optional query opcodes and what its feedback says after a move.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/tarm/serial"

	"github.com/kf7ijz/peltrack/pelco"
)

var (
	port     = flag.String("port", "", "serial port name")
	baud     = flag.Int("baud", 2400, "serial baud rate")
	address  = flag.Int("address", 1, "Pelco-D device address")
	timeout  = flag.Duration("timeout", 350*time.Millisecond, "per-query read timeout")
	panOnly  = flag.Bool("pan_only", false, "query only the pan angle")
	tiltOnly = flag.Bool("tilt_only", false, "query only the tilt angle")
	verbose  = flag.Bool("verbose", false, "dump raw bytes received")
)

func main() {
	flag.Parse()
	if *port == "" {
		log.Fatal("-port is required")
	}
	s, err := serial.OpenPort(&serial.Config{Name: *port, Baud: *baud, ReadTimeout: *timeout})
	if err != nil {
		log.Fatalf("opening %s: %v", *port, err)
	}
	defer s.Close()

	addr := byte(*address)
	if !*tiltOnly {
		if deg, err := query(s, addr, pelco.QueryPan, pelco.PanResponse); err != nil {
			log.Printf("pan: %v", err)
		} else {
			fmt.Printf("pan: %.2f\n", deg)
		}
	}
	if !*panOnly {
		if deg, err := query(s, addr, pelco.QueryTilt, pelco.TiltResponse); err != nil {
			log.Printf("tilt: %v", err)
		} else {
			fmt.Printf("tilt: %.2f\n", deg)
		}
	}
}

// query writes one query frame and accumulates reads until a valid response
// frame appears or the port times out.
func query(s *serial.Port, addr, opcode, want byte) (float64, error) {
	if _, err := s.Write(pelco.QueryFrame(addr, opcode)); err != nil {
		return 0, err
	}
	var buf []byte
	chunk := make([]byte, 64)
	deadline := time.Now().Add(2 * *timeout)
	for time.Now().Before(deadline) {
		n, err := s.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if *verbose {
				log.Printf("recv % x", chunk[:n])
			}
			if frame, _ := pelco.ScanFrame(buf, want); frame != nil {
				return pelco.Centidegrees(frame[4], frame[5]), nil
			}
		}
		if err != nil {
			break
		}
	}
	return 0, fmt.Errorf("no response for opcode %#02x (received % x)", want, buf)
}
