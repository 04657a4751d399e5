// Package easycomm serves the line-oriented EasyComm/Hamlib text protocol
// spoken by satellite trackers such as Gpredict over TCP.
package easycomm

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kf7ijz/peltrack/rotator"
)

// DefaultAddr is the listen address rotctld-compatible clients expect.
const DefaultAddr = ":4533"

// DefaultIdleTimeout closes connections with no traffic.
const DefaultIdleTimeout = 60 * time.Second

// Server accepts TCP clients and translates their commands into rotator
// calls. Motion commands are dispatched into the background; the rotator's
// own motion lock serializes them, the server holds no motion state.
type Server struct {
	Addr        string
	IdleTimeout time.Duration
	Rotator     rotator.Rotator
	// OnUpdate, if set, receives updates from dispatched motion commands.
	OnUpdate rotator.UpdateFunc
}

// ListenAndServe accepts clients until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("easycomm: listening on %s", ln.Addr())
	go func() {
		<-ctx.Done()
		log.Print("easycomm: shutdown; closing listener")
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("easycomm: accept: %v", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	log.Printf("easycomm: accepted connection from %v", conn.RemoteAddr())
	idle := s.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		conn.SetReadDeadline(time.Now().Add(idle))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var cmds []string
			cmds, buf = splitCommands(buf)
			for _, cmd := range cmds {
				s.dispatch(conn, cmd)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("easycomm: %v: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// splitCommands splits buffered bytes on newline and semicolon terminators,
// returning the complete commands and retaining the partial tail for the
// next read.
func splitCommands(buf []byte) ([]string, []byte) {
	var cmds []string
	start := 0
	for i, b := range buf {
		if b == '\n' || b == '\r' || b == ';' {
			cmds = append(cmds, string(buf[start:i]))
			start = i + 1
		}
	}
	return cmds, append(buf[:0], buf[start:]...)
}

func (s *Server) dispatch(conn io.Writer, line string) {
	if !utf8.ValidString(line) {
		io.WriteString(conn, "ERR\n")
		return
	}
	cmd := strings.ToUpper(strings.TrimSpace(line))
	if cmd == "" {
		return
	}
	switch cmd {
	case "GET":
		az, el := s.Rotator.Position()
		fmt.Fprintf(conn, "AZ%.1f EL%.1f\n", az, el)
		return
	case "STOP":
		if err := s.Rotator.Stop(); err != nil {
			log.Printf("easycomm: stop: %v", err)
			io.WriteString(conn, "ERR\n")
			return
		}
		io.WriteString(conn, "OK\n")
		return
	}
	az, el, ok := ParseCommand(cmd)
	if !ok {
		io.WriteString(conn, "ERR\n")
		return
	}
	go func() {
		if _, err := s.Rotator.SendCommand(az, el, s.OnUpdate); err != nil {
			log.Printf("easycomm: move az=%.1f el=%.1f: %v", az, el, err)
		}
	}()
	io.WriteString(conn, "OK\n")
}

// ParseCommand parses a set-position command in either the EasyComm dialect
// ("AZ180.0 EL45.0", no separator required before the EL marker) or the
// Hamlib style ("P 180 45"; "AZEL 180 45" is an accepted alternate
// spelling). The input must already be upper-cased and trimmed.
func ParseCommand(cmd string) (float64, float64, bool) {
	switch {
	case strings.HasPrefix(cmd, "P "), strings.HasPrefix(cmd, "AZEL "):
		fields := strings.Fields(cmd)
		if len(fields) < 3 {
			return 0, 0, false
		}
		az, errAz := strconv.ParseFloat(fields[1], 64)
		el, errEl := strconv.ParseFloat(fields[2], 64)
		if errAz != nil || errEl != nil {
			return 0, 0, false
		}
		return az, el, true
	case strings.HasPrefix(cmd, "AZ") && strings.Contains(cmd, "EL"):
		i := strings.Index(cmd, "EL")
		az, errAz := strconv.ParseFloat(strings.TrimSpace(cmd[2:i]), 64)
		el, errEl := strconv.ParseFloat(strings.TrimSpace(cmd[i+2:]), 64)
		if errAz != nil || errEl != nil {
			return 0, 0, false
		}
		return az, el, true
	}
	return 0, 0, false
}
