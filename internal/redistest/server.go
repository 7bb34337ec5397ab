// Package redistest runs a scriptable RESP server for commands the in-memory
// fakes do not speak, such as MEMORY USAGE or INFO keyspace.
package redistest

import (
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/tidwall/redcon"
)

// Handler answers one command. db is the database selected on the calling socket.
type Handler func(w redcon.Conn, db int, args []string)

type Server struct {
	srv *redcon.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
}

// Run starts a server on a random local port and stops it when the test ends.
func Run(t testing.TB) *Server {
	s := &Server{
		handlers: map[string]Handler{},
		calls:    map[string]int{},
	}
	s.srv = redcon.NewServer("127.0.0.1:0", s.serve,
		func(conn redcon.Conn) bool {
			conn.SetContext(0)
			return true
		},
		nil,
	)

	signal := make(chan error, 1)
	go func() {
		_ = s.srv.ListenServeAndSignal(signal)
	}()
	if err := <-signal; err != nil {
		t.Fatalf("redistest: %v", err)
	}
	t.Cleanup(func() { s.srv.Close() })
	return s
}

func (s *Server) Addr() string { return s.srv.Addr().String() }

// Handle registers h for the command verb, replacing any previous handler.
func (s *Server) Handle(verb string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(verb)] = h
}

// Calls returns how many times verb was received.
func (s *Server) Calls(verb string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToUpper(verb)]
}

func (s *Server) serve(conn redcon.Conn, cmd redcon.Command) {
	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = string(a)
	}
	verb := strings.ToUpper(args[0])

	s.mu.Lock()
	s.calls[verb]++
	h, ok := s.handlers[verb]
	s.mu.Unlock()

	db, _ := conn.Context().(int)
	if ok {
		h(conn, db, args)
		return
	}

	switch verb {
	case "PING":
		conn.WriteString("PONG")
	case "SELECT":
		if len(args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'select' command")
			return
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			conn.WriteError("ERR value is not an integer or out of range")
			return
		}
		conn.SetContext(n)
		conn.WriteString("OK")
	default:
		conn.WriteError("ERR unknown command '" + args[0] + "'")
	}
}

// SelectLimit makes SELECT fail for every database at or above limit.
func (s *Server) SelectLimit(limit int) {
	s.Handle("SELECT", func(w redcon.Conn, _ int, args []string) {
		n, err := strconv.Atoi(args[1])
		if err != nil || n >= limit {
			w.WriteError("ERR DB index is out of range")
			return
		}
		w.SetContext(n)
		w.WriteString("OK")
	})
}
