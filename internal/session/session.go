// Package session owns the shared connection of one server and the operations
// a key tree runs against it.
package session

import (
	"context"
	"time"

	"github.com/cockroachdb/swiss"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/discovery"
	"github.com/xgzlucario/redview/internal/loop"
	"github.com/xgzlucario/redview/internal/model"
)

var DefaultConfig = Config{
	DatabaseScanLimit:  20,
	KeysPattern:        "*",
	NamespaceSeparator: ":",
	ScanCount:          100,
	AggregateTimeout:   30 * time.Second,
	Model:              model.DefaultOptions,
	Logger:             zerolog.Nop(),
}

type Config struct {
	DatabaseScanLimit  int
	KeysPattern        string
	NamespaceSeparator string
	ScanCount          int64 // COUNT hint of SCAN pages
	AggregateTimeout   time.Duration
	Model              model.Options
	Logger             zerolog.Logger
}

type Callback func(err error)

type keyID struct {
	db  int
	key string
}

// Session methods run on the loop unless stated otherwise.
type Session struct {
	loop *loop.Loop
	cfg  Config
	conn *conn.Connection
	bulk BulkRunner

	discovery *discovery.Discovery
	scanOp    *discovery.Deferred

	models        *swiss.Map[keyID, model.KeyModel]
	supported     mapset.Set[string]
	unsupported   mapset.Set[string]
	filterHistory map[string]int

	ctx    context.Context
	cancel context.CancelFunc
}

func New(l *loop.Loop, c *conn.Connection, cfg Config, bulk BulkRunner) *Session {
	if cfg.KeysPattern == "" {
		cfg.KeysPattern = DefaultConfig.KeysPattern
	}
	if cfg.NamespaceSeparator == "" {
		cfg.NamespaceSeparator = DefaultConfig.NamespaceSeparator
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultConfig.ScanCount
	}
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = DefaultConfig.AggregateTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		loop: l,
		cfg:  cfg,
		conn: c,
		bulk: bulk,
		discovery: discovery.New(l, discovery.Options{
			ScanLimit: cfg.DatabaseScanLimit,
			Logger:    cfg.Logger,
		}),
		models:        swiss.New[keyID, model.KeyModel](8),
		supported:     mapset.NewSet[string](),
		unsupported:   mapset.NewSet[string](),
		filterHistory: map[string]int{},
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *Session) Connection() *conn.Connection { return s.conn }

// Mode names the server topology: standalone, sentinel or cluster.
func (s *Session) Mode() string { return s.conn.Mode().String() }

func (s *Session) IsConnected() bool { return s.conn.IsConnected() }

// connect pings the shared connection once, off the loop.
func (s *Session) connect(cb Callback) {
	c := s.conn
	if c.IsConnected() {
		cb(nil)
		return
	}
	go func() {
		err := c.Connect(s.ctx)
		s.loop.Post(func() { cb(err) })
	}()
}

// GetDatabases discovers databases on a clone of the shared connection, so
// SELECT probes never move the database the shared one works on.
func (s *Session) GetDatabases(cb discovery.Callback) *discovery.Deferred {
	s.scanOp = s.discovery.Run(s.conn.Clone(), cb)
	return s.scanOp
}

// ResetConnection swaps in a fresh clone and closes the old connection in the
// background. Opened models keep the old one and must be reopened.
func (s *Session) ResetConnection() {
	old := s.conn
	s.conn = old.Clone()
	if n := s.models.Len(); n > 0 {
		s.cfg.Logger.Warn().Msgf("connection reset, %d opened keys dropped", n)
	}
	s.models = swiss.New[keyID, model.KeyModel](8)
	go old.Disconnect()
}

// Close cancels pending discovery and closes the shared connection. It blocks,
// call it from outside the loop.
func (s *Session) Close() {
	c, op := s.conn, s.scanOp
	s.loop.Sync(func() { c, op = s.conn, s.scanOp })

	s.cancel()
	if op != nil {
		op.Cancel()
	}
	c.Disconnect()
}

// FilterHistory counts how often each key filter was used.
func (s *Session) FilterHistory() map[string]int {
	res := make(map[string]int, len(s.filterHistory))
	for k, v := range s.filterHistory {
		res[k] = v
	}
	return res
}
