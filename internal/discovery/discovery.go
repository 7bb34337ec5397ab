// Package discovery enumerates the logical databases reachable through a connection.
package discovery

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/loop"
)

type State int32

const (
	Idle State = iota
	Connecting
	ClusterList
	RecursiveProbe
	Done
	Failed
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case ClusterList:
		return "cluster-list"
	case RecursiveProbe:
		return "recursive-probe"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Connection is what discovery needs from a dedicated, cloned connection.
// Connect, KeyspaceInfo and Disconnect block.
type Connection interface {
	conn.Executor
	Connect(ctx context.Context) error
	Mode() conn.Mode
	KeyspaceInfo(ctx context.Context) (*conn.DatabaseList, error)
	Disconnect()
}

// Callback receives the discovered databases, or an empty list and an error
// when the server could not be reached at all.
type Callback func(dbs *conn.DatabaseList, err error)

var DefaultOptions = Options{
	ScanLimit: 20,
	Logger:    zerolog.Nop(),
}

type Options struct {
	// ScanLimit is the highest database index a SELECT probe may try.
	ScanLimit int
	Logger    zerolog.Logger
}

// Discovery remembers how many databases earlier runs found, so later runs
// fill the gap up to that count without probing again.
type Discovery struct {
	loop    *loop.Loop
	opts    Options
	dbCount int // owned by the loop
	state   atomic.Int32
}

func New(l *loop.Loop, opts Options) *Discovery {
	return &Discovery{loop: l, opts: opts}
}

// run is the state of one discovery pass.
type run struct {
	*Discovery
	d   *Deferred
	c   Connection
	cb  Callback
	dbs *conn.DatabaseList
}

// Run starts discovery on c, which is owned by the run and torn down on cancel.
// cb is invoked on the loop, never after the returned handle was canceled.
func (ds *Discovery) Run(c Connection, cb Callback) *Deferred {
	r := &run{Discovery: ds, d: NewDeferred(), c: c, cb: cb}
	r.d.OnCanceled(func() {
		r.setState(Canceled)
		c.Disconnect()
	})
	go r.connect()
	return r.d
}

// State reports where the latest run is.
func (ds *Discovery) State() State { return State(ds.state.Load()) }

func (r *run) setState(s State) {
	r.state.Store(int32(s))
	r.opts.Logger.Debug().Msgf("database discovery: %s", s)
}

// connect runs off the loop, it blocks on the network.
func (r *run) connect() {
	r.setState(Connecting)
	ctx := r.d.Context()

	if err := r.c.Connect(ctx); err != nil {
		r.loop.Post(func() { r.fail(err) })
		return
	}
	if r.d.IsCanceled() {
		return
	}
	dbs, err := r.c.KeyspaceInfo(ctx)
	if err != nil {
		r.loop.Post(func() { r.fail(err) })
		return
	}
	r.loop.Post(func() { r.afterKeyspace(dbs) })
}

func (r *run) afterKeyspace(dbs *conn.DatabaseList) {
	if r.d.IsCanceled() {
		return
	}
	r.dbs = dbs
	if r.c.Mode() == conn.ModeCluster {
		r.setState(ClusterList)
		r.finish()
		return
	}

	next := 0
	if last, ok := dbs.LastIndex(); ok {
		next = last + 1
	}
	if r.dbCount > 0 {
		for index := next; index < r.dbCount; index++ {
			dbs.Insert(index, 0)
		}
		r.finish()
		return
	}
	r.dbCount = next
	r.setState(RecursiveProbe)
	r.probe()
}

// probe selects dbCount on the session socket, one probe at a time.
func (r *run) probe() {
	if r.d.IsCanceled() {
		return
	}
	if r.dbCount > r.opts.ScanLimit {
		r.finish()
		return
	}
	r.c.Cmd([]string{"SELECT", strconv.Itoa(r.dbCount)}, -1, func(resp conn.Response) {
		if r.d.IsCanceled() {
			return
		}
		if !resp.IsOkMessage() {
			r.finish()
			return
		}
		r.dbs.Insert(r.dbCount, 0)
		r.dbCount++
		r.probe()
	}, func(err error) {
		if r.dbs.Len() > 0 {
			r.finish()
			return
		}
		r.fail(err)
	})
}

func (r *run) finish() {
	if !r.d.complete() {
		return
	}
	r.setState(Done)
	go r.c.Disconnect()
	r.cb(r.dbs, nil)
}

func (r *run) fail(err error) {
	if !r.d.complete() {
		return
	}
	r.setState(Failed)
	go r.c.Disconnect()
	r.opts.Logger.Error().Msgf("database discovery failed: %v", err)
	r.cb(conn.NewDatabaseList(), err)
}
