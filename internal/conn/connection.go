package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chen3feng/stl4go"
	"github.com/cockroachdb/swiss"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/xgzlucario/redview/internal/loop"
)

var (
	DefaultOptions = Options{
		Mode:           ModeNormal,
		Addr:           "127.0.0.1:6379",
		PoolSize:       8,
		Workers:        4,
		CommandTimeout: 10 * time.Second,
		Logger:         zerolog.Nop(),
	}
)

// Options represents the configuration for a Connection.
type Options struct {
	Mode Mode

	Addr     string
	Username string
	Password string

	ClusterAddrs   []string
	SentinelMaster string
	SentinelAddrs  []string

	PoolSize       int           // Sockets per database client.
	Workers        int           // Goroutines doing blocking wire I/O.
	CommandTimeout time.Duration // Deadline of a single command or pipeline.

	Logger zerolog.Logger
}

// Connection implements Executor on top of go-redis. Blocking I/O runs on a worker
// pool, continuations are posted back to the owner loop.
type Connection struct {
	opts Options
	loop *loop.Loop

	clientsMu sync.Mutex
	clients   *swiss.Map[int, redis.UniversalClient]

	rawMu sync.Mutex
	raw   *redis.Conn

	stateMu   sync.RWMutex
	closed    bool
	workers   *pool.Pool
	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool

	// tasks waiting for a free worker, fed by a single dispatcher
	queueMu      sync.Mutex
	queue        *stl4go.Queue[func()]
	stopped      bool
	wake         chan struct{}
	drained      chan struct{}
	dispatchOnce sync.Once
}

var _ Executor = (*Connection)(nil)

func NewConnection(l *loop.Loop, opts Options) *Connection {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions.Workers
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultOptions.CommandTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opts:    opts,
		loop:    l,
		clients: swiss.New[int, redis.UniversalClient](16),
		workers: pool.New().WithMaxGoroutines(opts.Workers),
		ctx:     ctx,
		cancel:  cancel,
		queue:   stl4go.NewQueue[func()](),
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
}

func (c *Connection) Mode() Mode { return c.opts.Mode }

func (c *Connection) IsConnected() bool { return c.connected.Load() }

// Clone returns an unconnected copy with its own sockets, so background work never
// disturbs the database selected on this one.
func (c *Connection) Clone() *Connection {
	return NewConnection(c.loop, c.opts)
}

func (c *Connection) newClient(db int) redis.UniversalClient {
	switch c.opts.Mode {
	case ModeCluster:
		addrs := c.opts.ClusterAddrs
		if len(addrs) == 0 {
			addrs = []string{c.opts.Addr}
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:                 addrs,
			Username:              c.opts.Username,
			Password:              c.opts.Password,
			Protocol:              2,
			PoolSize:              c.opts.PoolSize,
			ContextTimeoutEnabled: true,
		})
	case ModeSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:            c.opts.SentinelMaster,
			SentinelAddrs:         c.opts.SentinelAddrs,
			Username:              c.opts.Username,
			Password:              c.opts.Password,
			DB:                    db,
			Protocol:              2,
			PoolSize:              c.opts.PoolSize,
			ContextTimeoutEnabled: true,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr:                  c.opts.Addr,
			Username:              c.opts.Username,
			Password:              c.opts.Password,
			DB:                    db,
			Protocol:              2,
			PoolSize:              c.opts.PoolSize,
			ContextTimeoutEnabled: true,
		})
	}
}

// client returns the client bound to db, cluster connections share one client.
func (c *Connection) client(db int) redis.UniversalClient {
	if c.opts.Mode == ModeCluster || db < 0 {
		db = 0
	}
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	cl, ok := c.clients.Get(db)
	if !ok {
		cl = c.newClient(db)
		c.clients.Put(db, cl)
	}
	return cl
}

// Connect checks the server is reachable. It blocks and must not run on the loop.
func (c *Connection) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.client(0).Ping(ctx).Err(); err != nil {
		c.opts.Logger.Error().Msgf("cannot connect to %s: %v", c.opts.Addr, err)
		return &Error{Kind: KindTransport, Msg: ErrCannotConnect.Msg, Err: err}
	}
	c.connected.Store(true)
	return nil
}

// KeyspaceInfo reads the databases the server reports as non-empty.
// A cluster exposes database 0 only, holding the key count summed over masters.
func (c *Connection) KeyspaceInfo(ctx context.Context) (*DatabaseList, error) {
	cl := c.client(0)
	if cc, ok := cl.(*redis.ClusterClient); ok {
		var total atomic.Int64
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := node.DBSize(ctx).Result()
			total.Add(n)
			return err
		})
		if err != nil {
			return nil, Transport(err)
		}
		list := NewDatabaseList()
		list.Insert(0, total.Load())
		return list, nil
	}

	info, err := cl.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, Transport(err)
	}
	return ParseKeyspace(info), nil
}

// ClusterKeys scans every master for keys matching pattern. It blocks.
func (c *Connection) ClusterKeys(ctx context.Context, pattern string, count int64) ([]string, error) {
	cc, ok := c.client(0).(*redis.ClusterClient)
	if !ok {
		return nil, Domainf("%s connection is not a cluster", c.opts.Mode)
	}
	var mu sync.Mutex
	var keys []string
	err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		iter := node.Scan(ctx, 0, pattern, count).Iterator()
		var found []string
		for iter.Next(ctx) {
			found = append(found, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, found...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, Transport(err)
	}
	return keys, nil
}

// FlushCluster empties every master of a cluster. It blocks.
func (c *Connection) FlushCluster(ctx context.Context) error {
	cc, ok := c.client(0).(*redis.ClusterClient)
	if !ok {
		return Domainf("%s connection is not a cluster", c.opts.Mode)
	}
	err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		return node.FlushDB(ctx).Err()
	})
	return Transport(err)
}

func (c *Connection) isClosed() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.closed
}

// enqueue hands task to the dispatcher. It never waits for a free worker, so
// callers on the loop are not held up by slow commands.
func (c *Connection) enqueue(task func()) {
	c.dispatchOnce.Do(func() { go c.dispatch() })

	c.queueMu.Lock()
	c.queue.PushBack(task)
	c.queueMu.Unlock()
	c.signal()
}

func (c *Connection) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatch feeds queued tasks to the workers in submission order. Only the
// dispatcher blocks while every worker is busy. It exits once stopped and drained.
func (c *Connection) dispatch() {
	defer close(c.drained)
	for {
		c.queueMu.Lock()
		task, ok := c.queue.PopFront()
		stopped := c.stopped
		c.queueMu.Unlock()

		switch {
		case ok:
			c.workers.Go(task)
		case stopped:
			return
		default:
			<-c.wake
		}
	}
}

// Cmd issues one command on a worker and posts exactly one continuation to the loop.
func (c *Connection) Cmd(args []string, db int, onSuccess func(Response), onFailure func(error)) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.closed {
		c.loop.Post(func() { onFailure(ErrClosed) })
		return
	}
	c.enqueue(func() {
		resp, err := c.do(args, db)
		if err != nil {
			c.opts.Logger.Warn().Msgf("command %v failed: %v", args, err)
			c.loop.Post(func() { onFailure(err) })
			return
		}
		c.loop.Post(func() { onSuccess(resp) })
	})
}

// PipelinedCmd sends every command before reading any reply and posts one
// continuation per command.
func (c *Connection) PipelinedCmd(cmds [][]string, db int, onEach func(Response, error)) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.closed {
		for range cmds {
			c.loop.Post(func() { onEach(Response{}, ErrClosed) })
		}
		return
	}
	c.enqueue(func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.CommandTimeout)
		defer cancel()

		pipe := c.client(db).Pipeline()
		queued := make([]*redis.Cmd, len(cmds))
		for i, args := range cmds {
			queued[i] = redis.NewCmd(ctx, toArgs(args)...)
			_ = pipe.Process(ctx, queued[i])
		}
		// per-command errors are read from each Cmd below
		_, _ = pipe.Exec(ctx)

		for _, cmd := range queued {
			resp, err := toResponse(cmd)
			c.loop.Post(func() { onEach(resp, err) })
		}
	})
}

func (c *Connection) do(args []string, db int) (Response, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.CommandTimeout)
	defer cancel()

	cmd := redis.NewCmd(ctx, toArgs(args)...)
	if db < 0 {
		if err := c.processRaw(ctx, cmd); err != nil && cmd.Err() == nil {
			return Response{}, err
		}
	} else {
		_ = c.client(db).Process(ctx, cmd)
	}
	return toResponse(cmd)
}

// processRaw runs cmd on the single sticky session socket.
func (c *Connection) processRaw(ctx context.Context, cmd *redis.Cmd) error {
	c.rawMu.Lock()
	defer c.rawMu.Unlock()

	if c.raw == nil {
		cl, ok := c.client(0).(*redis.Client)
		if !ok {
			return Domainf("%s connection has no session socket", c.opts.Mode)
		}
		c.raw = cl.Conn()
	}
	return c.raw.Process(ctx, cmd)
}

// Disconnect closes every socket. Pending commands fail with transport errors.
// It blocks until workers drain, so never call it from the loop.
func (c *Connection) Disconnect() {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.stateMu.Unlock()

	c.dispatchOnce.Do(func() { go c.dispatch() })
	c.queueMu.Lock()
	c.stopped = true
	c.queueMu.Unlock()
	c.signal()
	<-c.drained

	c.workers.Wait()
	c.connected.Store(false)

	c.rawMu.Lock()
	if c.raw != nil {
		c.raw.Close()
		c.raw = nil
	}
	c.rawMu.Unlock()

	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	c.clients.All(func(db int, cl redis.UniversalClient) bool {
		if err := cl.Close(); err != nil {
			c.opts.Logger.Debug().Msgf("close client db%d: %v", db, err)
		}
		return true
	})
	c.clients = swiss.New[int, redis.UniversalClient](16)
}

func toArgs(args []string) []any {
	res := make([]any, len(args))
	for i, a := range args {
		res[i] = a
	}
	return res
}

func toResponse(cmd *redis.Cmd) (Response, error) {
	val, err := cmd.Result()
	if err == nil {
		return NewResponse(val), nil
	}
	if errors.Is(err, redis.Nil) {
		return NewResponse(nil), nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return ErrorResponse(rerr.Error()), nil
	}
	return Response{}, Transport(err)
}
