package model

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/rcache"
)

type (
	Callback         func(err error)
	LoadRowsCallback func(loaded int, err error)
)

// Row carries the editable fields of a row: "key", "value", "score", "id", "mode".
type Row map[string]string

// KeyModel is the consumer-facing view of one remote key. All methods must be
// called on the owner loop; callbacks are delivered there exactly once.
type KeyModel interface {
	Type() string
	KeyName() string
	DB() int
	TTL() int64
	ColumnNames() []string

	RowsCount() int64
	LoadRowsCount(cb Callback)
	LoadRows(anchor, count int64, cb LoadRowsCallback)
	IsRowLoaded(index int64) bool
	GetData(index int64, field string) (any, bool)

	AddRow(row Row, cb Callback)
	UpdateRow(index int64, row Row, cb Callback)
	RemoveRow(index int64, cb Callback)

	IsRemoved() bool
	SetRemoved()
	ClearCache()
}

type loadMode int

const (
	loadRange loadMode = iota
	loadScan
	loadSingle
)

// kind is the per-type strategy plugged into the shared engine.
type kind[T any] interface {
	typeName() string
	columns() []string
	mode() loadMode

	// width is the number of reply elements making up one row.
	width() int64

	// countCmd is nil for single-row values.
	countCmd(key string) []string

	// rangeCmd returns the command fetching count rows from anchor and the
	// index of the first row it returns. Scan kinds return the command verb.
	rangeCmd(m *Model[T], anchor, count int64) (args []string, start int64)

	decode(items []any) ([]T, error)
	field(row T, field string) (any, bool)

	add(key string, row Row) ([]step, error)
	update(key string, index int64, old T, row Row) ([]step, T, error)
	remove(key string, index int64, old T) ([]step, error)
}

var DefaultOptions = Options{
	ScanCount: 500,
	Logger:    zerolog.Nop(),
}

type Options struct {
	ScanCount int64 // COUNT hint of a single HSCAN/SSCAN page.
	Logger    zerolog.Logger
}

// Model is the row-virtualization engine shared by every key type: a sparse
// cache of fetched rows in front of the remote collection.
type Model[T any] struct {
	exec     conn.Executor
	key      string
	db       int
	ttl      int64
	rowCount int64
	removed  bool

	cache *rcache.Cache[T]
	kind  kind[T]
	opts  Options

	// shifts counts cache changes that moved row indexes. A write completing
	// after a shift can no longer trust the index it captured.
	shifts uint64
}

func newModel[T any](exec conn.Executor, db int, key string, ttl int64, k kind[T], opts Options) *Model[T] {
	if opts.ScanCount <= 0 {
		opts.ScanCount = DefaultOptions.ScanCount
	}
	m := &Model[T]{
		exec:  exec,
		key:   key,
		db:    db,
		ttl:   ttl,
		cache: rcache.New[T](),
		kind:  k,
		opts:  opts,
	}
	if k.countCmd(key) == nil {
		m.rowCount = 1
	}
	return m
}

func (m *Model[T]) Type() string          { return m.kind.typeName() }
func (m *Model[T]) KeyName() string       { return m.key }
func (m *Model[T]) DB() int               { return m.db }
func (m *Model[T]) TTL() int64            { return m.ttl }
func (m *Model[T]) ColumnNames() []string { return m.kind.columns() }
func (m *Model[T]) RowsCount() int64      { return m.rowCount }
func (m *Model[T]) IsRemoved() bool       { return m.removed }
func (m *Model[T]) SetRemoved()           { m.removed = true }

func (m *Model[T]) ClearCache() {
	m.cache.Clear()
	m.shifts++
}

func (m *Model[T]) IsRowLoaded(index int64) bool { return m.cache.IsLoaded(index) }

// LoadRowsCount refreshes the cached row count.
func (m *Model[T]) LoadRowsCount(cb Callback) {
	args := m.kind.countCmd(m.key)
	if args == nil {
		cb(nil)
		return
	}
	m.exec.Cmd(args, m.db, func(r conn.Response) {
		if err := r.Err(); err != nil {
			cb(err)
			return
		}
		n, ok := r.Int64()
		if !ok {
			cb(conn.Decodef("%s: cannot read row count", m.key))
			return
		}
		m.rowCount = n
		cb(nil)
	}, cb)
}

// GetData reads from the cache only, ok is false until the row is loaded.
func (m *Model[T]) GetData(index int64, field string) (any, bool) {
	row, ok := m.cache.Get(index)
	if !ok {
		return nil, false
	}
	if field == "rowNumber" {
		return index, true
	}
	return m.kind.field(row, field)
}

// LoadRows fetches the window [anchor, anchor+count) into the cache. Rows are
// committed only when the whole reply decodes.
func (m *Model[T]) LoadRows(anchor, count int64, cb LoadRowsCallback) {
	if anchor < 0 || count <= 0 {
		cb(0, conn.Domainf("invalid rows window %d+%d", anchor, count))
		return
	}
	if m.kind.mode() == loadScan {
		m.scan(anchor+count, cb)
		return
	}
	args, start := m.kind.rangeCmd(m, anchor, count)
	m.exec.Cmd(args, m.db, func(r conn.Response) {
		if err := r.Err(); err != nil {
			cb(0, err)
			return
		}
		var items []any
		if m.kind.mode() == loadSingle {
			items = []any{r.Value()}
		} else {
			arr, ok := r.Array()
			if !ok && !r.IsNil() {
				cb(0, conn.ErrUnexpected)
				return
			}
			items = arr
		}
		m.commit(start, items, cb)
	}, func(err error) { cb(0, err) })
}

func (m *Model[T]) commit(start int64, items []any, cb LoadRowsCallback) {
	rows, err := m.kind.decode(items)
	if err != nil {
		m.opts.Logger.Error().Msgf("%s: %v", m.key, err)
		cb(0, err)
		return
	}
	if len(rows) > 0 {
		r := rcache.Range{Lo: start, Hi: start + int64(len(rows)) - 1}
		if err := m.cache.AddLoadedRange(r, rows); err != nil {
			cb(0, err)
			return
		}
	}
	cb(len(rows), nil)
}

// scan walks a cursor from the start of the collection until want elements are
// collected or the cursor wraps, then caches everything collected from row 0.
func (m *Model[T]) scan(want int64, cb LoadRowsCallback) {
	verb, _ := m.kind.rangeCmd(m, 0, want)
	var collected []any
	var walk func(cursor string)
	walk = func(cursor string) {
		args := []string{verb[0], m.key, cursor, "COUNT", strconv.FormatInt(m.opts.ScanCount, 10)}
		m.exec.Cmd(args, m.db, func(r conn.Response) {
			if err := r.Err(); err != nil {
				cb(0, err)
				return
			}
			next, page, err := scanPage(r)
			if err != nil {
				cb(0, err)
				return
			}
			collected = append(collected, page...)
			if next == "0" || int64(len(collected)) >= want*m.kind.width() {
				m.commit(0, collected, cb)
				return
			}
			walk(next)
		}, func(err error) { cb(0, err) })
	}
	walk("0")
}

func scanPage(r conn.Response) (string, []any, error) {
	arr, ok := r.Array()
	if !ok || len(arr) != 2 {
		return "", nil, conn.ErrUnexpected
	}
	cursor, ok := arr[0].(string)
	if !ok {
		return "", nil, conn.ErrUnexpected
	}
	page, ok := arr[1].([]any)
	if !ok && arr[1] != nil {
		return "", nil, conn.ErrUnexpected
	}
	return cursor, page, nil
}

func (m *Model[T]) writable(cb Callback) bool {
	if m.removed {
		cb(ErrKeyRemoved)
		return false
	}
	return true
}

func (m *Model[T]) AddRow(row Row, cb Callback) {
	if !m.writable(cb) {
		return
	}
	steps, err := m.kind.add(m.key, row)
	if err != nil {
		cb(err)
		return
	}
	m.run(steps, func(err error, _ int) {
		switch {
		case errors.Is(err, errUnchanged):
			cb(nil)
		case err != nil:
			cb(err)
		default:
			m.rowCount++
			if row["mode"] == "prepend" {
				// every cached index moved by one
				m.ClearCache()
			}
			cb(nil)
		}
	})
}

// UpdateRow rewrites a loaded row. The cache is patched only after the last step
// succeeds; when an earlier mutating step already applied, the failure is logged
// and reported as ErrPartialUpdate without rollback.
func (m *Model[T]) UpdateRow(index int64, row Row, cb Callback) {
	if !m.writable(cb) {
		return
	}
	old, ok := m.cache.Get(index)
	if !ok {
		cb(ErrRowNotLoaded)
		return
	}
	steps, updated, err := m.kind.update(m.key, index, old, row)
	if err != nil {
		cb(err)
		return
	}
	shifts := m.shifts
	m.run(steps, func(err error, applied int) {
		if errors.Is(err, errUnchanged) {
			err = nil
		}
		if err != nil {
			if applied > 0 {
				m.opts.Logger.Warn().Msgf("%s: row %d left half updated: %v", m.key, index, err)
				cb(fmt.Errorf("%w: %w", ErrPartialUpdate, err))
				return
			}
			cb(err)
			return
		}
		m.patch(index, shifts, updated)
		cb(nil)
	})
}

// patch stores updated at index unless rows moved since the write was issued.
// A stale index drops the cache, the next load reads the server state.
func (m *Model[T]) patch(index int64, shifts uint64, updated T) {
	if shifts == m.shifts {
		if err := m.cache.Replace(index, updated); err == nil {
			return
		}
	}
	m.opts.Logger.Debug().Msgf("%s: row %d moved while updating, cache dropped", m.key, index)
	m.ClearCache()
}

// RemoveRow deletes a loaded row. Removing the last row marks the model removed,
// as the server drops empty collections.
func (m *Model[T]) RemoveRow(index int64, cb Callback) {
	if !m.writable(cb) {
		return
	}
	old, ok := m.cache.Get(index)
	if !ok {
		cb(ErrRowNotLoaded)
		return
	}
	steps, err := m.kind.remove(m.key, index, old)
	if err != nil {
		cb(err)
		return
	}
	shifts := m.shifts
	m.run(steps, func(err error, _ int) {
		if err != nil {
			cb(err)
			return
		}
		m.rowCount--
		if shifts == m.shifts {
			m.cache.RemoveAt(index)
			m.shifts++
		} else {
			m.opts.Logger.Debug().Msgf("%s: row %d moved while removing, cache dropped", m.key, index)
			m.ClearCache()
		}
		if m.rowCount <= 0 {
			m.rowCount = 0
			m.removed = true
		}
		cb(nil)
	})
}

func (m *Model[T]) run(steps []step, done func(err error, applied int)) {
	runSteps(m.exec, m.db, steps, func(s step, err error) {
		m.opts.Logger.Warn().Msgf("%s: %s failed: %v", m.key, s.args[0], err)
	}, done)
}
