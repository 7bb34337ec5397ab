package session

import (
	"fmt"
	"slices"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tidwall/match"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/model"
)

// OpenKey returns the opened model of key, building it on first use.
func (s *Session) OpenKey(db int, key string, cb func(model.KeyModel, error)) {
	id := keyID{db, key}
	if m, ok := s.models.Get(id); ok && !m.IsRemoved() {
		cb(m, nil)
		return
	}
	s.connect(func(err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		model.Open(s.conn, db, key, s.cfg.Model, func(m model.KeyModel, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			s.models.Put(id, m)
			cb(m, nil)
		})
	})
}

// CloseKey forgets the opened model of key.
func (s *Session) CloseKey(db int, key string) {
	s.models.Delete(keyID{db, key})
}

// OpenedKeys reports how many models are open.
func (s *Session) OpenedKeys() int { return s.models.Len() }

func (s *Session) DeleteKey(db int, key string, cb Callback) {
	s.conn.Cmd([]string{"DEL", key}, db, func(r conn.Response) {
		if err := r.Err(); err != nil {
			cb(fmt.Errorf("delete key error: %w", err))
			return
		}
		id := keyID{db, key}
		if m, ok := s.models.Get(id); ok {
			m.SetRemoved()
			s.models.Delete(id)
		}
		cb(nil)
	}, func(err error) {
		cb(fmt.Errorf("delete key error: %w", err))
	})
}

// NotifyKeysRemoved marks every opened model of db whose key matches the glob
// pattern as removed and closes it. It returns how many models were closed.
func (s *Session) NotifyKeysRemoved(db int, pattern string) int {
	var removed []keyID
	s.models.All(func(id keyID, m model.KeyModel) bool {
		if id.db == db && match.Match(id.key, pattern) {
			m.SetRemoved()
			removed = append(removed, id)
		}
		return true
	})
	for _, id := range removed {
		s.models.Delete(id)
	}
	return len(removed)
}

// LoadNamespaceItems lists the keys of db matching filter, or the configured
// pattern when filter is empty. Keys are de-duplicated and sorted.
func (s *Session) LoadNamespaceItems(db int, filter string, cb func(keys []string, err error)) {
	pattern := filter
	if pattern == "" {
		pattern = s.cfg.KeysPattern
	}
	s.filterHistory[pattern]++

	fail := func(err error) {
		cb(nil, fmt.Errorf("cannot load keys: %w", err))
	}
	s.connect(func(err error) {
		if err != nil {
			fail(err)
			return
		}
		c := s.conn
		if c.Mode() == conn.ModeCluster {
			go func() {
				keys, err := c.ClusterKeys(s.ctx, pattern, s.cfg.ScanCount)
				s.loop.Post(func() {
					if err != nil {
						fail(err)
						return
					}
					cb(sortedKeys(mapset.NewThreadUnsafeSet(keys...)), nil)
				})
			}()
			return
		}
		c.Cmd([]string{"PING"}, db, func(r conn.Response) {
			if err := r.Err(); err != nil {
				fail(err)
				return
			}
			s.scanKeys(c, db, pattern, cb, fail)
		}, fail)
	})
}

// scanKeys walks SCAN to the end. SCAN may return a key more than once.
func (s *Session) scanKeys(c conn.Executor, db int, pattern string, cb func([]string, error), fail func(error)) {
	keys := mapset.NewThreadUnsafeSet[string]()
	count := strconv.FormatInt(s.cfg.ScanCount, 10)

	var walk func(cursor string)
	walk = func(cursor string) {
		c.Cmd([]string{"SCAN", cursor, "MATCH", pattern, "COUNT", count}, db, func(r conn.Response) {
			if err := r.Err(); err != nil {
				fail(err)
				return
			}
			arr, ok := r.Array()
			if !ok || len(arr) != 2 {
				fail(conn.ErrUnexpected)
				return
			}
			next, _ := arr[0].(string)
			page, _ := arr[1].([]any)
			batch, err := conn.Strings(page)
			if err != nil {
				fail(err)
				return
			}
			keys.Append(batch...)
			if next == "0" || next == "" {
				cb(sortedKeys(keys), nil)
				return
			}
			walk(next)
		}, fail)
	}
	walk("0")
}

func sortedKeys(set mapset.Set[string]) []string {
	keys := set.ToSlice()
	slices.Sort(keys)
	return keys
}

// FlushDB empties db, every master of a cluster, and closes its opened models.
func (s *Session) FlushDB(db int, cb Callback) {
	done := func(err error) {
		if err != nil {
			cb(fmt.Errorf("cannot flush database: %w", err))
			return
		}
		s.NotifyKeysRemoved(db, "*")
		cb(nil)
	}
	c := s.conn
	if c.Mode() == conn.ModeCluster {
		go func() {
			err := c.FlushCluster(s.ctx)
			s.loop.Post(func() { done(err) })
		}()
		return
	}
	c.Cmd([]string{"FLUSHDB"}, db, func(r conn.Response) { done(r.Err()) }, done)
}
