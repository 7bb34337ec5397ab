package model

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/loop"
)

type env struct {
	t    *testing.T
	s    *miniredis.Miniredis
	loop *loop.Loop
	conn *conn.Connection
}

func startup(t *testing.T) *env {
	s := miniredis.RunT(t)
	l := loop.New()
	go l.Run()
	t.Cleanup(l.Stop)

	opts := conn.DefaultOptions
	opts.Addr = s.Addr()
	c := conn.NewConnection(l, opts)
	t.Cleanup(c.Disconnect)
	return &env{t: t, s: s, loop: l, conn: c}
}

// wait runs fn on the loop and blocks until its callback fires.
func (e *env) wait(fn func(cb Callback)) error {
	ch := make(chan error, 1)
	e.loop.Post(func() { fn(func(err error) { ch <- err }) })
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		e.t.Fatal("callback was not delivered")
		return nil
	}
}

func (e *env) load(m KeyModel, anchor, count int64) (int, error) {
	var loaded int
	err := e.wait(func(cb Callback) {
		m.LoadRows(anchor, count, func(n int, err error) {
			loaded = n
			cb(err)
		})
	})
	return loaded, err
}

func (e *env) open(db int, key string) (KeyModel, error) {
	var res KeyModel
	err := e.wait(func(cb Callback) {
		Open(e.conn, db, key, DefaultOptions, func(m KeyModel, err error) {
			res = m
			cb(err)
		})
	})
	return res, err
}

func (e *env) data(m KeyModel, index int64, field string) any {
	var v any
	e.loop.Sync(func() { v, _ = m.GetData(index, field) })
	return v
}

func TestHashModel(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	e.s.HSet("user", "name", "alice")
	e.s.HSet("user", "age", "30")
	e.s.HSet("user", "city", "rome")

	m, err := e.open(0, "user")
	assert.Nil(err)
	assert.Equal("hash", m.Type())
	assert.Equal(int64(3), m.RowsCount())

	n, err := e.load(m, 0, 10)
	assert.Nil(err)
	assert.Equal(3, n)

	fields := map[string]string{}
	for i := int64(0); i < 3; i++ {
		fields[e.data(m, i, "key").(string)] = e.data(m, i, "value").(string)
	}
	assert.Equal(map[string]string{"name": "alice", "age": "30", "city": "rome"}, fields)

	t.Run("add-existing", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"key": "name", "value": "bob"}, cb) })
		assert.ErrorIs(err, ErrValueExists)
		assert.True(conn.IsKind(err, conn.KindDomain))
		assert.Equal(int64(3), m.RowsCount())
		assert.Equal("alice", e.s.HGet("user", "name"))
	})

	t.Run("add", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"key": "zip", "value": "00100"}, cb) })
		assert.Nil(err)
		assert.Equal(int64(4), m.RowsCount())
		assert.Equal("00100", e.s.HGet("user", "zip"))
		assert.False(m.IsRowLoaded(3))
	})

	t.Run("rename", func(t *testing.T) {
		old := e.data(m, 0, "key").(string)
		err := e.wait(func(cb Callback) { m.UpdateRow(0, Row{"key": "renamed", "value": "v"}, cb) })
		assert.Nil(err)
		assert.Equal("", e.s.HGet("user", old))
		assert.Equal("v", e.s.HGet("user", "renamed"))
		assert.Equal("renamed", e.data(m, 0, "key"))
	})

	t.Run("rename-onto-existing", func(t *testing.T) {
		old := e.data(m, 0, "key").(string)
		target := e.data(m, 1, "key").(string)
		err := e.wait(func(cb Callback) { m.UpdateRow(0, Row{"key": target, "value": "x"}, cb) })
		assert.ErrorIs(err, ErrValueExists)
		assert.NotEqual("", e.s.HGet("user", old))
		assert.NotEqual("x", e.s.HGet("user", target))
		assert.Equal(int64(4), m.RowsCount())
	})

	t.Run("remove", func(t *testing.T) {
		second := e.data(m, 1, "key")
		err := e.wait(func(cb Callback) { m.RemoveRow(0, cb) })
		assert.Nil(err)
		assert.Equal(int64(3), m.RowsCount())
		assert.Equal(second, e.data(m, 0, "key"))
		assert.False(m.IsRowLoaded(2))
	})
}

func TestSetModel(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	e.s.SAdd("tags", "a", "b", "c")

	m, err := e.open(0, "tags")
	assert.Nil(err)
	assert.Equal(int64(3), m.RowsCount())
	n, err := e.load(m, 0, 2)
	assert.Nil(err)
	assert.GreaterOrEqual(n, 2)

	t.Run("add-existing", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"value": "a"}, cb) })
		assert.Nil(err)
		assert.Equal(int64(3), m.RowsCount())
	})

	t.Run("add", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"value": "d"}, cb) })
		assert.Nil(err)
		assert.Equal(int64(4), m.RowsCount())
	})

	t.Run("update-onto-existing", func(t *testing.T) {
		old := e.data(m, 0, "value").(string)
		other := e.data(m, 1, "value").(string)
		err := e.wait(func(cb Callback) { m.UpdateRow(0, Row{"value": other}, cb) })
		assert.ErrorIs(err, ErrValueExists)
		ok, _ := e.s.SIsMember("tags", old)
		assert.True(ok)
		assert.Equal(int64(4), m.RowsCount())
	})

	t.Run("update", func(t *testing.T) {
		old := e.data(m, 0, "value").(string)
		err := e.wait(func(cb Callback) { m.UpdateRow(0, Row{"value": "z"}, cb) })
		assert.Nil(err)
		ok, _ := e.s.SIsMember("tags", old)
		assert.False(ok)
		ok, _ = e.s.SIsMember("tags", "z")
		assert.True(ok)
		assert.Equal("z", e.data(m, 0, "value"))
	})
}

func TestListModel(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	for _, v := range []string{"a", "b", "c", "d", "e", "f"} {
		e.s.RPush("ls", v)
	}

	m, err := e.open(0, "ls")
	assert.Nil(err)
	assert.Equal(int64(6), m.RowsCount())

	t.Run("window", func(t *testing.T) {
		n, err := e.load(m, 2, 2)
		assert.Nil(err)
		assert.Equal(2, n)
		assert.False(m.IsRowLoaded(1))
		assert.Equal("c", e.data(m, 2, "value"))
		assert.Equal("d", e.data(m, 3, "value"))
		assert.Nil(e.data(m, 4, "value"))

		n, err = e.load(m, 0, 6)
		assert.Nil(err)
		assert.Equal(6, n)
	})

	t.Run("update", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.UpdateRow(1, Row{"value": "B"}, cb) })
		assert.Nil(err)
		list, _ := e.s.List("ls")
		assert.Equal("B", list[1])
		assert.Equal("B", e.data(m, 1, "value"))
	})

	t.Run("update-changed-on-server", func(t *testing.T) {
		err := e.wait(func(cb Callback) {
			e.conn.Cmd([]string{"LSET", "ls", "2", "other"}, 0, func(conn.Response) { cb(nil) }, cb)
		})
		assert.Nil(err)
		err = e.wait(func(cb Callback) { m.UpdateRow(2, Row{"value": "C"}, cb) })
		assert.ErrorIs(err, ErrRowChanged)
		list, _ := e.s.List("ls")
		assert.Equal("other", list[2])
		assert.Equal("c", e.data(m, 2, "value"))
	})

	t.Run("remove", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.RemoveRow(0, cb) })
		assert.Nil(err)
		list, _ := e.s.List("ls")
		assert.Equal([]string{"B", "other", "d", "e", "f"}, list)
		assert.Equal(int64(5), m.RowsCount())
		assert.Equal("B", e.data(m, 0, "value"))
		assert.False(m.IsRowLoaded(5))
	})

	t.Run("prepend", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"value": "first", "mode": "prepend"}, cb) })
		assert.Nil(err)
		assert.Equal(int64(6), m.RowsCount())
		assert.False(m.IsRowLoaded(0))
		list, _ := e.s.List("ls")
		assert.Equal("first", list[0])
	})
}

func TestSortedSetModel(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	e.s.ZAdd("rank", 1.5, "one")
	e.s.ZAdd("rank", 2, "two")
	e.s.ZAdd("rank", 3, "three")

	m, err := e.open(0, "rank")
	assert.Nil(err)
	assert.Equal(int64(3), m.RowsCount())

	n, err := e.load(m, 0, 3)
	assert.Nil(err)
	assert.Equal(3, n)
	assert.Equal("one", e.data(m, 0, "value"))
	assert.Equal("1.5", e.data(m, 0, "score"))

	t.Run("add-existing", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"value": "two", "score": "9"}, cb) })
		assert.ErrorIs(err, ErrValueExists)
		assert.Equal(int64(3), m.RowsCount())
	})

	t.Run("invalid-score", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"value": "x", "score": "abc"}, cb) })
		assert.ErrorIs(err, ErrInvalidRow)
	})

	t.Run("score-only", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.UpdateRow(1, Row{"score": "2.25"}, cb) })
		assert.Nil(err)
		score, _ := e.s.ZScore("rank", "two")
		assert.Equal(2.25, score)
		assert.Equal("2.25", e.data(m, 1, "score"))
	})

	t.Run("rename-onto-existing", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.UpdateRow(2, Row{"value": "one"}, cb) })
		assert.ErrorIs(err, ErrValueExists)
		members, _ := e.s.ZMembers("rank")
		assert.ElementsMatch([]string{"one", "two", "three"}, members)
		score, _ := e.s.ZScore("rank", "one")
		assert.Equal(1.5, score)
	})

	t.Run("rename", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.UpdateRow(2, Row{"value": "drei"}, cb) })
		assert.Nil(err)
		members, _ := e.s.ZMembers("rank")
		assert.ElementsMatch([]string{"one", "two", "drei"}, members)
	})
}

func TestStreamModel(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	for i, id := range []string{"1-1", "1-2", "2-0", "3-5"} {
		_, err := e.s.XAdd("events", id, []string{"n", itoa(int64(i))})
		assert.Nil(err)
	}

	m, err := e.open(0, "events")
	assert.Nil(err)
	assert.Equal("stream", m.Type())
	assert.Equal(int64(4), m.RowsCount())

	t.Run("walk-forward", func(t *testing.T) {
		n, err := e.load(m, 0, 2)
		assert.Nil(err)
		assert.Equal(2, n)
		assert.Equal("1-2", e.data(m, 1, "id"))

		n, err = e.load(m, 2, 2)
		assert.Nil(err)
		assert.Equal(2, n)
		assert.Equal("2-0", e.data(m, 2, "id"))
		assert.Equal("3-5", e.data(m, 3, "id"))
		assert.Equal(`{"n":"3"}`, e.data(m, 3, "value"))
	})

	t.Run("update-rejected", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.UpdateRow(0, Row{"value": `{"n":"x"}`}, cb) })
		assert.ErrorIs(err, ErrNotSupported)
	})

	t.Run("add", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.AddRow(Row{"value": `{"n":"4","m":"x"}`}, cb) })
		assert.Nil(err)
		assert.Equal(int64(5), m.RowsCount())
		entries, _ := e.s.Stream("events")
		assert.Len(entries, 5)
		assert.Equal([]string{"n", "4", "m", "x"}, entries[4].Values)
	})

	t.Run("remove", func(t *testing.T) {
		err := e.wait(func(cb Callback) { m.RemoveRow(1, cb) })
		assert.Nil(err)
		assert.Equal("2-0", e.data(m, 1, "id"))
		entries, _ := e.s.Stream("events")
		assert.Len(entries, 4)
	})
}

func TestStringModel(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	e.s.Set("greeting", "hello")
	e.s.SetTTL("greeting", time.Hour)

	m, err := e.open(0, "greeting")
	assert.Nil(err)
	assert.Equal(int64(1), m.RowsCount())
	assert.Greater(m.TTL(), int64(0))

	n, err := e.load(m, 0, 100)
	assert.Nil(err)
	assert.Equal(1, n)
	assert.Equal("hello", e.data(m, 0, "value"))

	err = e.wait(func(cb Callback) { m.UpdateRow(0, Row{"value": "bye"}, cb) })
	assert.Nil(err)
	v, _ := e.s.Get("greeting")
	assert.Equal("bye", v)
	assert.Greater(e.s.TTL("greeting"), time.Duration(0))

	err = e.wait(func(cb Callback) { m.AddRow(Row{"value": "x"}, cb) })
	assert.ErrorIs(err, ErrNotSupported)
	err = e.wait(func(cb Callback) { m.RemoveRow(0, cb) })
	assert.ErrorIs(err, ErrNotSupported)
	assert.Equal(int64(1), m.RowsCount())
}

func TestRemovedState(t *testing.T) {
	assert := assert.New(t)
	e := startup(t)
	e.s.SAdd("single", "only")

	m, err := e.open(0, "single")
	assert.Nil(err)
	_, err = e.load(m, 0, 1)
	assert.Nil(err)

	err = e.wait(func(cb Callback) { m.RemoveRow(0, cb) })
	assert.Nil(err)
	assert.Equal(int64(0), m.RowsCount())
	assert.True(m.IsRemoved())
	assert.False(e.s.Exists("single"))

	err = e.wait(func(cb Callback) { m.AddRow(Row{"value": "again"}, cb) })
	assert.ErrorIs(err, ErrKeyRemoved)
	assert.False(e.s.Exists("single"))

	t.Run("external", func(t *testing.T) {
		e.s.HSet("h", "f", "v")
		m, err := e.open(0, "h")
		assert.Nil(err)
		e.loop.Sync(m.SetRemoved)
		err = e.wait(func(cb Callback) { m.AddRow(Row{"key": "a", "value": "b"}, cb) })
		assert.ErrorIs(err, ErrKeyRemoved)
	})

	t.Run("missing-key", func(t *testing.T) {
		_, err := e.open(0, "nope")
		assert.ErrorIs(err, ErrKeyNotFound)
	})
}
