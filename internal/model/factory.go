package model

import (
	"errors"

	"github.com/xgzlucario/redview/internal/conn"
)

// Open reads the type and TTL of key, builds the matching model and loads its row count.
func Open(exec conn.Executor, db int, key string, opts Options, cb func(KeyModel, error)) {
	exec.Cmd([]string{"TYPE", key}, db, func(r conn.Response) {
		if err := r.Err(); err != nil {
			cb(nil, err)
			return
		}
		typ, _ := r.String()
		if typ == "none" {
			cb(nil, ErrKeyNotFound)
			return
		}
		exec.Cmd([]string{"TTL", key}, db, func(r conn.Response) {
			if err := r.Err(); err != nil {
				cb(nil, err)
				return
			}
			ttl, _ := r.Int64()
			m, err := New(exec, db, key, typ, ttl, opts)
			if err != nil {
				cb(nil, err)
				return
			}
			m.LoadRowsCount(func(err error) {
				if err != nil {
					cb(nil, err)
					return
				}
				cb(m, nil)
			})
		}, func(err error) { cb(nil, err) })
	}, func(err error) { cb(nil, err) })
}

// New builds the model for a TYPE reply.
func New(exec conn.Executor, db int, key, typ string, ttl int64, opts Options) (KeyModel, error) {
	switch typ {
	case "string":
		return NewString(exec, db, key, ttl, opts), nil
	case "list":
		return NewList(exec, db, key, ttl, opts), nil
	case "set":
		return NewSet(exec, db, key, ttl, opts), nil
	case "zset":
		return NewSortedSet(exec, db, key, ttl, opts), nil
	case "hash":
		return NewHash(exec, db, key, ttl, opts), nil
	case "stream":
		return NewStream(exec, db, key, ttl, opts), nil
	case "ReJSON-RL":
		return NewReJSON(exec, db, key, ttl, opts), nil
	}
	return nil, &conn.Error{Kind: conn.KindDomain, Msg: ErrUnknownType.Msg, Err: errors.New(typ)}
}
