package model

import (
	"github.com/xgzlucario/redview/internal/conn"
)

// Pair is a hash field or a stream payload entry.
type Pair struct {
	Key   string
	Value string
}

type hashKind struct{}

func NewHash(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[Pair] {
	return newModel[Pair](exec, db, key, ttl, hashKind{}, opts)
}

func (hashKind) typeName() string { return "hash" }
func (hashKind) columns() []string {
	return []string{"rowNumber", "key", "value"}
}
func (hashKind) mode() loadMode { return loadScan }
func (hashKind) width() int64   { return 2 }

func (hashKind) countCmd(key string) []string { return []string{"HLEN", key} }

func (hashKind) rangeCmd(*Model[Pair], int64, int64) ([]string, int64) {
	return []string{"HSCAN"}, 0
}

// decode consumes field/value pairs, an unpaired trailing field fails the load.
func (hashKind) decode(items []any) ([]Pair, error) {
	strs, err := conn.Strings(items)
	if err != nil {
		return nil, err
	}
	if len(strs)%2 != 0 {
		return nil, conn.ErrPartialData
	}
	rows := make([]Pair, 0, len(strs)/2)
	for i := 0; i < len(strs); i += 2 {
		rows = append(rows, Pair{Key: strs[i], Value: strs[i+1]})
	}
	return rows, nil
}

func (hashKind) field(row Pair, field string) (any, bool) {
	switch field {
	case "key":
		return row.Key, true
	case "value":
		return row.Value, true
	}
	return nil, false
}

func validHashRow(row Row) bool {
	_, hasKey := row["key"]
	_, hasValue := row["value"]
	return hasKey && hasValue
}

func (hashKind) add(key string, row Row) ([]step, error) {
	if !validHashRow(row) {
		return nil, ErrInvalidRow
	}
	return []step{setHashRow(key, row["key"], row["value"], false)}, nil
}

// update renames a field as HDEL of the old field followed by HSETNX of the new
// one. A rename onto an existing field fails before anything is deleted.
func (hashKind) update(key string, _ int64, old Pair, row Row) ([]step, Pair, error) {
	if !validHashRow(row) {
		return nil, old, ErrInvalidRow
	}
	updated := Pair{Key: row["key"], Value: row["value"]}
	if updated.Key == old.Key {
		return []step{setHashRow(key, updated.Key, updated.Value, true)}, updated, nil
	}
	return []step{
		absent("HEXISTS", key, updated.Key),
		{args: []string{"HDEL", key, old.Key}, mutates: true},
		setHashRow(key, updated.Key, updated.Value, false),
	}, updated, nil
}

func (hashKind) remove(key string, _ int64, old Pair) ([]step, error) {
	return []step{{args: []string{"HDEL", key, old.Key}, mutates: true}}, nil
}

func setHashRow(key, field, value string, overwrite bool) step {
	if overwrite {
		return step{args: []string{"HSET", key, field, value}, mutates: true}
	}
	return step{
		args:    []string{"HSETNX", key, field, value},
		mutates: true,
		check: func(r conn.Response) error {
			if n, _ := r.Int64(); n == 0 {
				return ErrValueExists
			}
			return nil
		},
	}
}
