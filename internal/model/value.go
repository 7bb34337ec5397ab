package model

import (
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/xgzlucario/redview/internal/conn"
)

// single is a value shown as exactly one synthetic row; rows cannot be added or removed.
type single struct{}

func (single) columns() []string        { return []string{"value"} }
func (single) mode() loadMode           { return loadSingle }
func (single) width() int64             { return 1 }
func (single) countCmd(string) []string { return nil }

func (single) decode(items []any) ([]string, error) {
	if len(items) != 1 || items[0] == nil {
		return nil, ErrKeyNotFound
	}
	return conn.Strings(items)
}

func (single) field(row string, field string) (any, bool) {
	if field == "value" {
		return row, true
	}
	return nil, false
}

func (single) add(string, Row) ([]step, error) { return nil, ErrNotSupported }

func (single) remove(string, int64, string) ([]step, error) { return nil, ErrNotSupported }

type stringKind struct {
	single
	ttl int64
}

func NewString(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[string] {
	return newModel[string](exec, db, key, ttl, stringKind{ttl: ttl}, opts)
}

func (stringKind) typeName() string { return "string" }

func (stringKind) rangeCmd(m *Model[string], _, _ int64) ([]string, int64) {
	return []string{"GET", m.key}, 0
}

// update writes the value, then restores the TTL that SET clears. A failed
// EXPIRE is logged and the new value kept.
func (k stringKind) update(key string, _ int64, old string, row Row) ([]step, string, error) {
	v, err := rowValue(row)
	if err != nil {
		return nil, old, err
	}
	steps := []step{{args: []string{"SET", key, v}, mutates: true}}
	if k.ttl > 0 {
		steps = append(steps, step{args: []string{"EXPIRE", key, strconv.FormatInt(k.ttl, 10)}, optional: true})
	}
	return steps, v, nil
}

type rejsonKind struct{ single }

func NewReJSON(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[string] {
	return newModel[string](exec, db, key, ttl, rejsonKind{}, opts)
}

func (rejsonKind) typeName() string { return "ReJSON" }

func (rejsonKind) rangeCmd(m *Model[string], _, _ int64) ([]string, int64) {
	return []string{"JSON.GET", m.key}, 0
}

func (rejsonKind) update(key string, _ int64, old string, row Row) ([]step, string, error) {
	v, err := rowValue(row)
	if err != nil {
		return nil, old, err
	}
	if !gjson.Valid(v) {
		return nil, old, ErrInvalidRow
	}
	return []step{{args: []string{"JSON.SET", key, ".", v}, mutates: true}}, v, nil
}
