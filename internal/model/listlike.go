package model

import (
	"strconv"

	"github.com/xgzlucario/redview/internal/conn"
)

// removedPlaceholder marks a list element between LSET and LREM, since lists
// can only be trimmed by value.
const removedPlaceholder = "---VALUE_REMOVED_BY_REDVIEW---"

// listLike decodes flat value streams, one row per element.
type listLike struct{}

func (listLike) columns() []string { return []string{"rowNumber", "value"} }
func (listLike) width() int64      { return 1 }

func (listLike) decode(items []any) ([]string, error) {
	return conn.Strings(items)
}

func (listLike) field(row string, field string) (any, bool) {
	if field == "value" {
		return row, true
	}
	return nil, false
}

func rowValue(row Row) (string, error) {
	v, ok := row["value"]
	if !ok {
		return "", ErrInvalidRow
	}
	return v, nil
}

type listKind struct{ listLike }

func NewList(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[string] {
	return newModel[string](exec, db, key, ttl, listKind{}, opts)
}

func (listKind) typeName() string { return "list" }
func (listKind) mode() loadMode   { return loadRange }

func (listKind) countCmd(key string) []string { return []string{"LLEN", key} }

func (listKind) rangeCmd(m *Model[string], anchor, count int64) ([]string, int64) {
	return []string{"LRANGE", m.key, itoa(anchor), itoa(anchor + count - 1)}, anchor
}

// add appends, or prepends when row["mode"] is "prepend".
func (listKind) add(key string, row Row) ([]step, error) {
	v, err := rowValue(row)
	if err != nil {
		return nil, err
	}
	verb := "RPUSH"
	if row["mode"] == "prepend" {
		verb = "LPUSH"
	}
	return []step{{args: []string{verb, key, v}, mutates: true}}, nil
}

// expect fails with ErrRowChanged unless index still holds the cached value.
func expect(key string, index int64, old string) step {
	return step{
		args: []string{"LINDEX", key, itoa(index)},
		check: func(r conn.Response) error {
			if v, ok := r.String(); !ok || v != old {
				return ErrRowChanged
			}
			return nil
		},
	}
}

func (listKind) update(key string, index int64, old string, row Row) ([]step, string, error) {
	v, err := rowValue(row)
	if err != nil {
		return nil, old, err
	}
	return []step{
		expect(key, index, old),
		{args: []string{"LSET", key, itoa(index), v}, mutates: true},
	}, v, nil
}

func (listKind) remove(key string, index int64, old string) ([]step, error) {
	return []step{
		expect(key, index, old),
		{args: []string{"LSET", key, itoa(index), removedPlaceholder}, mutates: true},
		{args: []string{"LREM", key, "0", removedPlaceholder}, mutates: true},
	}, nil
}

type setKind struct{ listLike }

func NewSet(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[string] {
	return newModel[string](exec, db, key, ttl, setKind{}, opts)
}

func (setKind) typeName() string { return "set" }
func (setKind) mode() loadMode   { return loadScan }

func (setKind) countCmd(key string) []string { return []string{"SCARD", key} }

func (setKind) rangeCmd(*Model[string], int64, int64) ([]string, int64) {
	return []string{"SSCAN"}, 0
}

// add succeeds without growing the count when the member already exists.
func (setKind) add(key string, row Row) ([]step, error) {
	v, err := rowValue(row)
	if err != nil {
		return nil, err
	}
	return []step{addSetRow(key, v)}, nil
}

func (setKind) update(key string, _ int64, old string, row Row) ([]step, string, error) {
	v, err := rowValue(row)
	if err != nil {
		return nil, old, err
	}
	if v == old {
		return nil, old, nil
	}
	return []step{
		absent("SISMEMBER", key, v),
		{args: []string{"SREM", key, old}, mutates: true},
		{
			args:    []string{"SADD", key, v},
			mutates: true,
			check: func(r conn.Response) error {
				if n, _ := r.Int64(); n == 0 {
					return ErrValueExists
				}
				return nil
			},
		},
	}, v, nil
}

func (setKind) remove(key string, _ int64, old string) ([]step, error) {
	return []step{{args: []string{"SREM", key, old}, mutates: true}}, nil
}

func addSetRow(key, value string) step {
	return step{
		args:    []string{"SADD", key, value},
		mutates: true,
		check: func(r conn.Response) error {
			if n, _ := r.Int64(); n == 0 {
				return errUnchanged
			}
			return nil
		},
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
