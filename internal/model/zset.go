package model

import (
	"strconv"

	"github.com/xgzlucario/redview/internal/conn"
)

// ScoredMember is a sorted set row. Score keeps the server's text form so no
// precision is lost on the way back.
type ScoredMember struct {
	Member string
	Score  string
}

type zsetKind struct{}

func NewSortedSet(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[ScoredMember] {
	return newModel[ScoredMember](exec, db, key, ttl, zsetKind{}, opts)
}

func (zsetKind) typeName() string { return "zset" }
func (zsetKind) columns() []string {
	return []string{"rowNumber", "value", "score"}
}
func (zsetKind) mode() loadMode { return loadRange }
func (zsetKind) width() int64   { return 2 }

func (zsetKind) countCmd(key string) []string { return []string{"ZCARD", key} }

func (zsetKind) rangeCmd(m *Model[ScoredMember], anchor, count int64) ([]string, int64) {
	return []string{"ZRANGE", m.key, itoa(anchor), itoa(anchor + count - 1), "WITHSCORES"}, anchor
}

func (zsetKind) decode(items []any) ([]ScoredMember, error) {
	strs, err := conn.Strings(items)
	if err != nil {
		return nil, err
	}
	if len(strs)%2 != 0 {
		return nil, conn.ErrPartialData
	}
	rows := make([]ScoredMember, 0, len(strs)/2)
	for i := 0; i < len(strs); i += 2 {
		rows = append(rows, ScoredMember{Member: strs[i], Score: strs[i+1]})
	}
	return rows, nil
}

func (zsetKind) field(row ScoredMember, field string) (any, bool) {
	switch field {
	case "value":
		return row.Member, true
	case "score":
		return row.Score, true
	}
	return nil, false
}

func validScore(score string) bool {
	_, err := strconv.ParseFloat(score, 64)
	return err == nil
}

func (zsetKind) add(key string, row Row) ([]step, error) {
	member, ok := row["value"]
	if !ok || !validScore(row["score"]) {
		return nil, ErrInvalidRow
	}
	return []step{addMember(key, ScoredMember{Member: member, Score: row["score"]})}, nil
}

func addMember(key string, m ScoredMember) step {
	return step{
		args:    []string{"ZADD", key, "NX", m.Score, m.Member},
		mutates: true,
		check: func(r conn.Response) error {
			if n, _ := r.Int64(); n == 0 {
				return ErrValueExists
			}
			return nil
		},
	}
}

// update renames a member as ZREM then ZADD NX, a score change alone is ZADD XX.
// A rename onto an existing member fails before anything is removed.
func (zsetKind) update(key string, _ int64, old ScoredMember, row Row) ([]step, ScoredMember, error) {
	updated := old
	if v, ok := row["value"]; ok {
		updated.Member = v
	}
	if s, ok := row["score"]; ok {
		if !validScore(s) {
			return nil, old, ErrInvalidRow
		}
		updated.Score = s
	}

	switch {
	case updated == old:
		return nil, old, nil
	case updated.Member == old.Member:
		return []step{{args: []string{"ZADD", key, "XX", updated.Score, updated.Member}, mutates: true}}, updated, nil
	}
	return []step{
		absentMember(key, updated.Member),
		{args: []string{"ZREM", key, old.Member}, mutates: true},
		addMember(key, updated),
	}, updated, nil
}

func (zsetKind) remove(key string, _ int64, old ScoredMember) ([]step, error) {
	return []step{{args: []string{"ZREM", key, old.Member}, mutates: true}}, nil
}
