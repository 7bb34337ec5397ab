package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/xgzlucario/redview/internal/conn"
)

// StreamEntry is one stream row, identified by its server-assigned id.
type StreamEntry struct {
	ID      string
	Payload []Pair
}

type streamKind struct{}

func NewStream(exec conn.Executor, db int, key string, ttl int64, opts Options) *Model[StreamEntry] {
	return newModel[StreamEntry](exec, db, key, ttl, streamKind{}, opts)
}

func (streamKind) typeName() string { return "stream" }
func (streamKind) columns() []string {
	return []string{"rowNumber", "id", "value"}
}
func (streamKind) mode() loadMode { return loadRange }
func (streamKind) width() int64   { return 1 }

func (streamKind) countCmd(key string) []string { return []string{"XLEN", key} }

// rangeCmd walks forward from the id after row anchor-1. Without that row
// cached, it reads from the first entry and covers the whole window.
func (streamKind) rangeCmd(m *Model[StreamEntry], anchor, count int64) ([]string, int64) {
	if anchor > 0 {
		if prev, ok := m.cache.Get(anchor - 1); ok {
			if next, ok := nextID(prev.ID); ok {
				return []string{"XRANGE", m.key, next, "+", "COUNT", itoa(count)}, anchor
			}
		}
	}
	return []string{"XRANGE", m.key, "-", "+", "COUNT", itoa(anchor + count)}, 0
}

// nextID returns the smallest id greater than id.
func nextID(id string) (string, bool) {
	ms, seq, found := strings.Cut(id, "-")
	if !found {
		return "", false
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil || n == math.MaxUint64 {
		return "", false
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), true
}

func (streamKind) decode(items []any) ([]StreamEntry, error) {
	rows := make([]StreamEntry, 0, len(items))
	for _, item := range items {
		entry, ok := item.([]any)
		if !ok || len(entry) != 2 {
			return nil, conn.ErrUnexpected
		}
		id, ok := entry[0].(string)
		if !ok {
			return nil, conn.ErrUnexpected
		}
		fields, _ := entry[1].([]any)
		strs, err := conn.Strings(fields)
		if err != nil {
			return nil, err
		}
		if len(strs)%2 != 0 {
			return nil, conn.ErrPartialData
		}
		payload := make([]Pair, 0, len(strs)/2)
		for i := 0; i < len(strs); i += 2 {
			payload = append(payload, Pair{Key: strs[i], Value: strs[i+1]})
		}
		rows = append(rows, StreamEntry{ID: id, Payload: payload})
	}
	return rows, nil
}

func (streamKind) field(row StreamEntry, field string) (any, bool) {
	switch field {
	case "id":
		return row.ID, true
	case "value":
		return renderPayload(row.Payload), true
	}
	return nil, false
}

// renderPayload renders entry fields as a JSON object in stream order.
func renderPayload(payload []Pair) string {
	obj := "{}"
	for _, p := range payload {
		next, err := sjson.Set(obj, escapePath(p.Key), p.Value)
		if err != nil {
			// no sjson path addresses an empty field name
			next = appendMember(obj, p.Key, p.Value)
		}
		obj = next
	}
	return obj
}

func appendMember(obj, key, value string) string {
	k, _ := json.Marshal(key)
	v, _ := json.Marshal(value)
	member := string(k) + ":" + string(v)
	if obj == "{}" {
		return "{" + member + "}"
	}
	return obj[:len(obj)-1] + "," + member + "}"
}

func escapePath(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if strings.ContainsRune(`\.*?|#@!:=<>%`, c) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// parsePayload reads a flat JSON object of field/value pairs.
func parsePayload(value string) ([]string, bool) {
	if !gjson.Valid(value) {
		return nil, false
	}
	obj := gjson.Parse(value)
	if !obj.IsObject() {
		return nil, false
	}
	var args []string
	obj.ForEach(func(k, v gjson.Result) bool {
		args = append(args, k.String(), v.String())
		return true
	})
	return args, len(args) > 0
}

func (streamKind) add(key string, row Row) ([]step, error) {
	fields, ok := parsePayload(row["value"])
	if !ok {
		return nil, ErrInvalidRow
	}
	id := row["id"]
	if id == "" {
		id = "*"
	}
	args := append([]string{"XADD", key, id}, fields...)
	return []step{{args: args, mutates: true}}, nil
}

// update is rejected, stream entries are immutable.
func (streamKind) update(_ string, _ int64, old StreamEntry, _ Row) ([]step, StreamEntry, error) {
	return nil, old, ErrNotSupported
}

func (streamKind) remove(key string, _ int64, old StreamEntry) ([]step, error) {
	return []step{{args: []string{"XDEL", key, old.ID}, mutates: true}}, nil
}
