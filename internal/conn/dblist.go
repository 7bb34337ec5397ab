package conn

import (
	"bufio"
	"cmp"
	"strconv"
	"strings"

	"github.com/chen3feng/stl4go"
)

// DatabaseList maps a logical database index to its approximate key count, ordered by index.
type DatabaseList struct {
	skl *stl4go.SkipList[int, int64]
}

func NewDatabaseList() *DatabaseList {
	return &DatabaseList{skl: stl4go.NewSkipListFunc[int, int64](cmp.Compare[int])}
}

func (l *DatabaseList) Insert(index int, keys int64) {
	l.skl.Insert(index, keys)
}

func (l *DatabaseList) Get(index int) (int64, bool) {
	v := l.skl.Find(index)
	if v == nil {
		return 0, false
	}
	return *v, true
}

func (l *DatabaseList) Len() int { return l.skl.Len() }

// LastIndex returns the highest database index in the list.
func (l *DatabaseList) LastIndex() (last int, ok bool) {
	l.skl.ForEachIf(func(index int, _ int64) bool {
		last, ok = index, true
		return true
	})
	return
}

func (l *DatabaseList) Range(fn func(index int, keys int64) bool) {
	l.skl.ForEachIf(fn)
}

func (l *DatabaseList) Map() map[int]int64 {
	res := make(map[int]int64, l.Len())
	l.Range(func(index int, keys int64) bool {
		res[index] = keys
		return true
	})
	return res
}

func (l *DatabaseList) Clone() *DatabaseList {
	c := NewDatabaseList()
	l.Range(func(index int, keys int64) bool {
		c.Insert(index, keys)
		return true
	})
	return c
}

// ParseKeyspace parses the "# Keyspace" section of INFO, lines like
// "db0:keys=12,expires=0,avg_ttl=0".
func ParseKeyspace(info string) *DatabaseList {
	list := NewDatabaseList()
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, stats, found := strings.Cut(line, ":")
		if !found || !strings.HasPrefix(name, "db") {
			continue
		}
		index, err := strconv.Atoi(name[2:])
		if err != nil {
			continue
		}
		var keys int64
		for _, kv := range strings.Split(stats, ",") {
			k, v, _ := strings.Cut(kv, "=")
			if k == "keys" {
				keys, _ = strconv.ParseInt(v, 10, 64)
			}
		}
		list.Insert(index, keys)
	}
	return list
}
