package rcache

import (
	"errors"

	"github.com/google/btree"
)

var (
	ErrNotLoaded     = errors.New("row is not loaded")
	ErrRangeMismatch = errors.New("range size does not match values")
)

// Range is a closed interval of row indexes.
type Range struct {
	Lo, Hi int64
}

func (r Range) Len() int64 { return r.Hi - r.Lo + 1 }

type segment[T any] struct {
	lo   int64
	rows []T
}

func (s *segment[T]) hi() int64 { return s.lo + int64(len(s.rows)) - 1 }

// Cache holds the rows fetched so far as disjoint ordered segments indexed by
// their first row. A write over rows already cached replaces them (last write wins):
// the newer fetch reflects the remote collection more recently.
type Cache[T any] struct {
	tree *btree.BTreeG[*segment[T]]
}

func New[T any]() *Cache[T] {
	return &Cache[T]{
		tree: btree.NewG(16, func(a, b *segment[T]) bool { return a.lo < b.lo }),
	}
}

// floor returns the segment with the greatest lo <= index.
func (c *Cache[T]) floor(index int64) (seg *segment[T]) {
	c.tree.DescendLessOrEqual(&segment[T]{lo: index}, func(s *segment[T]) bool {
		seg = s
		return false
	})
	return
}

func (c *Cache[T]) find(index int64) *segment[T] {
	seg := c.floor(index)
	if seg == nil || index > seg.hi() {
		return nil
	}
	return seg
}

func (c *Cache[T]) IsLoaded(index int64) bool {
	return c.find(index) != nil
}

// Get returns the row at index, ok is false when it is not loaded.
func (c *Cache[T]) Get(index int64) (v T, ok bool) {
	seg := c.find(index)
	if seg == nil {
		return v, false
	}
	return seg.rows[index-seg.lo], true
}

// AddLoadedRange stores values at r, merging every segment it overlaps or abuts.
func (c *Cache[T]) AddLoadedRange(r Range, values []T) error {
	if r.Hi < r.Lo || r.Len() != int64(len(values)) {
		return ErrRangeMismatch
	}
	lo, hi := r.Lo, r.Hi

	var merge []*segment[T]
	if seg := c.floor(lo - 1); seg != nil && seg.hi() >= lo-1 {
		merge = append(merge, seg)
	}
	c.tree.AscendRange(&segment[T]{lo: lo}, &segment[T]{lo: hi + 2}, func(s *segment[T]) bool {
		merge = append(merge, s)
		return true
	})

	for _, s := range merge {
		lo = min(lo, s.lo)
		hi = max(hi, s.hi())
		c.tree.Delete(s)
	}

	rows := make([]T, hi-lo+1)
	for _, s := range merge {
		copy(rows[s.lo-lo:], s.rows)
	}
	copy(rows[r.Lo-lo:], values)

	c.tree.ReplaceOrInsert(&segment[T]{lo: lo, rows: rows})
	return nil
}

func (c *Cache[T]) Replace(index int64, v T) error {
	seg := c.find(index)
	if seg == nil {
		return ErrNotLoaded
	}
	seg.rows[index-seg.lo] = v
	return nil
}

// RemoveAt deletes the row at index and shifts every cached row after it down by one.
// When index is not loaded only the shift happens and false is returned.
func (c *Cache[T]) RemoveAt(index int64) bool {
	seg := c.find(index)
	if seg != nil {
		off := index - seg.lo
		seg.rows = append(seg.rows[:off], seg.rows[off+1:]...)
		if len(seg.rows) == 0 {
			c.tree.Delete(seg)
		}
	}

	var after []*segment[T]
	c.tree.AscendGreaterOrEqual(&segment[T]{lo: index + 1}, func(s *segment[T]) bool {
		after = append(after, s)
		return true
	})
	for _, s := range after {
		c.tree.Delete(s)
		s.lo--
	}
	for _, s := range after {
		c.tree.ReplaceOrInsert(s)
	}

	// closing a one-row gap joins the neighbours
	if len(after) > 0 {
		first := after[0]
		if prev := c.floor(first.lo - 1); prev != nil && prev.hi()+1 == first.lo {
			c.tree.Delete(first)
			prev.rows = append(prev.rows, first.rows...)
		}
	}
	return seg != nil
}

func (c *Cache[T]) Clear() {
	c.tree.Clear(false)
}

// Len returns the number of cached rows.
func (c *Cache[T]) Len() (n int64) {
	c.tree.Ascend(func(s *segment[T]) bool {
		n += int64(len(s.rows))
		return true
	})
	return
}

// Ranges returns the cached intervals in order.
func (c *Cache[T]) Ranges() []Range {
	res := make([]Range, 0, c.tree.Len())
	c.tree.Ascend(func(s *segment[T]) bool {
		res = append(res, Range{s.lo, s.hi()})
		return true
	})
	return res
}
