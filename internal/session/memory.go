package session

import (
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/xgzlucario/redview/internal/aggregate"
	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/loop"
)

var ErrMemoryTimeout = &conn.Error{Kind: conn.KindTransport, Msg: "memory usage timed out"}

// GetUsedMemory sums MEMORY USAGE of keys. result fires once: with the total
// when every reply arrived, or with the partial total and ErrMemoryTimeout
// when the configured timeout expires first.
func (s *Session) GetUsedMemory(keys []string, db int, result func(total int64, err error), progress aggregate.ProgressFunc) {
	var batch *aggregate.Batch
	timer := s.loop.AddTimeEvent(loop.AE_ONCE, s.cfg.AggregateTimeout, func(*loop.Loop, int, any) {
		if batch == nil || batch.Finished() {
			return
		}
		batch.Abort()
		s.cfg.Logger.Error().Msgf("memory usage of %d keys timed out after %v, partial total %s",
			len(keys), s.cfg.AggregateTimeout, humanize.IBytes(uint64(max(batch.Total(), 0))))
		result(batch.Total(), ErrMemoryTimeout)
	}, nil)

	batch = aggregate.MemoryUsage(s.conn, keys, db, func(total int64) {
		s.loop.RemoveTimeEvent(timer)
		result(total, nil)
	}, progress, s.cfg.Logger)
}

// SupportsMemoryOperations reports whether the server knows MEMORY.
func (s *Session) SupportsMemoryOperations(cb func(bool)) {
	s.isCommandSupported([]string{"MEMORY", "HELP"}, cb)
}

// isCommandSupported caches the answer only when the server replied.
func (s *Session) isCommandSupported(args []string, cb func(bool)) {
	name := strings.ToUpper(strings.Join(args, " "))
	switch {
	case s.supported.Contains(name):
		cb(true)
		return
	case s.unsupported.Contains(name):
		cb(false)
		return
	}
	s.conn.Cmd(args, 0, func(r conn.Response) {
		if r.IsErrorMessage() {
			s.unsupported.Add(name)
			cb(false)
			return
		}
		s.supported.Add(name)
		cb(true)
	}, func(err error) {
		s.cfg.Logger.Warn().Msgf("cannot check %s support: %v", name, err)
		cb(false)
	})
}
