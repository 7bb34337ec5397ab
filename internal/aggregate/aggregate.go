// Package aggregate sums numeric replies of many pipelined commands.
package aggregate

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/xgzlucario/redview/internal/conn"
)

type (
	ResultFunc   func(total int64)
	ProgressFunc func(total int64)
)

// Batch is the running state of one aggregation. It lives on the loop.
type Batch struct {
	expected  int
	received  int
	processed int
	failed    int
	total     int64
	finished  bool

	result   ResultFunc
	progress ProgressFunc
	logger   zerolog.Logger
}

func (b *Batch) Total() int64   { return b.total }
func (b *Batch) Processed() int { return b.processed }
func (b *Batch) Failed() int    { return b.failed }
func (b *Batch) Finished() bool { return b.finished }

// Run pipelines cmds on db and adds up every numeric value in the replies.
// A reply is a number or a list of numbers. Failed replies are logged and
// skipped; result fires exactly once, after every reply was observed.
func Run(exec conn.Executor, cmds [][]string, db int, result ResultFunc, progress ProgressFunc, logger zerolog.Logger) *Batch {
	b := &Batch{
		expected: len(cmds),
		result:   result,
		progress: progress,
		logger:   logger,
	}
	if len(cmds) == 0 {
		b.finish()
		return b
	}
	exec.PipelinedCmd(cmds, db, b.onEach)
	return b
}

func (b *Batch) onEach(r conn.Response, err error) {
	if b.finished {
		return
	}
	b.received++
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		b.failed++
		b.logger.Error().Msgf("cannot aggregate reply: %v", err)
	} else {
		b.add(r.Value())
		if b.progress != nil {
			b.progress(b.total)
		}
	}
	if b.received >= b.expected {
		b.finish()
	}
}

func (b *Batch) add(v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if n, ok := number(item); ok {
				b.total += n
				b.processed++
			}
		}
		return
	}
	if n, ok := number(v); ok {
		b.total += n
		b.processed++
	}
}

func (b *Batch) finish() {
	b.finished = true
	b.logger.Debug().Msgf("aggregated %d replies (%d failed): %s",
		b.received, b.failed, humanize.IBytes(uint64(max(b.total, 0))))
	if b.result != nil {
		b.result(b.total)
	}
}

// Abort stops the batch without firing result, replies still in flight are dropped.
func (b *Batch) Abort() {
	b.finished = true
}

func number(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// MemoryUsage sums MEMORY USAGE over keys.
func MemoryUsage(exec conn.Executor, keys []string, db int, result ResultFunc, progress ProgressFunc, logger zerolog.Logger) *Batch {
	cmds := make([][]string, len(keys))
	for i, key := range keys {
		cmds[i] = []string{"MEMORY", "USAGE", key}
	}
	return Run(exec, cmds, db, result, progress, logger)
}
