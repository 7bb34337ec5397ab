package model

import (
	"github.com/xgzlucario/redview/internal/conn"
)

// step is one command of a write pipeline.
type step struct {
	args []string

	// check validates the reply, nil accepts anything but an error reply.
	// Returning errUnchanged ends the pipeline successfully.
	check func(r conn.Response) error

	// mutates marks steps that change the remote value, so a later failure
	// leaves the row half applied.
	mutates bool

	// optional steps only report their failure and let the pipeline go on.
	optional bool
}

// runSteps issues steps one after another, the next only once the previous reply
// is observed, and stops at the first failing step. applied counts the mutating
// steps that succeeded.
func runSteps(exec conn.Executor, db int, steps []step, onOptionalErr func(step, error), done func(err error, applied int)) {
	var next func(i, applied int)
	next = func(i, applied int) {
		if i == len(steps) {
			done(nil, applied)
			return
		}
		s := steps[i]
		fail := func(err error) {
			if s.optional {
				onOptionalErr(s, err)
				next(i+1, applied)
				return
			}
			done(err, applied)
		}
		exec.Cmd(s.args, db, func(r conn.Response) {
			err := r.Err()
			if err == nil && s.check != nil {
				err = s.check(r)
			}
			if err == errUnchanged {
				done(err, applied)
				return
			}
			if err != nil {
				fail(err)
				return
			}
			if s.mutates {
				applied++
			}
			next(i+1, applied)
		}, fail)
	}
	next(0, 0)
}

// absent guards a rename target: it fails with ErrValueExists unless the
// HEXISTS or SISMEMBER reply is 0.
func absent(args ...string) step {
	return step{
		args: args,
		check: func(r conn.Response) error {
			if n, ok := r.Int64(); !ok || n != 0 {
				return ErrValueExists
			}
			return nil
		},
	}
}

// absentMember is absent for sorted sets, where ZSCORE replies nil for a new member.
func absentMember(key, member string) step {
	return step{
		args: []string{"ZSCORE", key, member},
		check: func(r conn.Response) error {
			if !r.IsNil() {
				return ErrValueExists
			}
			return nil
		},
	}
}
