package model

import (
	"strings"

	"github.com/xgzlucario/redview/internal/conn"
)

// fakeExec answers commands synchronously from a handler and records them.
type fakeExec struct {
	calls   [][]string
	handler func(args []string) (conn.Response, error)
}

func (f *fakeExec) Cmd(args []string, _ int, onSuccess func(conn.Response), onFailure func(error)) {
	f.calls = append(f.calls, args)
	r, err := f.handler(args)
	if err != nil {
		onFailure(err)
		return
	}
	onSuccess(r)
}

func (f *fakeExec) PipelinedCmd(cmds [][]string, _ int, onEach func(conn.Response, error)) {
	for _, args := range cmds {
		f.calls = append(f.calls, args)
		onEach(f.handler(args))
	}
}

func (f *fakeExec) verbs() []string {
	res := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		res = append(res, strings.ToUpper(c[0]))
	}
	return res
}

func arr(items ...any) conn.Response { return conn.NewResponse(items) }

func flat(strs ...string) []any {
	res := make([]any, len(strs))
	for i, s := range strs {
		res[i] = s
	}
	return res
}

type syncResult struct {
	n   int
	err error
}

// syncLoad runs LoadRows against a synchronous executor.
func syncLoad(m KeyModel, anchor, count int64) syncResult {
	var res syncResult
	m.LoadRows(anchor, count, func(n int, err error) { res = syncResult{n, err} })
	return res
}

func syncDo(fn func(cb Callback)) error {
	var res error
	fn(func(err error) { res = err })
	return res
}

// heldExec answers each command only when the test releases it, so writes can
// complete in any order.
type heldExec struct {
	fakeExec
	held []func()
}

func (h *heldExec) Cmd(args []string, db int, onSuccess func(conn.Response), onFailure func(error)) {
	h.held = append(h.held, func() { h.fakeExec.Cmd(args, db, onSuccess, onFailure) })
}

// release answers the i-th held command.
func (h *heldExec) release(i int) { h.held[i]() }
