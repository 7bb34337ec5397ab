package loop

import (
	"sync"
	"time"
)

type TeType int

const (
	AE_NORMAL TeType = iota + 1
	AE_ONCE
)

type TimeProc func(loop *Loop, id int, extra any)

type TimeEvent struct {
	id       int
	mask     TeType
	when     int64 // ms
	interval int64 // ms
	proc     TimeProc
	extra    any
	removed  bool
	next     *TimeEvent
}

// Loop is the owner goroutine of all model state. Every callback continuation
// posted to it runs serially, so state touched only from the loop needs no lock.
// Time events must be added and removed from the loop goroutine.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}

	TimeEvents      *TimeEvent
	timeEventNextId int

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func New() *Loop {
	return &Loop{
		notify:          make(chan struct{}, 1),
		timeEventNextId: 1,
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

func GetMsTime() int64 {
	return time.Now().UnixNano() / 1e6
}

// Post queues fn to run on the loop. It never blocks, so worker goroutines
// can hand results back while the loop itself is waiting on them.
func (loop *Loop) Post(fn func()) {
	loop.mu.Lock()
	loop.tasks = append(loop.tasks, fn)
	loop.mu.Unlock()

	select {
	case loop.notify <- struct{}{}:
	default:
	}
}

// Sync runs fn on the loop and waits until it returns.
func (loop *Loop) Sync(fn func()) {
	done := make(chan struct{})
	loop.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-loop.stopped:
	}
}

func (loop *Loop) AddTimeEvent(mask TeType, interval time.Duration, proc TimeProc, extra any) int {
	id := loop.timeEventNextId
	loop.timeEventNextId++
	ms := interval.Milliseconds()
	te := TimeEvent{
		id:       id,
		mask:     mask,
		interval: ms,
		when:     GetMsTime() + ms,
		proc:     proc,
		extra:    extra,
		next:     loop.TimeEvents,
	}
	loop.TimeEvents = &te
	return id
}

func (loop *Loop) RemoveTimeEvent(id int) {
	p := loop.TimeEvents
	var pre *TimeEvent
	for p != nil {
		if p.id == id {
			if pre == nil {
				loop.TimeEvents = p.next
			} else {
				pre.next = p.next
			}
			p.next = nil
			p.removed = true
			break
		}
		pre = p
		p = p.next
	}
}

func (loop *Loop) nearestTime() int64 {
	var nearest int64 = GetMsTime() + 1000
	p := loop.TimeEvents
	for p != nil {
		if p.when < nearest {
			nearest = p.when
		}
		p = p.next
	}
	return nearest
}

// Wait blocks until tasks are posted or a time event is due, then collects them.
func (loop *Loop) Wait() (tes []*TimeEvent, tasks []func(), ok bool) {
	timeout := loop.nearestTime() - GetMsTime()
	if timeout < 1 {
		timeout = 1
	}
	timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-loop.stop:
		return nil, nil, false
	case <-loop.notify:
	case <-timer.C:
	}

	loop.mu.Lock()
	tasks = loop.tasks
	loop.tasks = nil
	loop.mu.Unlock()

	// collect time events
	now := GetMsTime()
	p := loop.TimeEvents
	for p != nil {
		if p.when <= now {
			tes = append(tes, p)
		}
		p = p.next
	}
	return tes, tasks, true
}

func (loop *Loop) Process(tes []*TimeEvent, tasks []func()) {
	for _, fn := range tasks {
		fn()
	}
	for _, te := range tes {
		if te.removed {
			continue
		}
		te.proc(loop, te.id, te.extra)
		if te.mask == AE_ONCE {
			loop.RemoveTimeEvent(te.id)
		} else {
			te.when = GetMsTime() + te.interval
		}
	}
}

// Run processes events until Stop is called.
func (loop *Loop) Run() {
	defer close(loop.stopped)
	for {
		tes, tasks, ok := loop.Wait()
		if !ok {
			return
		}
		loop.Process(tes, tasks)
	}
}

// Stop ends Run. Tasks still queued are dropped.
func (loop *Loop) Stop() {
	loop.once.Do(func() { close(loop.stop) })
}

// Stopped is closed once Run has returned.
func (loop *Loop) Stopped() <-chan struct{} {
	return loop.stopped
}
