package engine

import (
	"context"
	"strconv"
)

// flight is one generation shared by every caller that missed on the same cache key. It runs on a
// context detached from any single caller, so one caller giving up does not fail the others.
type flight struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters []*waiter
}

type waiter struct {
	ctx context.Context
}

func (e *Engine) joinFlight(ctx context.Context, key string) (*flight, *waiter) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	f := e.flights[key]
	if f == nil {
		e.flightSeq++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			id:     key + "#" + strconv.FormatUint(e.flightSeq, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		e.flights[key] = f
	}
	w := &waiter{ctx: ctx}
	f.waiters = append(f.waiters, w)
	return f, w
}

// leaveFlight drops one waiter. The last one out cancels the shared call if it is still running.
func (e *Engine) leaveFlight(key string, f *flight, w *waiter) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	for i, cur := range f.waiters {
		if cur == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
	if len(f.waiters) > 0 {
		return
	}
	f.cancel()
	if e.flights[key] == f {
		delete(e.flights, key)
	}
}

// wanted reports whether any caller still waits on f with a live context.
func (e *Engine) wanted(f *flight) bool {
	if f.ctx.Err() != nil {
		return false
	}
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	for _, w := range f.waiters {
		if w.ctx.Err() == nil {
			return true
		}
	}
	return false
}
