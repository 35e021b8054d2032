package rpc

import (
	"context"
	"runtime"
)

// RunEventLoopOnce runs one tick: drain and handle the inbox, scan the
// retry queue, poll data-plane completions. Non-blocking.
func (e *Endpoint) RunEventLoopOnce() {
	e.handleSessionManagement()
	e.retryInFlight()
	e.transport.PollCompletions()
}

// RunEventLoop ticks until ctx is done.
func (e *Endpoint) RunEventLoop(ctx context.Context) {
	for ctx.Err() == nil {
		e.RunEventLoopOnce()
		runtime.Gosched()
	}
}

// RunEventLoopTimeout ticks for timeoutMs milliseconds of the cycle clock.
func (e *Endpoint) RunEventLoopTimeout(timeoutMs uint64) {
	start := e.clock.Now()
	for {
		e.RunEventLoopOnce()
		if e.clock.ToMs(e.clock.Now()-start) > float64(timeoutMs) {
			return
		}
		runtime.Gosched()
	}
}
