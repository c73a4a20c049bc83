// Package outbox is the single bounded outbound queue behind one
// connection: heartbeat, the ticketing engine, and the session's own error
// path all enqueue through Send, and exactly one writer goroutine drains
// it. It is adapted from the teacher's internal/transport.AsyncTx, keeping
// its non-blocking "send or drop" shape but carrying protocol.ServerFrame
// instead of can.Frame.
package outbox

import (
	"context"
	"sync/atomic"

	"github.com/nordgate/speed-daemon/internal/protocol"
)

// Hooks lets callers observe a dropped frame (metrics, logging) without the
// outbox importing either package.
type Hooks struct {
	OnDrop func()
}

// Outbox is a multi-producer, single-consumer bounded queue of server
// frames for one connection.
type Outbox struct {
	ch     chan protocol.ServerFrame
	ctx    context.Context
	cancel context.CancelFunc
	hooks  Hooks
	closed atomic.Bool
}

// New creates an Outbox with the given buffer capacity, derived from
// parent so closing parent also unblocks the writer.
func New(parent context.Context, buf int, hooks Hooks) *Outbox {
	ctx, cancel := context.WithCancel(parent)
	return &Outbox{
		ch:     make(chan protocol.ServerFrame, buf),
		ctx:    ctx,
		cancel: cancel,
		hooks:  hooks,
	}
}

// Send enqueues f without blocking. It returns false if the outbox is
// closed or the queue is full, and the caller decides what to do (e.g.
// park a ticket). Hooks.OnDrop (if set) fires only for a full queue.
func (o *Outbox) Send(f protocol.ServerFrame) bool {
	if o.closed.Load() {
		return false
	}
	select {
	case o.ch <- f:
		return true
	default:
		if o.hooks.OnDrop != nil {
			o.hooks.OnDrop()
		}
		return false
	}
}

// C is the receive side, consumed by exactly one writer goroutine.
func (o *Outbox) C() <-chan protocol.ServerFrame { return o.ch }

// Done reports when the outbox has been closed.
func (o *Outbox) Done() <-chan struct{} { return o.ctx.Done() }

// Close is idempotent and unblocks any goroutine waiting on Done().
func (o *Outbox) Close() {
	if o.closed.CompareAndSwap(false, true) {
		o.cancel()
	}
}
