// Package session implements the per-connection state machine: Unidentified
// → Camera | Dispatcher → Closed, binding the frame codec, the world store,
// heartbeats, and the single-writer outbound queue. It is grounded on the
// teacher's internal/server reader.go/writer.go split (one reader goroutine,
// one writer goroutine, both fed by a shared client handle) generalized
// from CAN frames to the speed-daemon wire protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/nordgate/speed-daemon/internal/heartbeat"
	"github.com/nordgate/speed-daemon/internal/metrics"
	"github.com/nordgate/speed-daemon/internal/model"
	"github.com/nordgate/speed-daemon/internal/outbox"
	"github.com/nordgate/speed-daemon/internal/protocol"
	"github.com/nordgate/speed-daemon/internal/world"
)

// State is one of the four session states from the transition table.
type State int

const (
	StateUnidentified State = iota
	StateCamera
	StateDispatcher
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateCamera:
		return "camera"
	case StateDispatcher:
		return "dispatcher"
	default:
		return "closed"
	}
}

const outboxCapacity = 1024

// TicketEventFunc is an optional hook invoked for every ticket issued
// (delivered or parked), used by the admin observability feed. It must
// never block.
type TicketEventFunc func(model.Ticket)

// Session owns one accepted connection end to end.
type Session struct {
	id     model.ConnID
	conn   net.Conn
	store  *world.Store
	logger *slog.Logger

	readDeadline time.Duration
	onTicket     TicketEventFunc

	ctx              context.Context
	out              *outbox.Outbox
	state            State
	camera           model.Camera
	heartbeatStarted bool
}

// New builds a session for an already-accepted connection. Run must be
// called to actually service it.
func New(id model.ConnID, conn net.Conn, store *world.Store, logger *slog.Logger, readDeadline time.Duration, onTicket TicketEventFunc) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		store:        store,
		logger:       logger,
		readDeadline: readDeadline,
		onTicket:     onTicket,
		state:        StateUnidentified,
	}
}

// Run services the connection until it closes or ctx is cancelled. It
// blocks until the session has fully torn down.
func (s *Session) Run(ctx context.Context) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.ctx = sessCtx
	s.out = outbox.New(sessCtx, outboxCapacity, outbox.Hooks{OnDrop: metrics.IncOutboxDrop})
	defer s.out.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writerLoop(sessCtx)
	}()

	s.readerLoop(sessCtx)
	cancel()
	<-writerDone
}

// writerLoop is the single writer of s.conn, exactly as §4.2/§9 require:
// every producer (reader's protocol errors, heartbeat, ticket delivery)
// only ever reaches the wire through s.out. It also owns closing the
// connection: doing so here, on ctx.Done(), is what unblocks a reader
// parked in a blocking Read for a shutdown (see readerLoop) rather than
// leaving it to wait out the read deadline, the same way the teacher's
// writer.go closes its conn from its own ctxDone case.
func (s *Session) writerLoop(ctx context.Context) {
	defer func() { _ = s.conn.Close() }()
	for {
		select {
		case f := <-s.out.C():
			if err := s.writeFrame(f); err != nil {
				s.logger.Debug("write_error", "error", err)
				return
			}
			if _, ok := f.(protocol.HeartbeatFrame); ok {
				metrics.IncHeartbeatSent()
			}
		case <-ctx.Done():
			s.drainOutbox()
			return
		}
	}
}

// drainOutbox flushes whatever is already queued (typically a protocolError
// frame enqueued just before the reader returned) before the connection
// closes, so a shutdown racing a final Send never silently drops it.
func (s *Session) drainOutbox() {
	for {
		select {
		case f := <-s.out.C():
			_ = s.writeFrame(f)
		default:
			return
		}
	}
}

func (s *Session) writeFrame(f protocol.ServerFrame) error {
	_, err := s.conn.Write(protocol.Encode(f))
	return err
}

// readerLoop blocks in Read between frames, which is fine for a
// legitimately idle connection (e.g. a dispatcher that only ever
// receives tickets, §5 scenario 3): a read-deadline timeout is not
// treated as a close, matching the teacher's own reader.go, which
// special-cases net.Error.Timeout() into "continue" rather than
// tearing the connection down. Shutdown responsiveness instead comes
// from writerLoop closing s.conn on ctx.Done(), which turns this Read
// into an immediate "use of closed connection" error.
func (s *Session) readerLoop(ctx context.Context) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		for {
			frame, n, err := protocol.Decode(buf)
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			if err != nil {
				metrics.IncMalformed()
				s.protocolError("bad frame")
				return
			}
			buf = buf[n:]
			if !s.handleFrame(frame) {
				return
			}
		}
		if s.readDeadline > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readDeadline))
		}
		n, err := s.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				s.logger.Warn("eof_mid_frame")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handleFrame applies the transition table in §4.6 and returns false when
// the session must terminate.
func (s *Session) handleFrame(f protocol.ClientFrame) bool {
	switch v := f.(type) {
	case protocol.IAmCameraFrame:
		return s.handleIAmCamera(v)
	case protocol.IAmDispatcherFrame:
		return s.handleIAmDispatcher(v)
	case protocol.WantHeartbeatFrame:
		return s.handleWantHeartbeat(v)
	case protocol.PlateFrame:
		return s.handlePlate(v)
	default:
		s.protocolError("bad frame")
		return false
	}
}

func (s *Session) handleIAmCamera(f protocol.IAmCameraFrame) bool {
	if s.state != StateUnidentified {
		s.protocolError("already identified")
		return false
	}
	s.camera = model.Camera{Road: model.Road(f.Road), Mile: model.Mile(f.Mile), Limit: model.Limit(f.Limit)}
	s.store.AddCamera(s.id, s.camera)
	s.state = StateCamera
	metrics.IncCameraRegistered()
	return true
}

func (s *Session) handleIAmDispatcher(f protocol.IAmDispatcherFrame) bool {
	if s.state != StateUnidentified {
		s.protocolError("already identified")
		return false
	}
	roads := make([]model.Road, len(f.Roads))
	for i, r := range f.Roads {
		roads[i] = model.Road(r)
	}
	sink := dispatcherSink{out: s.out}
	s.store.AddDispatcher(s.id, roads, sink)
	s.state = StateDispatcher
	metrics.IncDispatcherRegistered()

	for _, road := range roads {
		for _, tk := range s.store.DrainTicketsForRoad(road) {
			s.deliver(road, tk, sink)
		}
	}
	return true
}

func (s *Session) handleWantHeartbeat(f protocol.WantHeartbeatFrame) bool {
	if s.heartbeatStarted {
		s.protocolError("heartbeat already requested")
		return false
	}
	s.heartbeatStarted = true
	heartbeat.Start(s.ctx, s.out, f.Interval)
	return true
}

func (s *Session) handlePlate(f protocol.PlateFrame) bool {
	switch s.state {
	case StateUnidentified:
		s.protocolError("not identified")
		return false
	case StateDispatcher:
		s.protocolError("invalid from dispatcher")
		return false
	case StateCamera:
	default:
		s.protocolError("bad frame")
		return false
	}

	deliveries, err := s.store.ProcessPlate(s.id, model.Plate(f.Plate), model.Timestamp(f.Timestamp))
	if err != nil {
		metrics.IncError(metrics.ErrUnknownCamera)
		s.protocolError(fmt.Sprintf("internal error: %v", err))
		return false
	}
	metrics.IncPlateProcessed()

	for _, d := range deliveries {
		s.deliver(d.Ticket.Road, d.Ticket, d.Sink)
	}
	return true
}

// deliver hands a ticket to a dispatcher sink, parking it back in the
// store on backpressure so it is never silently lost.
func (s *Session) deliver(road model.Road, tk model.Ticket, sink world.DispatcherSink) {
	metrics.IncTicketIssued()
	if sink.Send(tk) {
		metrics.IncTicketDelivered()
	} else {
		metrics.IncTicketParked()
		s.store.ParkTicket(road, tk)
	}
	if s.onTicket != nil {
		s.onTicket(tk)
	}
}

// protocolError enqueues an Error frame through the single outbound queue
// (never writes s.conn directly, so it can never race writerLoop's writes)
// and transitions to Closed. writerLoop's drainOutbox flushes it even if
// the reader returning immediately after this call races the session
// tearing down.
func (s *Session) protocolError(msg string) {
	s.state = StateClosed
	s.out.Send(protocol.ErrorFrame{Message: msg})
	s.logger.Info("protocol_error", "message", msg)
}
