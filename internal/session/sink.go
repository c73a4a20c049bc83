package session

import (
	"github.com/nordgate/speed-daemon/internal/model"
	"github.com/nordgate/speed-daemon/internal/outbox"
	"github.com/nordgate/speed-daemon/internal/protocol"
)

// dispatcherSink adapts an Outbox to world.DispatcherSink so the world
// package never needs to import the protocol or outbox layers.
type dispatcherSink struct {
	out *outbox.Outbox
}

func (d dispatcherSink) Send(t model.Ticket) bool {
	return d.out.Send(protocol.TicketFrame{
		Plate:      string(t.Plate),
		Road:       uint16(t.Road),
		Mile1:      uint16(t.Mile1),
		Timestamp1: uint32(t.Timestamp1),
		Mile2:      uint16(t.Mile2),
		Timestamp2: uint32(t.Timestamp2),
		Speed:      t.Speed,
	})
}
