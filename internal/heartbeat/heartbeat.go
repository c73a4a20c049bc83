// Package heartbeat emits the periodic 0x41 Heartbeat frame a session
// requested via WantHeartbeat.
package heartbeat

import (
	"context"
	"time"

	"github.com/nordgate/speed-daemon/internal/outbox"
	"github.com/nordgate/speed-daemon/internal/protocol"
)

// Start spawns a goroutine that sends a Heartbeat frame to out every
// interval deci-seconds (interval × 100ms), until ctx is cancelled or out
// is closed. interval == 0 means "no heartbeat; do nothing": no goroutine
// is spawned, matching the wire protocol's explicit boundary behavior.
//
// The caller (the session) is responsible for rejecting a second
// WantHeartbeat frame on the same connection — this function only starts
// one ticker per call.
func Start(ctx context.Context, out *outbox.Outbox, interval uint32) {
	if interval == 0 {
		return
	}
	period := time.Duration(interval) * 100 * time.Millisecond
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				out.Send(protocol.HeartbeatFrame{})
			case <-ctx.Done():
				return
			case <-out.Done():
				return
			}
		}
	}()
}
