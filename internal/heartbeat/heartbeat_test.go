package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/nordgate/speed-daemon/internal/outbox"
	"github.com/nordgate/speed-daemon/internal/protocol"
)

func TestStart_ZeroIntervalIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := outbox.New(ctx, 4, outbox.Hooks{})
	defer o.Close()

	Start(ctx, o, 0)

	select {
	case <-o.C():
		t.Fatalf("expected no heartbeat frames for interval=0")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStart_EmitsAtInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := outbox.New(ctx, 4, outbox.Hooks{})
	defer o.Close()

	// interval=1 deci-second => 100ms period.
	Start(ctx, o, 1)

	select {
	case f := <-o.C():
		if _, ok := f.(protocol.HeartbeatFrame); !ok {
			t.Fatalf("got %T, want HeartbeatFrame", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for heartbeat")
	}
}

func TestStart_StopsWhenOutboxClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := outbox.New(ctx, 4, outbox.Hooks{})

	Start(ctx, o, 1)
	<-o.C() // drain the first tick
	o.Close()

	// Draining further should not panic or hang; the goroutine must exit.
	time.Sleep(250 * time.Millisecond)
}
