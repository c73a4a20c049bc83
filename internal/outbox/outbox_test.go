package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/nordgate/speed-daemon/internal/protocol"
)

func TestOutbox_SendThenReceive(t *testing.T) {
	o := New(context.Background(), 4, Hooks{})
	defer o.Close()
	if !o.Send(protocol.HeartbeatFrame{}) {
		t.Fatalf("expected send to succeed")
	}
	select {
	case f := <-o.C():
		if _, ok := f.(protocol.HeartbeatFrame); !ok {
			t.Fatalf("got %T, want HeartbeatFrame", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
}

func TestOutbox_DropDoesNotBlock(t *testing.T) {
	var drops int
	o := New(context.Background(), 1, Hooks{OnDrop: func() { drops++ }})
	defer o.Close()
	if !o.Send(protocol.HeartbeatFrame{}) {
		t.Fatalf("first send should succeed")
	}
	if o.Send(protocol.HeartbeatFrame{}) {
		t.Fatalf("second send should drop (queue full)")
	}
	if drops != 1 {
		t.Fatalf("expected 1 drop, got %d", drops)
	}
}

func TestOutbox_SendAfterCloseFails(t *testing.T) {
	o := New(context.Background(), 4, Hooks{})
	o.Close()
	o.Close() // idempotent
	if o.Send(protocol.HeartbeatFrame{}) {
		t.Fatalf("expected send after close to fail")
	}
	select {
	case <-o.Done():
	default:
		t.Fatalf("expected Done() to be closed")
	}
}
