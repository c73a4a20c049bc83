package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/nordgate/speed-daemon/internal/model"
	"github.com/nordgate/speed-daemon/internal/protocol"
	"github.com/nordgate/speed-daemon/internal/world"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readServerFrame(t *testing.T, conn net.Conn, timeout time.Duration) protocol.ServerFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		f, n, err := protocol.DecodeServerFrame(buf)
		if err == nil {
			_ = n
			return f
		}
		read, rerr := conn.Read(tmp)
		if read > 0 {
			buf = append(buf, tmp[:read]...)
		}
		if rerr != nil {
			t.Fatalf("read error waiting for server frame: %v", rerr)
		}
	}
}

func startSession(t *testing.T, store *world.Store) (client net.Conn, done chan struct{}) {
	t.Helper()
	server, c := net.Pipe()
	sess := New(1, server, store, discardLogger(), 0, nil)
	done = make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()
	return c, done
}

func TestSession_NoTicketScenario(t *testing.T) {
	store := world.NewStore()
	client, done := startSession(t, store)
	defer client.Close()

	_, err := client.Write([]byte{0x80, 0x00, 0x7B, 0x00, 0x08, 0x00, 0x3C})
	if err != nil {
		t.Fatalf("write IAmCamera: %v", err)
	}
	_, err = client.Write([]byte{0x20, 0x04, 'U', 'N', '1', 'X', 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("write Plate: %v", err)
	}
	_ = client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("session did not terminate")
	}
}

func TestSession_SecondIdentificationIsProtocolError(t *testing.T) {
	store := world.NewStore()
	client, done := startSession(t, store)
	defer client.Close()

	if _, err := client.Write([]byte{0x80, 0x00, 0x7B, 0x00, 0x08, 0x00, 0x3C}); err != nil {
		t.Fatalf("write IAmCamera: %v", err)
	}
	if _, err := client.Write([]byte{0x80, 0x00, 0x7B, 0x00, 0x09, 0x00, 0x3C}); err != nil {
		t.Fatalf("write second IAmCamera: %v", err)
	}

	f := readServerFrame(t, client, time.Second)
	ef, ok := f.(protocol.ErrorFrame)
	if !ok {
		t.Fatalf("got %T, want ErrorFrame", f)
	}
	if ef.Message == "" {
		t.Fatalf("expected non-empty error message")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("session did not terminate after protocol error")
	}
}

func TestSession_MalformedFrameClosesWithError(t *testing.T) {
	store := world.NewStore()
	client, done := startSession(t, store)
	defer client.Close()

	if _, err := client.Write([]byte{0xFF}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readServerFrame(t, client, time.Second)
	if _, ok := f.(protocol.ErrorFrame); !ok {
		t.Fatalf("got %T, want ErrorFrame", f)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("session did not terminate")
	}
}

func TestSession_TwoCamerasProduceTicketForRegisteredDispatcher(t *testing.T) {
	store := world.NewStore()

	dispServer, dispClient := net.Pipe()
	dispSess := New(100, dispServer, store, discardLogger(), 0, nil)
	dispDone := make(chan struct{})
	go func() {
		dispSess.Run(context.Background())
		close(dispDone)
	}()
	defer dispClient.Close()

	if _, err := dispClient.Write([]byte{0x81, 0x01, 0x00, 0x7B}); err != nil {
		t.Fatalf("write IAmDispatcher: %v", err)
	}

	camAServer, camAClient := net.Pipe()
	camA := New(1, camAServer, store, discardLogger(), 0, nil)
	go camA.Run(context.Background())
	defer camAClient.Close()

	camBServer, camBClient := net.Pipe()
	camB := New(2, camBServer, store, discardLogger(), 0, nil)
	go camB.Run(context.Background())
	defer camBClient.Close()

	if _, err := camAClient.Write([]byte{0x80, 0x00, 0x7B, 0x00, 0x08, 0x00, 0x3C}); err != nil {
		t.Fatalf("write camera A id: %v", err)
	}
	if _, err := camBClient.Write([]byte{0x80, 0x00, 0x7B, 0x00, 0x09, 0x00, 0x3C}); err != nil {
		t.Fatalf("write camera B id: %v", err)
	}
	if _, err := camAClient.Write([]byte{0x20, 0x04, 'U', 'N', '1', 'X', 0x00, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("write plate A: %v", err)
	}
	if _, err := camBClient.Write([]byte{0x20, 0x04, 'U', 'N', '1', 'X', 0x00, 0x00, 0x00, 0x2D}); err != nil {
		t.Fatalf("write plate B: %v", err)
	}

	f := readServerFrame(t, dispClient, 2*time.Second)
	tk, ok := f.(protocol.TicketFrame)
	if !ok {
		t.Fatalf("got %T, want TicketFrame", f)
	}
	if tk.Plate != "UN1X" || tk.Road != 123 || tk.Mile1 != 8 || tk.Mile2 != 9 || tk.Speed != 8000 {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	_ = model.Road(0)
}

func TestSession_WantHeartbeatTwiceIsProtocolError(t *testing.T) {
	store := world.NewStore()
	client, done := startSession(t, store)
	defer client.Close()

	if _, err := client.Write([]byte{0x40, 0x00, 0x00, 0x00, 0x0A}); err != nil {
		t.Fatalf("write WantHeartbeat: %v", err)
	}
	if _, err := client.Write([]byte{0x40, 0x00, 0x00, 0x00, 0x0A}); err != nil {
		t.Fatalf("write second WantHeartbeat: %v", err)
	}

	var got protocol.ServerFrame
	for i := 0; i < 20; i++ {
		got = readServerFrame(t, client, 2*time.Second)
		if _, ok := got.(protocol.ErrorFrame); ok {
			break
		}
	}
	if _, ok := got.(protocol.ErrorFrame); !ok {
		t.Fatalf("got %T, want ErrorFrame eventually", got)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("session did not terminate")
	}
}
