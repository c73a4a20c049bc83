package world

import (
	"sync"
	"testing"

	"github.com/nordgate/speed-daemon/internal/model"
)

type fakeSink struct {
	mu  sync.Mutex
	got []model.Ticket
	cap int
}

func newFakeSink(capacity int) *fakeSink { return &fakeSink{cap: capacity} }

func (f *fakeSink) Send(t model.Ticket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cap > 0 && len(f.got) >= f.cap {
		return false
	}
	f.got = append(f.got, t)
	return true
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestProcessPlate_NoTicketUnderLimit(t *testing.T) {
	s := NewStore()
	s.AddCamera(1, model.Camera{Road: 123, Mile: 8, Limit: 60})
	if _, err := s.ProcessPlate(1, "UN1X", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.AddCamera(2, model.Camera{Road: 123, Mile: 9, Limit: 60})
	deliveries, err := s.ProcessPlate(2, "UN1X", 60) // 1 mile / 60s = 60mph, not > limit
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected no ticket, got %d", len(deliveries))
	}
}

func TestProcessPlate_ScenarioTwoTicketDelivered(t *testing.T) {
	s := NewStore()
	sink := newFakeSink(0)
	s.AddDispatcher(99, []model.Road{123}, sink)

	s.AddCamera(1, model.Camera{Road: 123, Mile: 8, Limit: 60})
	s.AddCamera(2, model.Camera{Road: 123, Mile: 9, Limit: 60})

	if _, err := s.ProcessPlate(1, "UN1X", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deliveries, err := s.ProcessPlate(2, "UN1X", 45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(deliveries))
	}
	tk := deliveries[0].Ticket
	if tk.Speed != 8000 || tk.Mile1 != 8 || tk.Mile2 != 9 {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	if !deliveries[0].Sink.Send(tk) {
		t.Fatalf("expected delivery to succeed")
	}
	if sink.count() != 1 {
		t.Fatalf("sink did not receive ticket")
	}
}

func TestProcessPlate_NoDispatcherParksTicket(t *testing.T) {
	s := NewStore()
	s.AddCamera(1, model.Camera{Road: 123, Mile: 8, Limit: 60})
	s.AddCamera(2, model.Camera{Road: 123, Mile: 9, Limit: 60})
	if _, err := s.ProcessPlate(1, "UN1X", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deliveries, err := s.ProcessPlate(2, "UN1X", 45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected no immediate delivery (no dispatcher), got %d", len(deliveries))
	}
	parked := s.DrainTicketsForRoad(123)
	if len(parked) != 1 {
		t.Fatalf("expected 1 parked ticket, got %d", len(parked))
	}
}

func TestProcessPlate_AtMostOneTicketPerPlatePerDay(t *testing.T) {
	s := NewStore()
	sink := newFakeSink(0)
	s.AddDispatcher(99, []model.Road{123}, sink)
	s.AddCamera(1, model.Camera{Road: 123, Mile: 8, Limit: 60})
	s.AddCamera(2, model.Camera{Road: 123, Mile: 9, Limit: 60})
	s.AddCamera(3, model.Camera{Road: 123, Mile: 10, Limit: 60})

	mustProcess := func(id model.ConnID, plate model.Plate, ts model.Timestamp) []Delivery {
		d, err := s.ProcessPlate(id, plate, ts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return d
	}

	mustProcess(1, "UN1X", 0)
	first := mustProcess(2, "UN1X", 45)
	if len(first) != 1 {
		t.Fatalf("expected first ticket, got %d", len(first))
	}
	second := mustProcess(3, "UN1X", 90)
	if len(second) != 0 {
		t.Fatalf("expected no second ticket for the same plate/day, got %d", len(second))
	}
}

func TestProcessPlate_UnknownCameraIsError(t *testing.T) {
	s := NewStore()
	if _, err := s.ProcessPlate(42, "UN1X", 0); err != ErrUnknownCamera {
		t.Fatalf("got %v, want ErrUnknownCamera", err)
	}
}

func TestProcessPlate_ConcurrentCamerasNeverDoubleTicketSameDay(t *testing.T) {
	s := NewStore()
	sink := newFakeSink(0)
	s.AddDispatcher(1000, []model.Road{7}, sink)

	const n = 20
	for i := 0; i < n; i++ {
		s.AddCamera(model.ConnID(i), model.Camera{Road: 7, Mile: model.Mile(i), Limit: 10})
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			deliveries, _ := s.ProcessPlate(model.ConnID(i), "SAME1", model.Timestamp(i*10))
			for _, d := range deliveries {
				d.Sink.Send(d.Ticket)
			}
		}(i)
	}
	wg.Wait()

	if sink.count() > 1 {
		t.Fatalf("expected at most one ticket for the plate/day, got %d", sink.count())
	}
}
