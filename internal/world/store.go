// Package world owns the process-wide, mutex-guarded registry of cameras,
// dispatchers, plate sightings, ticketed days, and parked tickets. It is
// grounded on the teacher's internal/hub.Hub: a single struct behind one
// mutex, snapshot-before-iterate where a producer must not hold the lock
// across a channel send.
package world

import (
	"errors"
	"sync"

	"github.com/nordgate/speed-daemon/internal/model"
	"github.com/nordgate/speed-daemon/internal/ticketing"
)

// ErrUnknownCamera is returned by ProcessPlate when no camera has
// registered under the given connection id — a programmer/protocol
// invariant violation (the session must identify as a camera before
// sending Plate frames).
var ErrUnknownCamera = errors.New("world: plate frame from unregistered camera")

// DispatcherSink is the delivery side of a dispatcher's outbound queue, as
// seen by the store. It is implemented by an adapter in the session
// package so this package never imports the protocol/outbox layers —
// Store only needs to know a ticket can be handed off, not how.
type DispatcherSink interface {
	// Send attempts a non-blocking hand-off of the ticket. false means the
	// queue was full or closed; the caller is responsible for parking the
	// ticket via Store.ParkTicket in that case.
	Send(model.Ticket) bool
}

// Delivery pairs a freshly-issued ticket with the sink it should be handed
// to. Store.ProcessPlate returns these without performing the hand-off
// itself, so the store's lock is never held across a queue send.
type Delivery struct {
	Ticket model.Ticket
	Sink   DispatcherSink
}

type plateRoadKey struct {
	plate model.Plate
	road  model.Road
}

type dayPlateKey struct {
	day   uint32
	plate model.Plate
}

type dispatcherEntry struct {
	conn model.ConnID
	sink DispatcherSink
}

// Store is the single process-wide world model. All mutation goes through
// its methods; none of them blocks on anything but the mutex.
type Store struct {
	mu           sync.Mutex
	cameras      map[model.ConnID]model.Camera
	dispatchers  map[model.Road][]dispatcherEntry
	sightings    map[plateRoadKey][]model.Sighting
	ticketedDays map[dayPlateKey]struct{}
	pending      map[model.Road][]model.Ticket
}

// NewStore returns an empty world model.
func NewStore() *Store {
	return &Store{
		cameras:      make(map[model.ConnID]model.Camera),
		dispatchers:  make(map[model.Road][]dispatcherEntry),
		sightings:    make(map[plateRoadKey][]model.Sighting),
		ticketedDays: make(map[dayPlateKey]struct{}),
		pending:      make(map[model.Road][]model.Ticket),
	}
}

// AddCamera registers a camera's immutable (road, mile, limit) triple.
func (s *Store) AddCamera(id model.ConnID, cam model.Camera) {
	s.mu.Lock()
	s.cameras[id] = cam
	s.mu.Unlock()
}

// GetCamera returns the camera registered under id, if any.
func (s *Store) GetCamera(id model.ConnID) (model.Camera, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, ok := s.cameras[id]
	return cam, ok
}

// AddDispatcher registers a dispatcher's sink under each of its roads.
func (s *Store) AddDispatcher(id model.ConnID, roads []model.Road, sink DispatcherSink) {
	s.mu.Lock()
	for _, r := range roads {
		s.dispatchers[r] = append(s.dispatchers[r], dispatcherEntry{conn: id, sink: sink})
	}
	s.mu.Unlock()
}

// FirstDispatcherForRoad returns the first dispatcher registered for road,
// if any. When several dispatchers share a road, the first-registered one
// is the correct choice per the delivery invariant.
func (s *Store) FirstDispatcherForRoad(road model.Road) (DispatcherSink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstDispatcherForLocked(road)
}

func (s *Store) firstDispatcherForLocked(road model.Road) (DispatcherSink, bool) {
	entries := s.dispatchers[road]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0].sink, true
}

// ProcessPlate runs the whole check-then-persist pass for one plate
// sighting from camera id as a single atomic operation: it evaluates every
// prior sighting for (plate, road) against the new one, claims any newly
// ticketed day ranges, and only then persists the new sighting — so the
// camera's own new sighting can never be paired with itself, and two
// concurrent Plate frames on the same road can never double-ticket a day.
//
// It returns the deliveries that must now be handed off. The caller
// performs the actual Sink.Send (or ParkTicket on failure) after this
// method returns; the store's lock must never be held across a queue send.
func (s *Store) ProcessPlate(id model.ConnID, plate model.Plate, ts model.Timestamp) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cam, ok := s.cameras[id]
	if !ok {
		return nil, ErrUnknownCamera
	}

	key := plateRoadKey{plate: plate, road: cam.Road}
	prior := s.sightings[key]

	var deliveries []Delivery
	for _, p := range prior {
		pair, ok := ticketing.Order(uint16(p.Mile), uint32(p.Timestamp), uint16(cam.Mile), uint32(ts))
		if !ok {
			continue
		}
		speed := ticketing.SpeedHundredths(pair)
		if speed <= uint64(cam.Limit)*100 {
			continue
		}
		dayLo, dayHi := ticketing.DayRange(pair)
		if s.anyDayTicketedLocked(plate, dayLo, dayHi) {
			continue
		}
		s.markDayRangeLocked(plate, dayLo, dayHi)

		tk := model.Ticket{
			Plate:      plate,
			Road:       cam.Road,
			Mile1:      model.Mile(pair.Mile1),
			Timestamp1: model.Timestamp(pair.Timestamp1),
			Mile2:      model.Mile(pair.Mile2),
			Timestamp2: model.Timestamp(pair.Timestamp2),
			Speed:      ticketing.ClampSpeed(speed),
		}
		if sink, ok := s.firstDispatcherForLocked(cam.Road); ok {
			deliveries = append(deliveries, Delivery{Ticket: tk, Sink: sink})
		} else {
			s.pending[cam.Road] = append(s.pending[cam.Road], tk)
		}
	}

	s.sightings[key] = append(prior, model.Sighting{Mile: cam.Mile, Timestamp: ts, Conn: id})
	return deliveries, nil
}

func (s *Store) anyDayTicketedLocked(plate model.Plate, lo, hi uint32) bool {
	for d := lo; d <= hi; d++ {
		if _, ok := s.ticketedDays[dayPlateKey{day: d, plate: plate}]; ok {
			return true
		}
	}
	return false
}

func (s *Store) markDayRangeLocked(plate model.Plate, lo, hi uint32) {
	for d := lo; d <= hi; d++ {
		s.ticketedDays[dayPlateKey{day: d, plate: plate}] = struct{}{}
	}
}

// ParkTicket files a ticket as pending for a road, either because no
// dispatcher was registered at emission time or because the chosen
// dispatcher's outbound queue was full when the caller attempted delivery.
func (s *Store) ParkTicket(road model.Road, tk model.Ticket) {
	s.mu.Lock()
	s.pending[road] = append(s.pending[road], tk)
	s.mu.Unlock()
}

// DrainTicketsForRoad removes and returns every pending ticket for road, in
// the order they were parked. Called immediately after a dispatcher
// registers for that road.
func (s *Store) DrainTicketsForRoad(road model.Road) []model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	tickets := s.pending[road]
	delete(s.pending, road)
	return tickets
}

// SightingsFor returns a copy of the sightings recorded for (plate, road),
// for diagnostics and tests.
func (s *Store) SightingsFor(plate model.Plate, road model.Road) []model.Sighting {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.sightings[plateRoadKey{plate: plate, road: road}]
	out := make([]model.Sighting, len(prior))
	copy(out, prior)
	return out
}
