// Package model holds the plain data types shared by the world store, the
// ticketing engine, and the session layer. Nothing in this package touches
// I/O or concurrency.
package model

// ConnID identifies a connection for the life of its socket. It is the
// "socket identity" the specification uses to key cameras and dispatchers;
// it is assigned once at accept time and never reused.
type ConnID uint64

// Road, Mile and Limit mirror the wire protocol's u16 fields.
type (
	Road  uint16
	Mile  uint16
	Limit uint16
)

// Timestamp is seconds since epoch, as carried on the wire (u32).
type Timestamp uint32

// Day returns floor(timestamp/86400).
func (t Timestamp) Day() uint32 { return uint32(t) / 86400 }

// Plate is an opaque byte string identifying a vehicle. Length and content
// are unconstrained beyond the wire protocol's u8 length prefix.
type Plate string

// Camera is the immutable triple a camera connection registers once.
type Camera struct {
	Road  Road
	Mile  Mile
	Limit Limit
}

// Sighting is one (mile, timestamp) observation of a plate, attributed to
// the camera connection that reported it.
type Sighting struct {
	Mile      Mile
	Timestamp Timestamp
	Conn      ConnID
}

// Ticket describes one speeding event spanning two sightings.
type Ticket struct {
	Plate      Plate
	Road       Road
	Mile1      Mile
	Timestamp1 Timestamp
	Mile2      Mile
	Timestamp2 Timestamp
	Speed      uint16 // hundredths of mph
}
