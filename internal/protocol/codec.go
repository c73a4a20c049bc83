package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrIncomplete means buf does not yet hold a full frame; buf is left
// untouched and the caller should retry once more bytes have arrived.
// ErrMalformed covers every other decode failure; the decoders report it
// only for an unknown tag byte, since every length prefix (zero included)
// is valid.
var (
	ErrIncomplete = errors.New("protocol: incomplete frame")
	ErrMalformed  = errors.New("protocol: malformed frame")
)

// Decode attempts to parse exactly one client frame from the front of buf.
// On success it returns the frame and the number of bytes consumed. On
// ErrIncomplete the caller must not advance its read cursor: the same bytes
// are re-parsed once more data arrives. Any other error is terminal for the
// connection.
func Decode(buf []byte) (ClientFrame, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrIncomplete
	}
	switch Tag(buf[0]) {
	case TagPlate:
		return decodePlate(buf)
	case TagWantHeartbeat:
		return decodeWantHeartbeat(buf)
	case TagIAmCamera:
		return decodeIAmCamera(buf)
	case TagIAmDispatcher:
		return decodeIAmDispatcher(buf)
	default:
		return nil, 0, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformed, buf[0])
	}
}

func decodePlate(buf []byte) (ClientFrame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}
	l := int(buf[1])
	need := 2 + l + 4
	if len(buf) < need {
		return nil, 0, ErrIncomplete
	}
	plate := string(buf[2 : 2+l])
	ts := binary.BigEndian.Uint32(buf[2+l : need])
	return PlateFrame{Plate: plate, Timestamp: ts}, need, nil
}

func decodeWantHeartbeat(buf []byte) (ClientFrame, int, error) {
	const need = 5
	if len(buf) < need {
		return nil, 0, ErrIncomplete
	}
	interval := binary.BigEndian.Uint32(buf[1:need])
	return WantHeartbeatFrame{Interval: interval}, need, nil
}

func decodeIAmCamera(buf []byte) (ClientFrame, int, error) {
	const need = 7
	if len(buf) < need {
		return nil, 0, ErrIncomplete
	}
	return IAmCameraFrame{
		Road:  binary.BigEndian.Uint16(buf[1:3]),
		Mile:  binary.BigEndian.Uint16(buf[3:5]),
		Limit: binary.BigEndian.Uint16(buf[5:7]),
	}, need, nil
}

func decodeIAmDispatcher(buf []byte) (ClientFrame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}
	n := int(buf[1])
	need := 2 + n*2
	if len(buf) < need {
		return nil, 0, ErrIncomplete
	}
	roads := make([]uint16, n)
	for i := 0; i < n; i++ {
		roads[i] = binary.BigEndian.Uint16(buf[2+i*2 : 4+i*2])
	}
	return IAmDispatcherFrame{Roads: roads}, need, nil
}

// Encode produces the exact bytewise layout for a server frame. Unknown
// frame types (none exist outside this package) encode to nil.
func Encode(f ServerFrame) []byte {
	switch v := f.(type) {
	case ErrorFrame:
		return encodeError(v)
	case TicketFrame:
		return encodeTicket(v)
	case HeartbeatFrame:
		return []byte{byte(TagHeartbeat)}
	default:
		return nil
	}
}

func encodeError(f ErrorFrame) []byte {
	msg := f.Message
	if len(msg) > 255 {
		msg = msg[:255]
	}
	buf := make([]byte, 2+len(msg))
	buf[0] = byte(TagError)
	buf[1] = byte(len(msg))
	copy(buf[2:], msg)
	return buf
}

func encodeTicket(f TicketFrame) []byte {
	plate := f.Plate
	if len(plate) > 255 {
		plate = plate[:255]
	}
	buf := make([]byte, 2+len(plate)+2+2+4+2+4+2)
	i := 0
	buf[i] = byte(TagTicket)
	i++
	buf[i] = byte(len(plate))
	i++
	i += copy(buf[i:], plate)
	binary.BigEndian.PutUint16(buf[i:], f.Road)
	i += 2
	binary.BigEndian.PutUint16(buf[i:], f.Mile1)
	i += 2
	binary.BigEndian.PutUint32(buf[i:], f.Timestamp1)
	i += 4
	binary.BigEndian.PutUint16(buf[i:], f.Mile2)
	i += 2
	binary.BigEndian.PutUint32(buf[i:], f.Timestamp2)
	i += 4
	binary.BigEndian.PutUint16(buf[i:], f.Speed)
	return buf
}

// DecodeServerFrame parses one server frame from buf, mirroring Decode's
// Incomplete/Malformed contract. It exists so the server-frame encoder is
// independently round-trip testable, the way the teacher's cnl.Codec keeps
// its encode and decode paths symmetric.
func DecodeServerFrame(buf []byte) (ServerFrame, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrIncomplete
	}
	switch Tag(buf[0]) {
	case TagError:
		if len(buf) < 2 {
			return nil, 0, ErrIncomplete
		}
		l := int(buf[1])
		need := 2 + l
		if len(buf) < need {
			return nil, 0, ErrIncomplete
		}
		return ErrorFrame{Message: string(buf[2:need])}, need, nil
	case TagHeartbeat:
		return HeartbeatFrame{}, 1, nil
	case TagTicket:
		return decodeTicket(buf)
	default:
		return nil, 0, fmt.Errorf("%w: unknown server tag 0x%02x", ErrMalformed, buf[0])
	}
}

func decodeTicket(buf []byte) (ServerFrame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}
	l := int(buf[1])
	fixed := 2 + l + 2 + 2 + 4 + 2 + 4 + 2
	if len(buf) < fixed {
		return nil, 0, ErrIncomplete
	}
	i := 2 + l
	plate := string(buf[2:i])
	road := binary.BigEndian.Uint16(buf[i : i+2])
	i += 2
	mile1 := binary.BigEndian.Uint16(buf[i : i+2])
	i += 2
	ts1 := binary.BigEndian.Uint32(buf[i : i+4])
	i += 4
	mile2 := binary.BigEndian.Uint16(buf[i : i+2])
	i += 2
	ts2 := binary.BigEndian.Uint32(buf[i : i+4])
	i += 4
	speed := binary.BigEndian.Uint16(buf[i : i+2])
	return TicketFrame{
		Plate: plate, Road: road, Mile1: mile1, Timestamp1: ts1,
		Mile2: mile2, Timestamp2: ts2, Speed: speed,
	}, fixed, nil
}
