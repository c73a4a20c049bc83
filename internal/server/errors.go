package server

import (
	"errors"

	"github.com/nordgate/speed-daemon/internal/metrics"
)

// Sentinel errors so callers can classify failures via errors.Is, the way
// the teacher's internal/server/errors.go classifies its CAN gateway's.
var (
	ErrListen  = errors.New("listen")
	ErrAccept  = errors.New("accept")
	ErrContext = errors.New("context_cancelled")
)

func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrListen):
		return metrics.ErrListen
	case errors.Is(err, ErrAccept):
		return metrics.ErrAccept
	case errors.Is(err, ErrContext):
		return metrics.ErrContext
	default:
		return "other"
	}
}
