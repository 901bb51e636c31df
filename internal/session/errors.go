package session

import (
	"errors"

	"idlecore/internal/game"
	"idlecore/internal/persist"
	"idlecore/internal/ranking"
)

// ErrorCode is the short machine-readable name of a domain error. It is the
// reason carried by PurchaseResult and the code returned to HTTP and socket
// clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrUnknownUnit):
		return "unknown_unit"
	case errors.Is(err, game.ErrCapReached):
		return "cap_reached"
	case errors.Is(err, game.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, game.ErrInvalidMultiplier):
		return "invalid_multiplier"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrInvalidCommand):
		return "bad_command"
	case errors.Is(err, ranking.ErrUnknownMetric):
		return "unknown_metric"
	case errors.Is(err, persist.ErrUnavailable):
		return "storage_unavailable"
	}
	return "internal"
}
