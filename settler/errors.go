package settler

import (
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/order"
)

var (
	ErrWrongOriginDomain      = errors.New("wrong origin domain")
	ErrWrongDestinationDomain = errors.New("wrong destination domain")
	ErrWrongSettler           = errors.New("order addressed to another settler")
	ErrNonceMismatch          = errors.New("sender nonce mismatch")
	ErrUnknownDestination     = errors.New("unknown destination domain")
	ErrUnknownOrigin          = errors.New("unknown origin domain")
	ErrOrderIDMismatch        = errors.New("order id mismatch")
	ErrAlreadyFilled          = errors.New("order already filled")
	ErrAlreadyOpened          = errors.New("order already opened")
	ErrExpired                = errors.New("order expired")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrUnauthorized           = errors.New("order not authorized by user")
)

var validationErrors = []error{
	order.ErrSchemaMismatch,
	order.ErrDecode,
	ErrWrongOriginDomain,
	ErrWrongDestinationDomain,
	ErrWrongSettler,
	ErrNonceMismatch,
	ErrUnknownDestination,
	ErrUnknownOrigin,
	ErrOrderIDMismatch,
	ErrAlreadyFilled,
	ErrAlreadyOpened,
	ErrExpired,
	ErrInvalidTransition,
	ErrUnauthorized,
}

// IsValidation reports whether err rejects a single order without touching state.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

type transitionKey struct {
	role     Role
	from, to Status
}

var transitions = map[transitionKey]struct{}{
	{RoleOrigin, StatusUnfilled, StatusOpened}:      {},
	{RoleDestination, StatusUnfilled, StatusFilled}: {},
	{RoleOrigin, StatusOpened, StatusSettled}:       {},
	{RoleOrigin, StatusOpened, StatusRefunded}:      {},
}

// CanTransition reports whether role may move an order from one status to another.
func CanTransition(role Role, from, to Status) bool {
	_, ok := transitions[transitionKey{role, from, to}]
	return ok
}

func checkTransition(role Role, from, to Status) error {
	if CanTransition(role, from, to) {
		return nil
	}

	switch {
	case role == RoleDestination && to == StatusFilled:
		return errors.Wrapf(ErrAlreadyFilled, "status %s", from)
	case role == RoleOrigin && to == StatusOpened:
		return errors.Wrapf(ErrAlreadyOpened, "status %s", from)
	default:
		return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", role, from, to)
	}
}
