package engine

import "errors"

var (
	// ErrInsufficientMargin is returned when a futures account cannot cover
	// the margin an order requires.
	ErrInsufficientMargin = errors.New("engine: insufficient margin")

	// ErrOrderNotPending is returned when a cancellation or fill races a
	// transition that already happened.
	ErrOrderNotPending = errors.New("engine: order is not pending")

	// ErrPositionNotFound is returned for operations on a position that
	// does not exist.
	ErrPositionNotFound = errors.New("engine: position not found")

	// ErrInvalidOrder is returned for malformed order parameters.
	ErrInvalidOrder = errors.New("engine: invalid order")
)
