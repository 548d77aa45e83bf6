package lottery

import "errors"

var (
	// ErrNotFound is returned when no lottery has the requested name.
	ErrNotFound = errors.New("lottery: not found")
	// ErrDuplicateName is returned when the name is already taken.
	ErrDuplicateName = errors.New("lottery: name already exists")
	// ErrBlockAlreadyPassed is returned when the strike block was already mined.
	ErrBlockAlreadyPassed = errors.New("lottery: strike block already passed")
	// ErrInvalidName rejects empty names.
	ErrInvalidName = errors.New("lottery: name is required")
	// ErrInvalidRange is returned unless ticket_min_number < ticket_max_number.
	ErrInvalidRange = errors.New("lottery: ticket min number must be below max number")
	// ErrInvalidPrice rejects non-positive prices and prices finer than a cent.
	ErrInvalidPrice = errors.New("lottery: ticket price must be positive and in whole cents")
	// ErrInvalidWinners is returned for a winner count outside [1, range size].
	ErrInvalidWinners = errors.New("lottery: invalid number of winning tickets")
	// ErrInvalidTransition is returned when a status change would not move one step forward
	// or the lottery is no longer in the expected status.
	ErrInvalidTransition = errors.New("lottery: invalid status transition")
)
