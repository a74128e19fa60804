package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidRange          = errors.New("invalid price range")
	ErrInvalidAssets         = errors.New("invalid asset pair")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrOverflow              = errors.New("fixed-point overflow")
	ErrPositionAlreadyClosed = errors.New("position already closed")
	ErrUnauthorizedOwner     = errors.New("caller is not the position owner")
	ErrPositionBusy          = errors.New("another operation is in flight for this position")
	ErrUnauthorizedCallback  = errors.New("loan callback does not match a pending request")
	ErrLeverageOutOfRange    = errors.New("leverage factor out of range")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrSlippageExceeded      = errors.New("swap slippage exceeded")
	ErrVenueUnavailable      = errors.New("venue unavailable")
	ErrStateConflict         = errors.New("concurrent state change")
	ErrLockHeld              = errors.New("lock already held")
)
