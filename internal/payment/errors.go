package payment

import "errors"

var (
	ErrNotFound          = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid payment transition")
	ErrUnknownStatus     = errors.New("unknown payment status")
	ErrExpired           = errors.New("payment expired")
	ErrNotOwner          = errors.New("payment belongs to another user")
	ErrValidation        = errors.New("invalid request")
	ErrNoImage           = errors.New("screenshot is empty")
)
