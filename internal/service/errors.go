package service

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDriverInactive     = errors.New("driver account inactive")

	// Claim and payment workflow errors. All recoverable: the handler maps
	// them to statuses the claim page can re-render from.
	ErrAlreadyReserved  = errors.New("course already reserved by another driver")
	ErrNotOpen          = errors.New("course not available")
	ErrExpired          = errors.New("expired")
	ErrAlreadyProcessed = errors.New("already processed")
)
