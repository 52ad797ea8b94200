package model

import "github.com/m-mizutani/goerr/v2"

var (
	ErrUnknownSession         = goerr.New("unknown session")
	ErrInvalidStateTransition = goerr.New("invalid session state transition")
	ErrInvalidSessionStatus   = goerr.New("invalid session status")
	ErrEmptyStore             = goerr.New("memory store is empty")
	ErrPersistence            = goerr.New("persistence failure")

	// ErrRecoveredFromCorruption is returned by strict loads when the persisted
	// document exists but cannot be decoded. It is also an ErrPersistence.
	ErrRecoveredFromCorruption = goerr.Wrap(ErrPersistence, "persisted document is corrupt")
)
