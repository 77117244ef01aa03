package store

import "errors"

var (
	ErrAssociateNotFound   = errors.New("associate not found")
	ErrAmbiguousIdentifier = errors.New("identifier matches more than one associate")
	ErrActiveSessionExists = errors.New("associate already has an active session")
	ErrNoActiveSession     = errors.New("no active session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidRange        = errors.New("end time must be after start time")
)
