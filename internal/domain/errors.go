package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrVersionConflict   = errors.New("domain: version conflict")
	ErrSessionInactive   = errors.New("domain: session inactive")
	ErrStaleTurn         = errors.New("domain: stale turn number")
	ErrInvalidTransition = errors.New("domain: invalid state transition")
	ErrMilestoneRegress  = errors.New("domain: milestone may not be unset")
	ErrCorruptRecord     = errors.New("domain: corrupt session record")
)
