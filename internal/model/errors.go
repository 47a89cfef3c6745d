package model

import (
	"errors"
	"fmt"
)

var (
	// Recycle bin lifecycle errors
	ErrNotFound          = errors.New("not found")
	ErrEntryNotFound     = errors.New("recycle bin entry not found")
	ErrObjectNotFound    = errors.New("object not found")
	ErrAlreadyDeleted    = errors.New("object already in recycle bin")
	ErrAlreadyRestored   = errors.New("entry already restored")
	ErrAlreadyPurged     = errors.New("entry already permanently deleted")
	ErrUnsupportedObject = errors.New("object type not supported")
	ErrRestoreConflict   = errors.New("restore conflict")
	ErrRestoreCancelled  = errors.New("restore cancelled")
	ErrNotExpired        = errors.New("entry has not reached its auto delete date")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Token related errors
	ErrTokenExpired = errors.New("token expired")

	// Security gate errors
	ErrRateLimited         = errors.New("rate limited")
	ErrLockedOut           = errors.New("locked out")
	ErrCaptchaRequired     = errors.New("captcha required")
	ErrCaptchaFailed       = errors.New("captcha verification failed")
	ErrInvalidSecurityCode = errors.New("invalid security code")

	// Generic errors
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrPersistence  = errors.New("persistence failure")
)

type RateLimitedError struct {
	MinutesUntilReset int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %d minutes", e.MinutesUntilReset)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

type LockedOutError struct {
	Level               LockoutLevel
	MinutesRemaining    int
	RequiresAdminUnlock bool
}

func (e *LockedOutError) Error() string {
	if e.RequiresAdminUnlock {
		return fmt.Sprintf("locked out at %s level: administrator unlock required", e.Level)
	}
	return fmt.Sprintf("locked out at %s level: %d minutes remaining", e.Level, e.MinutesRemaining)
}

func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

type InvalidSecurityCodeError struct {
	RemainingAttempts int
	Level             LockoutLevel
}

func (e *InvalidSecurityCodeError) Error() string {
	return fmt.Sprintf("invalid security code: %d attempts remaining", e.RemainingAttempts)
}

func (e *InvalidSecurityCodeError) Is(target error) bool {
	return target == ErrInvalidSecurityCode
}

type RestoreConflictError struct {
	Conflicts []FieldConflict
}

func (e *RestoreConflictError) Error() string {
	return fmt.Sprintf("restore conflict on %d unique field(s)", len(e.Conflicts))
}

func (e *RestoreConflictError) Is(target error) bool {
	return target == ErrRestoreConflict
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a storage failure; the enclosing transaction has
// been rolled back when it surfaces.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
