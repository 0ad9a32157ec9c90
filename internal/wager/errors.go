package wager

import (
	"errors"
	"fmt"
)

// Kind is the error category surfaced to callers.
type Kind string

const (
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindStateConflict     Kind = "STATE_CONFLICT"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindFairnessViolation Kind = "FAIRNESS_VIOLATION"
	KindUnauthorized      Kind = "UNAUTHORIZED"
)

// Code is the discriminated reason for a rejection.
type Code string

const (
	CodeUnsupportedTier     Code = "unsupported_tier"
	CodeInvalidChoice       Code = "invalid_choice"
	CodeInvalidIdentity     Code = "invalid_identity"
	CodeSelfChallenge       Code = "self_challenge"
	CodeInvalidName         Code = "invalid_name"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeDuplicateEntry      Code = "duplicate_entry"
	CodeNotOccupant         Code = "not_occupant"
	CodeChallengeNotFound   Code = "challenge_not_found"
	CodeChallengeNotPending Code = "challenge_not_pending"
	CodeChallengeExpired    Code = "challenge_expired"
	CodeNotOpponent         Code = "not_challenge_opponent"
	CodeNotCreator          Code = "not_challenge_creator"
	CodeEscrowNotFound      Code = "escrow_not_found"
	CodeEscrowClosed        Code = "escrow_closed"
	CodeAlreadyRegistered   Code = "already_registered"
	CodeNotFound            Code = "not_found"
	CodeInsufficientFunds   Code = "insufficient_funds"
	CodeInsufficientReserve Code = "insufficient_reserve"
	CodeCommitmentNotFound  Code = "commitment_not_found"
	CodeCommitmentMismatch  Code = "commitment_mismatch"
	CodeCommitmentClosed    Code = "commitment_closed"
	CodeCommitmentLimit     Code = "commitment_limit"
	CodeAlreadyResolved     Code = "already_resolved"
	CodeConservation        Code = "conservation_violated"
	CodeNotRegistered       Code = "not_registered"
	CodeUnauthenticated     Code = "unauthenticated"
	CodeForbidden           Code = "forbidden"
)

// Error is a classified engine rejection. A call that returns an *Error has
// had no effect unless the code documents otherwise (challenge_expired).
type Error struct {
	Kind Kind
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches on Code so sentinel-style comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func InvalidInput(code Code, format string, args ...interface{}) *Error {
	return newErr(KindInvalidInput, code, format, args...)
}

func Conflict(code Code, format string, args ...interface{}) *Error {
	return newErr(KindStateConflict, code, format, args...)
}

func Insufficient(code Code, format string, args ...interface{}) *Error {
	return newErr(KindInsufficientFunds, code, format, args...)
}

func Fairness(code Code, format string, args ...interface{}) *Error {
	return newErr(KindFairnessViolation, code, format, args...)
}

func Unauthorized(code Code, format string, args ...interface{}) *Error {
	return newErr(KindUnauthorized, code, format, args...)
}

// KindOf returns the category of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// CodeOf returns the reason code of err, or "" for unclassified errors.
func CodeOf(err error) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// Sentinels for errors.Is checks.
var (
	ErrDuplicateEntry      = &Error{Kind: KindStateConflict, Code: CodeDuplicateEntry}
	ErrNotOccupant         = &Error{Kind: KindStateConflict, Code: CodeNotOccupant}
	ErrChallengeNotPending = &Error{Kind: KindStateConflict, Code: CodeChallengeNotPending}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Code: CodeInsufficientFunds}
	ErrAlreadyResolved     = &Error{Kind: KindFairnessViolation, Code: CodeAlreadyResolved}
	ErrNotFound            = &Error{Kind: KindStateConflict, Code: CodeNotFound}
)
