package domain

import "errors"

// Sentinel errors surfaced by the referral tree, commission engine, and
// analytics aggregator. Callers classify with errors.Is; layers above add
// context with fmt.Errorf("...: %w", err).
var (
	// ErrMemberNotFound indicates the referenced member id is unknown.
	ErrMemberNotFound = errors.New("member not found")

	// ErrUnknownReferralCode indicates a sponsor code that resolves to no member.
	ErrUnknownReferralCode = errors.New("unknown referral code")

	// ErrFanOutExceeded indicates the sponsor already has the maximum number
	// of direct recruits.
	ErrFanOutExceeded = errors.New("sponsor has reached the direct recruit limit")

	// ErrInvalidReferral indicates a self-referral attempt.
	ErrInvalidReferral = errors.New("invalid referral")

	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidAmount indicates a purchase amount that is not positive.
	ErrInvalidAmount = errors.New("purchase amount must be positive")

	// ErrInvalidDateRange indicates an analytics window whose end precedes
	// its start.
	ErrInvalidDateRange = errors.New("end date precedes start date")

	// ErrConflict indicates a concurrent mutation race that survived the
	// internal retry budget; the whole operation may be retried by the caller.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrCodeSpaceExhausted indicates referral code generation kept colliding
	// past its attempt budget; treated as a fatal configuration error.
	ErrCodeSpaceExhausted = errors.New("referral code space exhausted")
)
