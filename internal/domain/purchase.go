package domain

import "time"

// EligibleAmount is the purchase threshold at or above which referral
// commissions are generated.
const EligibleAmount = 1000.0

// PurchaseStatusCompleted is the only status the engine assigns; purchases
// are immutable facts once recorded.
const PurchaseStatusCompleted = "COMPLETED"

// Purchase models a single purchase event made by a member.
type Purchase struct {
	ID        string
	MemberID  string
	Amount    float64
	Status    string
	Timestamp time.Time
}

// Eligible reports whether the purchase qualifies for referral commissions.
func (p Purchase) Eligible() bool {
	return p.Amount >= EligibleAmount
}
