package models

import "time"

// Reasons recorded on system-generated ledger entries.
const (
	CreditReasonRefund  = "refund for cancelled session"
	CreditReasonOpening = "initial credit purchase"
)

// DeductionReason renders the reason for a credit consumed by a status change.
func DeductionReason(status SessionStatus) string {
	return "Session marked as " + status.Label()
}

// CreditTransaction is one append-only ledger entry. Hash chains it to the previous entry.
type CreditTransaction struct {
	ID           string    `db:"id" json:"id"`
	Seq          int64     `db:"seq" json:"-"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Change       int       `db:"change" json:"change"`
	Reason       string    `db:"reason" json:"reason"`
	ActorID      string    `db:"actor_id" json:"actor_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	PrevHash     string    `db:"prev_hash" json:"prev_hash"`
	Hash         string    `db:"hash" json:"hash"`
}

// CreditTransactionFilter paginates ledger listings.
type CreditTransactionFilter struct {
	EnrollmentID string
	Page         int
	PageSize     int
}

// LedgerVerification reports whether a ledger is intact.
type LedgerVerification struct {
	EnrollmentID     string    `json:"enrollment_id"`
	Entries          int       `json:"entries"`
	LedgerSum        int       `json:"ledger_sum"`
	CreditsRemaining int       `json:"credits_remaining"`
	Valid            bool      `json:"valid"`
	Problems         []string  `json:"problems,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}
