// ABOUTME: Derived per-participant state for entry pass resolution
// ABOUTME: Pure function of record existence; nothing stores this enum

package pass

import "github.com/matsuri-dev/entrypass/internal/store"

// Status is the derived lifecycle state of one row hash. It is never stored:
// it falls out of which records exist at read time.
type Status string

const (
	// StatusNotPaid: no participant record; the row is not in the paid set.
	StatusNotPaid Status = "not_paid"
	// StatusPaidPending: participant record exists, no check-in yet.
	StatusPaidPending Status = "paid_pending"
	// StatusCheckedIn: a check-in record exists.
	StatusCheckedIn Status = "checked_in"
)

// DeriveStatus folds a participant lookup and a check-in lookup into the
// state machine position for that row hash.
func DeriveStatus(participant *store.Participant, checkin *store.CheckIn) Status {
	if participant == nil {
		return StatusNotPaid
	}
	if checkin == nil || checkin.CheckedInAt.IsZero() {
		return StatusPaidPending
	}
	return StatusCheckedIn
}
