package escrow

import "time"

// Unit is the number of base units in one whole unit of value.
const Unit int64 = 1_000_000

// Entry mirrors an escrow_entries row. At most one entry ever exists per job.
// DepositedTotal and DisbursedTotal are lifetime counters whose difference
// always equals Amount.
type Entry struct {
	JobID          int64     `json:"job_id"`
	Client         string    `json:"client"`
	Amount         int64     `json:"amount"`
	Released       bool      `json:"released"`
	Refunded       bool      `json:"refunded"`
	DepositedTotal int64     `json:"deposited_total"`
	DisbursedTotal int64     `json:"disbursed_total"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Disbursed reports whether the entry was released or refunded.
func (e Entry) Disbursed() bool {
	return e.Released || e.Refunded
}

// Event topics.
const (
	TopicDeposited            = "escrow.deposited"
	TopicReleased             = "escrow.released"
	TopicRefunded             = "escrow.refunded"
	TopicCoordinatorChanged   = "escrow.coordinator_changed"
	TopicOwnershipTransferred = "escrow.ownership_transferred"
)
