package job

import (
	"encoding/json"
	"time"
)

// Job mirrors the jobs table. Worker is empty until assignment; Payment is
// zero until the single successful deposit.
type Job struct {
	ID          int64     `json:"id"`
	Employer    string    `json:"employer"`
	Worker      string    `json:"worker,omitempty"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Payment     int64     `json:"payment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MarshalJSON emits the status both by name and as its numeric code.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	return json.Marshal(struct {
		plain
		StatusCode int16 `json:"status_code"`
	}{plain: plain(j), StatusCode: int16(j.Status)})
}

// IsParty reports whether account is the employer or the assigned worker.
func (j Job) IsParty(account string) bool {
	return account != "" && (account == j.Employer || account == j.Worker)
}

// Event topics.
const (
	TopicCreated              = "job.created"
	TopicFunded               = "job.funded"
	TopicAssigned             = "job.assigned"
	TopicCompleted            = "job.completed"
	TopicClosed               = "job.closed"
	TopicCancelled            = "job.cancelled"
	TopicDisputed             = "job.disputed"
	TopicResolved             = "job.resolved"
	TopicGovernanceChanged    = "job.governance_changed"
	TopicOwnershipTransferred = "job.ownership_transferred"
)
