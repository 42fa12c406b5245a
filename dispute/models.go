package dispute

import "time"

// Status represents the lifecycle of a dispute proposal.
type Status string

const (
	StatusActive   Status = "active"
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
)

// Proposal mirrors the proposals table. The voting window is [VotingStart, VotingEnd).
type Proposal struct {
	ID          int64      `json:"id"`
	JobID       int64      `json:"job_id"`
	Proposer    string     `json:"proposer"`
	Description string     `json:"description"`
	FavorWorker bool       `json:"favor_worker"`
	VotingStart time.Time  `json:"voting_start"`
	VotingEnd   time.Time  `json:"voting_end"`
	Upvotes     int64      `json:"upvotes"`
	Downvotes   int64      `json:"downvotes"`
	Executed    bool       `json:"executed"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

// TotalVotes is the weight cast so far. Vote keeps it within int64.
func (p Proposal) TotalVotes() int64 {
	return p.Upvotes + p.Downvotes
}

// Open reports whether a vote at t falls inside the voting window.
func (p Proposal) Open(t time.Time) bool {
	return p.Status == StatusActive && !t.Before(p.VotingStart) && t.Before(p.VotingEnd)
}

// Vote mirrors proposal_votes. Weight is the voter's balance at cast time.
type Vote struct {
	ProposalID int64     `json:"proposal_id"`
	Voter      string    `json:"voter"`
	Support    bool      `json:"support"`
	Weight     int64     `json:"weight"`
	CastAt     time.Time `json:"cast_at"`
}

// Event topics.
const (
	TopicMemberJoined     = "dao.member_joined"
	TopicProposalCreated  = "dao.proposal_created"
	TopicVoteCast         = "dao.vote_cast"
	TopicProposalExecuted = "dao.proposal_executed"
	TopicProposalRejected = "dao.proposal_rejected"
)
