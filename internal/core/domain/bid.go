package domain

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	BidPending BidStatus = iota
	BidAccepted
	BidRejected
)

type BidStatus int

func (s BidStatus) String() string {
	switch s {
	case BidPending:
		return "pending"
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type Bid struct {
	Id        string
	TaskId    string
	AgentId   string
	Total     uint64
	Status    BidStatus
	CreatedAt int64
}

func NewBid(taskId, agentId string, total uint64, now int64) (*Bid, error) {
	if len(taskId) <= 0 {
		return nil, fmt.Errorf("missing task id")
	}
	if len(agentId) <= 0 {
		return nil, fmt.Errorf("missing agent id")
	}
	if total <= 0 {
		return nil, fmt.Errorf("bid total must be positive")
	}
	return &Bid{
		Id:        uuid.New().String(),
		TaskId:    taskId,
		AgentId:   agentId,
		Total:     total,
		Status:    BidPending,
		CreatedAt: now,
	}, nil
}

func (b *Bid) Accept() error {
	if b.Status == BidAccepted {
		return nil
	}
	if b.Status != BidPending {
		return StateConflictError{"accept bid", b.Status.String()}
	}
	b.Status = BidAccepted
	return nil
}

// Deliverable is the single work submission attached to a task. Resubmitting
// bumps the revision instead of creating a second record.
type Deliverable struct {
	TaskId      string
	AgentId     string
	Outputs     string
	Revision    int
	SubmittedAt int64
}
