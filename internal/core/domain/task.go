package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TaskOpen TaskStatus = iota
	TaskWorking
	TaskReview
	TaskDone
	TaskCancelled
	TaskDisputed
)

// ReviewWindow is the time the requester has to review submitted work.
const ReviewWindow = 48 * time.Hour

type TaskStatus int

func (s TaskStatus) String() string {
	switch s {
	case TaskOpen:
		return "open"
	case TaskWorking:
		return "working"
	case TaskReview:
		return "review"
	case TaskDone:
		return "done"
	case TaskCancelled:
		return "cancelled"
	case TaskDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	for _, status := range []TaskStatus{
		TaskOpen, TaskWorking, TaskReview, TaskDone, TaskCancelled, TaskDisputed,
	} {
		if status.String() == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid task status: %s", s)
}

type Task struct {
	Id               string
	Requester        string
	Request          string
	Budget           uint64
	Status           TaskStatus
	AcceptedBidId    string
	LockSignature    string
	ApproveSignature string
	DeclineSignature string
	DeclineReason    string
	ReviewDeadline   int64
	CreatedAt        int64
}

func NewTask(requester, request string, budget uint64) (*Task, error) {
	if len(requester) <= 0 {
		return nil, fmt.Errorf("missing requester address")
	}
	if len(request) <= 0 {
		return nil, fmt.Errorf("missing request")
	}
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive")
	}
	return &Task{
		Id:        uuid.New().String(),
		Requester: requester,
		Request:   request,
		Budget:    budget,
		Status:    TaskOpen,
		CreatedAt: time.Now().Unix(),
	}, nil
}

// Assign moves the task from open to working, recording the accepted bid and
// the signature of the confirmed lock transaction. Replaying the call with
// the same evidence is a no-op.
func (t *Task) Assign(bidId, lockSignature string, now time.Time) error {
	if t.Status == TaskWorking && t.AcceptedBidId == bidId && t.LockSignature == lockSignature {
		return nil
	}
	if t.Status != TaskOpen {
		return StateConflictError{"assign", t.Status.String()}
	}
	if len(bidId) <= 0 {
		return fmt.Errorf("missing bid id")
	}
	if len(lockSignature) <= 0 {
		return fmt.Errorf("missing lock signature")
	}
	t.Status = TaskWorking
	t.AcceptedBidId = bidId
	t.LockSignature = lockSignature
	t.ReviewDeadline = now.Add(ReviewWindow).Unix()
	return nil
}

// StartReview moves the task from working to review once the assigned agent
// has submitted a deliverable.
func (t *Task) StartReview() error {
	if t.Status == TaskReview {
		return nil
	}
	if t.Status != TaskWorking {
		return StateConflictError{"submit result", t.Status.String()}
	}
	t.Status = TaskReview
	return nil
}

// Approve moves the task from review to done, recording the signature of the
// confirmed escrow release transaction.
func (t *Task) Approve(signature string) error {
	if t.Status == TaskDone && t.ApproveSignature == signature {
		return nil
	}
	if t.Status != TaskReview {
		return StateConflictError{"approve", t.Status.String()}
	}
	if len(signature) <= 0 {
		return fmt.Errorf("missing approve signature")
	}
	t.Status = TaskDone
	t.ApproveSignature = signature
	return nil
}

// Decline moves the task from review to cancelled, recording the signature of
// the confirmed escrow refund transaction.
func (t *Task) Decline(signature, reason string) error {
	if t.Status == TaskCancelled && t.DeclineSignature == signature {
		return nil
	}
	if t.Status != TaskReview {
		return StateConflictError{"decline", t.Status.String()}
	}
	if len(signature) <= 0 {
		return fmt.Errorf("missing decline signature")
	}
	t.Status = TaskCancelled
	t.DeclineSignature = signature
	t.DeclineReason = reason
	return nil
}

func (t *Task) IsSettled() bool {
	return t.Status == TaskDone || t.Status == TaskCancelled
}
