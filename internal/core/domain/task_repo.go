package domain

import "context"

// TaskRepository persists tasks, their bids and deliverables. UpdateTask and
// UpdateBid apply the closure under a conditional update guarded by the
// record's current status, so concurrent transitions on the same record
// resolve to one winner and ErrConflict for the others.
type TaskRepository interface {
	AddTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, id string, updateFn func(*Task) (*Task, error)) error
	AddBid(ctx context.Context, bid Bid) error
	GetBid(ctx context.Context, id string) (*Bid, error)
	GetBidsForTask(ctx context.Context, taskId string) ([]Bid, error)
	UpdateBid(ctx context.Context, id string, updateFn func(*Bid) (*Bid, error)) error
	UpsertDeliverable(ctx context.Context, deliverable Deliverable) error
	GetDeliverable(ctx context.Context, taskId string) (*Deliverable, error)
	Close()
}
