package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const (
	insertTask = `
		INSERT INTO task (
			id, requester, request, budget, status, accepted_bid_id,
			lock_signature, approve_signature, decline_signature,
			decline_reason, review_deadline, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	selectTask = `
		SELECT id, requester, request, budget, status, accepted_bid_id,
			lock_signature, approve_signature, decline_signature,
			decline_reason, review_deadline, created_at
		FROM task WHERE id = ?
	`
	// the status guard makes concurrent transitions on the same task resolve
	// to a single winner
	updateTask = `
		UPDATE task SET status = ?, accepted_bid_id = ?, lock_signature = ?,
			approve_signature = ?, decline_signature = ?, decline_reason = ?,
			review_deadline = ?
		WHERE id = ? AND status = ?
	`

	insertBid = `
		INSERT INTO bid (id, task_id, agent_id, total, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	selectBid = `
		SELECT id, task_id, agent_id, total, status, created_at
		FROM bid WHERE id = ?
	`
	selectBidsForTask = `
		SELECT id, task_id, agent_id, total, status, created_at
		FROM bid WHERE task_id = ? ORDER BY created_at ASC
	`
	updateBid = `
		UPDATE bid SET status = ? WHERE id = ? AND status = ?
	`

	upsertDeliverable = `
		INSERT INTO deliverable (task_id, agent_id, outputs, revision, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			outputs = excluded.outputs,
			revision = excluded.revision,
			submitted_at = excluded.submitted_at
	`
	selectDeliverable = `
		SELECT task_id, agent_id, outputs, revision, submitted_at
		FROM deliverable WHERE task_id = ?
	`
)

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(config ...interface{}) (domain.TaskRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid db")
	}
	return &taskRepository{db}, nil
}

func (r *taskRepository) AddTask(ctx context.Context, task domain.Task) error {
	_, err := r.db.ExecContext(
		ctx, insertTask,
		task.Id, task.Requester, task.Request, task.Budget, int(task.Status),
		nullString(task.AcceptedBidId), nullString(task.LockSignature),
		nullString(task.ApproveSignature), nullString(task.DeclineSignature),
		nullString(task.DeclineReason), task.ReviewDeadline, task.CreatedAt,
	)
	return err
}

func (r *taskRepository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, selectTask, id)
	return scanTask(row)
}

func (r *taskRepository) UpdateTask(
	ctx context.Context, id string,
	updateFn func(*domain.Task) (*domain.Task, error),
) error {
	task, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	oldStatus := task.Status

	updated, err := updateFn(task)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(
		ctx, updateTask,
		int(updated.Status), nullString(updated.AcceptedBidId),
		nullString(updated.LockSignature), nullString(updated.ApproveSignature),
		nullString(updated.DeclineSignature), nullString(updated.DeclineReason),
		updated.ReviewDeadline,
		id, int(oldStatus),
	)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count <= 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *taskRepository) AddBid(ctx context.Context, bid domain.Bid) error {
	_, err := r.db.ExecContext(
		ctx, insertBid,
		bid.Id, bid.TaskId, bid.AgentId, bid.Total, int(bid.Status), bid.CreatedAt,
	)
	return err
}

func (r *taskRepository) GetBid(ctx context.Context, id string) (*domain.Bid, error) {
	row := r.db.QueryRowContext(ctx, selectBid, id)
	return scanBid(row)
}

func (r *taskRepository) GetBidsForTask(
	ctx context.Context, taskId string,
) ([]domain.Bid, error) {
	rows, err := r.db.QueryContext(ctx, selectBidsForTask, taskId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bids := make([]domain.Bid, 0)
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}
	return bids, rows.Err()
}

func (r *taskRepository) UpdateBid(
	ctx context.Context, id string,
	updateFn func(*domain.Bid) (*domain.Bid, error),
) error {
	bid, err := r.GetBid(ctx, id)
	if err != nil {
		return err
	}
	oldStatus := bid.Status

	updated, err := updateFn(bid)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, updateBid, int(updated.Status), id, int(oldStatus))
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count <= 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *taskRepository) UpsertDeliverable(
	ctx context.Context, deliverable domain.Deliverable,
) error {
	_, err := r.db.ExecContext(
		ctx, upsertDeliverable,
		deliverable.TaskId, deliverable.AgentId, deliverable.Outputs,
		deliverable.Revision, deliverable.SubmittedAt,
	)
	return err
}

func (r *taskRepository) GetDeliverable(
	ctx context.Context, taskId string,
) (*domain.Deliverable, error) {
	var deliverable domain.Deliverable
	err := r.db.QueryRowContext(ctx, selectDeliverable, taskId).Scan(
		&deliverable.TaskId, &deliverable.AgentId, &deliverable.Outputs,
		&deliverable.Revision, &deliverable.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &deliverable, nil
}

func (r *taskRepository) Close() {
	// the db handle is shared across repositories and closed by the manager
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var status int
	var acceptedBidId, lockSig, approveSig, declineSig, declineReason sql.NullString

	err := row.Scan(
		&task.Id, &task.Requester, &task.Request, &task.Budget, &status,
		&acceptedBidId, &lockSig, &approveSig, &declineSig, &declineReason,
		&task.ReviewDeadline, &task.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.AcceptedBidId = fromNullString(acceptedBidId)
	task.LockSignature = fromNullString(lockSig)
	task.ApproveSignature = fromNullString(approveSig)
	task.DeclineSignature = fromNullString(declineSig)
	task.DeclineReason = fromNullString(declineReason)
	return &task, nil
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var bid domain.Bid
	var status int

	err := row.Scan(
		&bid.Id, &bid.TaskId, &bid.AgentId, &bid.Total, &status, &bid.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	bid.Status = domain.BidStatus(status)
	return &bid, nil
}
