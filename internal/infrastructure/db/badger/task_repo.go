package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const taskStoreDir = "tasks"

type taskRepository struct {
	store *badgerhold.Store

	// serializes read-modify-write cycles of UpdateTask and UpdateBid
	updateMtx *sync.Mutex
}

func NewTaskRepository(config ...interface{}) (domain.TaskRepository, error) {
	baseDir, logger, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, taskStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %s", err)
	}

	return &taskRepository{store, &sync.Mutex{}}, nil
}

func (r *taskRepository) AddTask(ctx context.Context, task domain.Task) error {
	if err := r.store.Insert(task.Id, task); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("task %s already exists", task.Id)
		}
		return err
	}
	return nil
}

func (r *taskRepository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := r.store.Get(id, &task); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) UpdateTask(
	ctx context.Context, id string,
	updateFn func(*domain.Task) (*domain.Task, error),
) error {
	r.updateMtx.Lock()
	defer r.updateMtx.Unlock()

	task, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	updated, err := updateFn(task)
	if err != nil {
		return err
	}
	return r.store.Update(id, *updated)
}

func (r *taskRepository) AddBid(ctx context.Context, bid domain.Bid) error {
	if err := r.store.Insert(bid.Id, bid); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("bid %s already exists", bid.Id)
		}
		return err
	}
	return nil
}

func (r *taskRepository) GetBid(ctx context.Context, id string) (*domain.Bid, error) {
	var bid domain.Bid
	if err := r.store.Get(id, &bid); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &bid, nil
}

func (r *taskRepository) GetBidsForTask(
	ctx context.Context, taskId string,
) ([]domain.Bid, error) {
	var bids []domain.Bid
	if err := r.store.Find(&bids, badgerhold.Where("TaskId").Eq(taskId)); err != nil {
		return nil, err
	}
	return bids, nil
}

func (r *taskRepository) UpdateBid(
	ctx context.Context, id string,
	updateFn func(*domain.Bid) (*domain.Bid, error),
) error {
	r.updateMtx.Lock()
	defer r.updateMtx.Unlock()

	bid, err := r.GetBid(ctx, id)
	if err != nil {
		return err
	}
	updated, err := updateFn(bid)
	if err != nil {
		return err
	}
	return r.store.Update(id, *updated)
}

func (r *taskRepository) UpsertDeliverable(
	ctx context.Context, deliverable domain.Deliverable,
) error {
	return r.store.Upsert(deliverable.TaskId, deliverable)
}

func (r *taskRepository) GetDeliverable(
	ctx context.Context, taskId string,
) (*domain.Deliverable, error) {
	var deliverable domain.Deliverable
	if err := r.store.Get(taskId, &deliverable); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &deliverable, nil
}

func (r *taskRepository) Close() {
	r.store.Close()
}

func parseConfig(config []interface{}) (string, badger.Logger, error) {
	if len(config) != 2 {
		return "", nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return "", nil, fmt.Errorf("invalid logger")
		}
	}
	return baseDir, logger, nil
}
