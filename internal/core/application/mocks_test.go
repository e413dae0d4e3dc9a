package application_test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
)

type mockedChainClient struct {
	mock.Mock
}

func (m *mockedChainClient) GetSignaturesForAddress(
	ctx context.Context, address string, limit int,
) ([]ports.TxSummary, error) {
	args := m.Called(ctx, address, limit)

	var res []ports.TxSummary
	if a := args.Get(0); a != nil {
		res = a.([]ports.TxSummary)
	}
	return res, args.Error(1)
}

func (m *mockedChainClient) GetTransaction(
	ctx context.Context, signature string,
) (*ports.TxDetail, error) {
	args := m.Called(ctx, signature)

	var res *ports.TxDetail
	if a := args.Get(0); a != nil {
		res = a.(*ports.TxDetail)
	}
	return res, args.Error(1)
}

func (m *mockedChainClient) AccountExists(ctx context.Context, address string) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *mockedChainClient) LatestBlockhash(ctx context.Context) (string, error) {
	args := m.Called(ctx)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

type mockedTxBuilder struct {
	mock.Mock
}

func (m *mockedTxBuilder) BuildLockTx(
	ctx context.Context, payer, payee, taskId string, amount uint64, deadline int64,
) (*ports.BuiltTx, error) {
	args := m.Called(ctx, payer, payee, taskId, amount, deadline)

	var res *ports.BuiltTx
	if a := args.Get(0); a != nil {
		res = a.(*ports.BuiltTx)
	}
	return res, args.Error(1)
}

func (m *mockedTxBuilder) BuildApproveTx(
	ctx context.Context, payer, payee, taskId string,
) (*ports.BuiltTx, error) {
	args := m.Called(ctx, payer, payee, taskId)

	var res *ports.BuiltTx
	if a := args.Get(0); a != nil {
		res = a.(*ports.BuiltTx)
	}
	return res, args.Error(1)
}

func (m *mockedTxBuilder) BuildDeclineTx(
	ctx context.Context, payer, payee, taskId string,
) (*ports.BuiltTx, error) {
	args := m.Called(ctx, payer, payee, taskId)

	var res *ports.BuiltTx
	if a := args.Get(0); a != nil {
		res = a.(*ports.BuiltTx)
	}
	return res, args.Error(1)
}

func (m *mockedTxBuilder) EscrowAddress(taskId string) (string, error) {
	args := m.Called(taskId)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

type mockedRateSource struct {
	mock.Mock
}

func (m *mockedRateSource) Rate(ctx context.Context, fiatCurrency string) (decimal.Decimal, error) {
	args := m.Called(ctx, fiatCurrency)

	var res decimal.Decimal
	if a := args.Get(0); a != nil {
		res = a.(decimal.Decimal)
	}
	return res, args.Error(1)
}

type mockedNotifier struct {
	lock     sync.Mutex
	notified []string
}

func (m *mockedNotifier) NotifyPaymentConfirmed(
	_ context.Context, _ domain.Merchant, payment domain.Payment,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.notified = append(m.notified, payment.Id)
	return nil
}

func (m *mockedNotifier) Stop() {}

func (m *mockedNotifier) count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.notified)
}

type fakeScheduler struct{}

func (s *fakeScheduler) Start()                                      {}
func (s *fakeScheduler) Stop()                                       {}
func (s *fakeScheduler) ScheduleTaskEvery(int, func()) error         { return nil }
func (s *fakeScheduler) ScheduleTaskOnce(int64, func()) error        { return nil }

// inmemoryRepoManager backs the application tests with the same conditional
// update semantics the real stores implement.
type inmemoryRepoManager struct {
	lock         sync.Mutex
	tasks        map[string]domain.Task
	bids         map[string]domain.Bid
	deliverables map[string]domain.Deliverable
	payments     map[string]domain.Payment
	merchants    map[string]domain.Merchant
	deliveries   map[string]domain.WebhookDelivery
}

func newInmemoryRepoManager() *inmemoryRepoManager {
	return &inmemoryRepoManager{
		tasks:        make(map[string]domain.Task),
		bids:         make(map[string]domain.Bid),
		deliverables: make(map[string]domain.Deliverable),
		payments:     make(map[string]domain.Payment),
		merchants:    make(map[string]domain.Merchant),
		deliveries:   make(map[string]domain.WebhookDelivery),
	}
}

func (m *inmemoryRepoManager) Tasks() domain.TaskRepository                    { return m }
func (m *inmemoryRepoManager) Payments() domain.PaymentRepository              { return m }
func (m *inmemoryRepoManager) Merchants() domain.MerchantRepository            { return m }
func (m *inmemoryRepoManager) WebhookDeliveries() domain.WebhookDeliveryRepository { return m }
func (m *inmemoryRepoManager) Close()                                          {}

func (m *inmemoryRepoManager) AddTask(_ context.Context, task domain.Task) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.tasks[task.Id] = task
	return nil
}

func (m *inmemoryRepoManager) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &task, nil
}

func (m *inmemoryRepoManager) UpdateTask(
	_ context.Context, id string, updateFn func(*domain.Task) (*domain.Task, error),
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	updated, err := updateFn(&task)
	if err != nil {
		return err
	}
	m.tasks[id] = *updated
	return nil
}

func (m *inmemoryRepoManager) AddBid(_ context.Context, bid domain.Bid) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.bids[bid.Id] = bid
	return nil
}

func (m *inmemoryRepoManager) GetBid(_ context.Context, id string) (*domain.Bid, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	bid, ok := m.bids[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &bid, nil
}

func (m *inmemoryRepoManager) GetBidsForTask(
	_ context.Context, taskId string,
) ([]domain.Bid, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	bids := make([]domain.Bid, 0)
	for _, bid := range m.bids {
		if bid.TaskId == taskId {
			bids = append(bids, bid)
		}
	}
	return bids, nil
}

func (m *inmemoryRepoManager) UpdateBid(
	_ context.Context, id string, updateFn func(*domain.Bid) (*domain.Bid, error),
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	bid, ok := m.bids[id]
	if !ok {
		return domain.ErrNotFound
	}
	updated, err := updateFn(&bid)
	if err != nil {
		return err
	}
	m.bids[id] = *updated
	return nil
}

func (m *inmemoryRepoManager) UpsertDeliverable(
	_ context.Context, deliverable domain.Deliverable,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.deliverables[deliverable.TaskId] = deliverable
	return nil
}

func (m *inmemoryRepoManager) GetDeliverable(
	_ context.Context, taskId string,
) (*domain.Deliverable, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	deliverable, ok := m.deliverables[taskId]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &deliverable, nil
}

func (m *inmemoryRepoManager) AddPayment(_ context.Context, payment domain.Payment) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.payments[payment.Id] = payment
	return nil
}

func (m *inmemoryRepoManager) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &payment, nil
}

func (m *inmemoryRepoManager) GetPendingPayments(
	_ context.Context, at time.Time, limit int,
) ([]domain.Payment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	payments := make([]domain.Payment, 0)
	for _, payment := range m.payments {
		if payment.Status == domain.PaymentPending && !payment.IsExpired(at) {
			payments = append(payments, payment)
		}
		if len(payments) >= limit {
			break
		}
	}
	return payments, nil
}

func (m *inmemoryRepoManager) ConfirmPayment(
	_ context.Context, id, signature string, at time.Time,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if payment.Status != domain.PaymentPending {
		return domain.ErrConflict
	}
	if err := payment.Confirm(signature, at); err != nil {
		return err
	}
	m.payments[id] = payment
	return nil
}

func (m *inmemoryRepoManager) ExpirePayments(
	_ context.Context, at time.Time,
) ([]domain.Payment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	expired := make([]domain.Payment, 0)
	for id, payment := range m.payments {
		if payment.Status != domain.PaymentPending || !payment.IsExpired(at) {
			continue
		}
		if err := payment.Expire(at); err != nil {
			return nil, err
		}
		m.payments[id] = payment
		expired = append(expired, payment)
	}
	return expired, nil
}

func (m *inmemoryRepoManager) AddMerchant(_ context.Context, merchant domain.Merchant) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.merchants[merchant.Id] = merchant
	return nil
}

func (m *inmemoryRepoManager) GetMerchant(_ context.Context, id string) (*domain.Merchant, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	merchant, ok := m.merchants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &merchant, nil
}

func (m *inmemoryRepoManager) GetMerchantByApiKey(
	_ context.Context, apiKey string,
) (*domain.Merchant, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, merchant := range m.merchants {
		if merchant.ApiKey == apiKey {
			return &merchant, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *inmemoryRepoManager) AddDelivery(_ context.Context, delivery domain.WebhookDelivery) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.deliveries[delivery.Id] = delivery
	return nil
}

func (m *inmemoryRepoManager) GetDelivery(
	_ context.Context, id string,
) (*domain.WebhookDelivery, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &delivery, nil
}

func (m *inmemoryRepoManager) GetDeliveriesForPayment(
	_ context.Context, paymentId string,
) ([]domain.WebhookDelivery, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	deliveries := make([]domain.WebhookDelivery, 0)
	for _, delivery := range m.deliveries {
		if delivery.PaymentId == paymentId {
			deliveries = append(deliveries, delivery)
		}
	}
	return deliveries, nil
}

func (m *inmemoryRepoManager) UpdateDelivery(
	_ context.Context, id string,
	updateFn func(*domain.WebhookDelivery) (*domain.WebhookDelivery, error),
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	updated, err := updateFn(&delivery)
	if err != nil {
		return err
	}
	m.deliveries[id] = *updated
	return nil
}
