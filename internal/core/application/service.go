package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
)

const (
	lamportsPerSol = 1_000_000_000

	// NativeCurrency denominates payments directly in the settlement token.
	NativeCurrency = "SOL"
)

type CreatePaymentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
	TTL      time.Duration
}

type Service interface {
	Start() error
	Stop()

	RegisterMerchant(ctx context.Context, wallet, name, webhookURL string) (*domain.Merchant, error)

	CreatePayment(ctx context.Context, apiKey string, req CreatePaymentRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	VerifyPayment(ctx context.Context, id, signature string) (*domain.Payment, error)
	Reconcile(ctx context.Context) ([]Confirmation, error)

	CreateTask(ctx context.Context, requester, request string, budget uint64) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetBidsForTask(ctx context.Context, taskId string) ([]domain.Bid, error)
	PlaceBid(ctx context.Context, taskId, agentId string, total uint64) (*domain.Bid, error)
	AcceptBid(ctx context.Context, taskId, bidId, lockSignature string) (*domain.Task, error)
	SubmitResult(ctx context.Context, taskId, agentId, outputs string) (*domain.Task, error)
	ApproveTask(ctx context.Context, taskId, signature string) (*domain.Task, error)
	DeclineTask(ctx context.Context, taskId, signature, reason string) (*domain.Task, error)

	BuildLockTransaction(ctx context.Context, taskId, bidId string, deadline int64) (*ports.BuiltTx, error)
	BuildApproveTransaction(ctx context.Context, taskId string) (*ports.BuiltTx, error)
	BuildDeclineTransaction(ctx context.Context, taskId string) (*ports.BuiltTx, error)
}

type service struct {
	reconcileInterval int64
	paymentTTL        time.Duration

	repoManager ports.RepoManager
	builder     ports.TxBuilder
	rates       ports.RateSource
	scheduler   ports.SchedulerService
	notifier    ports.Notifier

	reconciler *reconciler
}

func NewService(
	reconcileInterval int64, paymentTTL time.Duration,
	repoManager ports.RepoManager, builder ports.TxBuilder,
	chain ports.ChainClient, rates ports.RateSource,
	scheduler ports.SchedulerService, notifier ports.Notifier,
) (Service, error) {
	if reconcileInterval < 5 {
		return nil, fmt.Errorf("reconcile interval must be at least 5 seconds")
	}
	rec := newReconciler(repoManager, chain, notifier)
	return &service{
		reconcileInterval: reconcileInterval,
		paymentTTL:        paymentTTL,
		repoManager:       repoManager,
		builder:           builder,
		rates:             rates,
		scheduler:         scheduler,
		notifier:          notifier,
		reconciler:        rec,
	}, nil
}

func (s *service) Start() error {
	log.Debug("starting app service")
	if err := s.scheduler.ScheduleTaskEvery(int(s.reconcileInterval), func() {
		confirmations, err := s.reconciler.reconcile(context.Background())
		if err != nil {
			log.WithError(err).Error("reconciliation pass failed")
			return
		}
		if len(confirmations) > 0 {
			log.WithField("count", len(confirmations)).Info("confirmed payments")
		}
	}); err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

func (s *service) Stop() {
	s.scheduler.Stop()
	log.Debug("stopped scheduler")
	s.notifier.Stop()
	log.Debug("stopped webhook notifier")
	s.repoManager.Close()
	log.Debug("closed connection to db")
}

func (s *service) RegisterMerchant(
	ctx context.Context, wallet, name, webhookURL string,
) (*domain.Merchant, error) {
	merchant, err := domain.NewMerchant(wallet, name, webhookURL, time.Now())
	if err != nil {
		return nil, ValidationError{err.Error()}
	}
	if err := s.repoManager.Merchants().AddMerchant(ctx, *merchant); err != nil {
		return nil, err
	}
	return merchant, nil
}

func (s *service) CreatePayment(
	ctx context.Context, apiKey string, req CreatePaymentRequest,
) (*domain.Payment, error) {
	merchant, err := s.authMerchant(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ValidationError{"amount must be positive"}
	}
	currency := strings.ToUpper(req.Currency)
	if len(currency) <= 0 {
		return nil, ValidationError{"missing currency"}
	}

	lamports, fiatAmount, err := s.toLamports(ctx, req.Amount, currency)
	if err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.paymentTTL
	}

	payment, err := domain.NewPayment(
		merchant.Id, merchant.Wallet, lamports,
		fiatAmount, currency, req.Metadata, ttl, time.Now(),
	)
	if err != nil {
		return nil, ValidationError{err.Error()}
	}
	payment.PaymentURI = paymentURI(payment)

	if err := s.repoManager.Payments().AddPayment(ctx, *payment); err != nil {
		return nil, err
	}
	log.WithField("payment", payment.Id).Debug("created payment request")
	return payment, nil
}

func (s *service) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.repoManager.Payments().GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, NotFoundError{"payment", id}
		}
		return nil, err
	}
	return payment, nil
}

// VerifyPayment re-checks a single pending payment ahead of the next loop
// pass. A caller-supplied signature short-circuits the signature scan.
func (s *service) VerifyPayment(
	ctx context.Context, id, signature string,
) (*domain.Payment, error) {
	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentPending {
		return payment, nil
	}

	if len(signature) > 0 {
		if err := s.reconciler.verifyWithSignature(ctx, *payment, signature); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.reconciler.reconcilePayment(ctx, *payment); err != nil {
			return nil, err
		}
	}
	return s.GetPayment(ctx, id)
}

func (s *service) Reconcile(ctx context.Context) ([]Confirmation, error) {
	return s.reconciler.reconcile(ctx)
}

func (s *service) CreateTask(
	ctx context.Context, requester, request string, budget uint64,
) (*domain.Task, error) {
	task, err := domain.NewTask(requester, request, budget)
	if err != nil {
		return nil, ValidationError{err.Error()}
	}
	if err := s.repoManager.Tasks().AddTask(ctx, *task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *service) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.repoManager.Tasks().GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, NotFoundError{"task", id}
		}
		return nil, err
	}
	return task, nil
}

func (s *service) GetBidsForTask(ctx context.Context, taskId string) ([]domain.Bid, error) {
	if _, err := s.GetTask(ctx, taskId); err != nil {
		return nil, err
	}
	return s.repoManager.Tasks().GetBidsForTask(ctx, taskId)
}

func (s *service) PlaceBid(
	ctx context.Context, taskId, agentId string, total uint64,
) (*domain.Bid, error) {
	task, err := s.GetTask(ctx, taskId)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskOpen {
		return nil, domain.StateConflictError{Op: "place bid", Status: task.Status.String()}
	}
	bid, err := domain.NewBid(taskId, agentId, total, time.Now().Unix())
	if err != nil {
		return nil, ValidationError{err.Error()}
	}
	if err := s.repoManager.Tasks().AddBid(ctx, *bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// AcceptBid advances the task to working on evidence of a confirmed lock
// transaction. Competing bids are left pending.
func (s *service) AcceptBid(
	ctx context.Context, taskId, bidId, lockSignature string,
) (*domain.Task, error) {
	bid, err := s.repoManager.Tasks().GetBid(ctx, bidId)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, NotFoundError{"bid", bidId}
		}
		return nil, err
	}
	if bid.TaskId != taskId {
		return nil, ValidationError{fmt.Sprintf("bid %s does not belong to task %s", bidId, taskId)}
	}

	now := time.Now()
	if err := s.updateTask(ctx, taskId, func(task *domain.Task) error {
		return task.Assign(bidId, lockSignature, now)
	}); err != nil {
		return nil, err
	}

	if err := s.repoManager.Tasks().UpdateBid(ctx, bidId, func(b *domain.Bid) (*domain.Bid, error) {
		if err := b.Accept(); err != nil {
			return nil, err
		}
		return b, nil
	}); err != nil {
		return nil, err
	}

	return s.GetTask(ctx, taskId)
}

func (s *service) SubmitResult(
	ctx context.Context, taskId, agentId, outputs string,
) (*domain.Task, error) {
	if len(outputs) <= 0 {
		return nil, ValidationError{"missing outputs"}
	}
	task, err := s.GetTask(ctx, taskId)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskWorking && task.Status != domain.TaskReview {
		return nil, domain.StateConflictError{Op: "submit result", Status: task.Status.String()}
	}

	bid, err := s.repoManager.Tasks().GetBid(ctx, task.AcceptedBidId)
	if err != nil {
		return nil, err
	}
	if bid.AgentId != agentId {
		return nil, AuthError{fmt.Sprintf("agent %s is not assigned to task %s", agentId, taskId)}
	}

	deliverable := domain.Deliverable{
		TaskId:      taskId,
		AgentId:     agentId,
		Outputs:     outputs,
		Revision:    1,
		SubmittedAt: time.Now().Unix(),
	}
	existing, err := s.repoManager.Tasks().GetDeliverable(ctx, taskId)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Outputs == outputs {
			// retried evidence, nothing to apply
			return task, nil
		}
		deliverable.Revision = existing.Revision + 1
	}
	if err := s.repoManager.Tasks().UpsertDeliverable(ctx, deliverable); err != nil {
		return nil, err
	}

	if err := s.updateTask(ctx, taskId, func(t *domain.Task) error {
		return t.StartReview()
	}); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskId)
}

func (s *service) ApproveTask(
	ctx context.Context, taskId, signature string,
) (*domain.Task, error) {
	if err := s.requireDeliverable(ctx, taskId); err != nil {
		return nil, err
	}
	if err := s.updateTask(ctx, taskId, func(t *domain.Task) error {
		return t.Approve(signature)
	}); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskId)
}

func (s *service) DeclineTask(
	ctx context.Context, taskId, signature, reason string,
) (*domain.Task, error) {
	if err := s.requireDeliverable(ctx, taskId); err != nil {
		return nil, err
	}
	if err := s.updateTask(ctx, taskId, func(t *domain.Task) error {
		return t.Decline(signature, reason)
	}); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskId)
}

func (s *service) BuildLockTransaction(
	ctx context.Context, taskId, bidId string, deadline int64,
) (*ports.BuiltTx, error) {
	task, err := s.GetTask(ctx, taskId)
	if err != nil {
		return nil, err
	}
	bid, err := s.repoManager.Tasks().GetBid(ctx, bidId)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, NotFoundError{"bid", bidId}
		}
		return nil, err
	}
	if bid.TaskId != taskId {
		return nil, ValidationError{fmt.Sprintf("bid %s does not belong to task %s", bidId, taskId)}
	}
	tx, err := s.builder.BuildLockTx(ctx, task.Requester, bid.AgentId, taskId, bid.Total, deadline)
	if err != nil {
		return nil, UpstreamError{"chain rpc", err}
	}
	return tx, nil
}

func (s *service) BuildApproveTransaction(
	ctx context.Context, taskId string,
) (*ports.BuiltTx, error) {
	task, bid, err := s.taskWithAcceptedBid(ctx, taskId)
	if err != nil {
		return nil, err
	}
	tx, err := s.builder.BuildApproveTx(ctx, task.Requester, bid.AgentId, taskId)
	if err != nil {
		return nil, UpstreamError{"chain rpc", err}
	}
	return tx, nil
}

func (s *service) BuildDeclineTransaction(
	ctx context.Context, taskId string,
) (*ports.BuiltTx, error) {
	task, bid, err := s.taskWithAcceptedBid(ctx, taskId)
	if err != nil {
		return nil, err
	}
	tx, err := s.builder.BuildDeclineTx(ctx, task.Requester, bid.AgentId, taskId)
	if err != nil {
		return nil, UpstreamError{"chain rpc", err}
	}
	return tx, nil
}

func (s *service) authMerchant(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	if len(apiKey) <= 0 {
		return nil, AuthError{"missing api key"}
	}
	merchant, err := s.repoManager.Merchants().GetMerchantByApiKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, AuthError{"invalid api key"}
		}
		return nil, err
	}
	return merchant, nil
}

func (s *service) toLamports(
	ctx context.Context, amount decimal.Decimal, currency string,
) (uint64, decimal.Decimal, error) {
	if currency == NativeCurrency {
		lamports := amount.Mul(decimal.NewFromInt(lamportsPerSol))
		return uint64(lamports.IntPart()), amount, nil
	}
	rate, err := s.rates.Rate(ctx, currency)
	if err != nil {
		return 0, decimal.Zero, UpstreamError{"price feed", err}
	}
	if !rate.IsPositive() {
		return 0, decimal.Zero, UpstreamError{"price feed", fmt.Errorf("no price for %s", currency)}
	}
	lamports := amount.Div(rate).Mul(decimal.NewFromInt(lamportsPerSol)).Round(0)
	return uint64(lamports.IntPart()), amount, nil
}

func (s *service) updateTask(
	ctx context.Context, taskId string, apply func(*domain.Task) error,
) error {
	err := s.repoManager.Tasks().UpdateTask(ctx, taskId, func(t *domain.Task) (*domain.Task, error) {
		if err := apply(t); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return NotFoundError{"task", taskId}
		}
		return err
	}
	return nil
}

func (s *service) requireDeliverable(ctx context.Context, taskId string) error {
	if _, err := s.repoManager.Tasks().GetDeliverable(ctx, taskId); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.StateConflictError{Op: "settle", Status: "no deliverable submitted"}
		}
		return err
	}
	return nil
}

func (s *service) taskWithAcceptedBid(
	ctx context.Context, taskId string,
) (*domain.Task, *domain.Bid, error) {
	task, err := s.GetTask(ctx, taskId)
	if err != nil {
		return nil, nil, err
	}
	if len(task.AcceptedBidId) <= 0 {
		return nil, nil, domain.StateConflictError{Op: "build settlement tx", Status: task.Status.String()}
	}
	bid, err := s.repoManager.Tasks().GetBid(ctx, task.AcceptedBidId)
	if err != nil {
		return nil, nil, err
	}
	return task, bid, nil
}

func paymentURI(payment *domain.Payment) string {
	sol := decimal.NewFromInt(int64(payment.Lamports)).
		Div(decimal.NewFromInt(lamportsPerSol))
	params := url.Values{}
	params.Set("amount", sol.String())
	params.Set("memo", payment.Memo)
	return fmt.Sprintf("solana:%s?%s", payment.Recipient, params.Encode())
}
