package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentPending PaymentStatus = iota
	PaymentConfirmed
	PaymentExpired
)

// DefaultPaymentTTL bounds how long a payment request waits for a matching
// on-chain transaction.
const DefaultPaymentTTL = time.Hour

type PaymentStatus int

func (s PaymentStatus) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentConfirmed:
		return "confirmed"
	case PaymentExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type Payment struct {
	Id            string
	MerchantId    string
	FiatAmount    decimal.Decimal
	FiatCurrency  string
	Lamports      uint64
	Recipient     string
	PaymentURI    string
	Memo          string
	Signature     string
	Status        PaymentStatus
	Metadata      map[string]string
	CreatedAt     int64
	ExpiresAt     int64
	ConfirmedAt   int64
}

func NewPayment(
	merchantId, recipient string, lamports uint64,
	fiatAmount decimal.Decimal, fiatCurrency string,
	metadata map[string]string, ttl time.Duration, now time.Time,
) (*Payment, error) {
	if len(merchantId) <= 0 {
		return nil, fmt.Errorf("missing merchant id")
	}
	if len(recipient) <= 0 {
		return nil, fmt.Errorf("missing recipient address")
	}
	if lamports <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if ttl <= 0 {
		ttl = DefaultPaymentTTL
	}
	id := uuid.New().String()
	return &Payment{
		Id:           id,
		MerchantId:   merchantId,
		FiatAmount:   fiatAmount,
		FiatCurrency: fiatCurrency,
		Lamports:     lamports,
		Recipient:    recipient,
		Memo:         PaymentMemo(id),
		Status:       PaymentPending,
		Metadata:     metadata,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(ttl).Unix(),
	}, nil
}

// PaymentMemo is the reference token embedded in the on-chain memo used to
// correlate a transaction with a payment record.
func PaymentMemo(paymentId string) string {
	return "ibwt:" + paymentId
}

// Confirm flips the payment to confirmed with the matching transaction
// signature. Confirmation happens at most once; replays with the same
// signature are no-ops.
func (p *Payment) Confirm(signature string, at time.Time) error {
	if p.Status == PaymentConfirmed && p.Signature == signature {
		return nil
	}
	if p.Status != PaymentPending {
		return StateConflictError{"confirm payment", p.Status.String()}
	}
	if len(signature) <= 0 {
		return fmt.Errorf("missing confirming signature")
	}
	p.Status = PaymentConfirmed
	p.Signature = signature
	p.ConfirmedAt = at.Unix()
	return nil
}

// Expire flips the payment to expired once its deadline has passed without a
// match. An expired payment never carries a signature.
func (p *Payment) Expire(at time.Time) error {
	if p.Status == PaymentExpired {
		return nil
	}
	if p.Status != PaymentPending {
		return StateConflictError{"expire payment", p.Status.String()}
	}
	if at.Unix() < p.ExpiresAt {
		return fmt.Errorf("payment %s not expired yet", p.Id)
	}
	p.Status = PaymentExpired
	return nil
}

func (p *Payment) IsExpired(at time.Time) bool {
	return at.Unix() >= p.ExpiresAt
}
