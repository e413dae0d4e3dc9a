package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryPending DeliveryStatus = iota
	DeliveryDelivered
	DeliveryFailed
)

type DeliveryStatus int

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WebhookDelivery records every attempt to notify a merchant endpoint, so
// missed events stay visible instead of vanishing with the process.
type WebhookDelivery struct {
	Id          string
	MerchantId  string
	PaymentId   string
	EventType   string
	Payload     string
	Status      DeliveryStatus
	Attempts    int
	LastError   string
	CreatedAt   int64
	DeliveredAt int64
}

func NewWebhookDelivery(merchantId, paymentId, eventType, payload string, now time.Time) *WebhookDelivery {
	return &WebhookDelivery{
		Id:         uuid.New().String(),
		MerchantId: merchantId,
		PaymentId:  paymentId,
		EventType:  eventType,
		Payload:    payload,
		Status:     DeliveryPending,
		CreatedAt:  now.Unix(),
	}
}
