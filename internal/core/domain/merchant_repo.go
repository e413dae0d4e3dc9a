package domain

import "context"

type MerchantRepository interface {
	AddMerchant(ctx context.Context, merchant Merchant) error
	GetMerchant(ctx context.Context, id string) (*Merchant, error)
	GetMerchantByApiKey(ctx context.Context, apiKey string) (*Merchant, error)
	Close()
}

type WebhookDeliveryRepository interface {
	AddDelivery(ctx context.Context, delivery WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*WebhookDelivery, error)
	GetDeliveriesForPayment(ctx context.Context, paymentId string) ([]WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, id string, updateFn func(*WebhookDelivery) (*WebhookDelivery, error)) error
	Close()
}
