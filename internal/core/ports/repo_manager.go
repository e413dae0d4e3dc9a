package ports

import "github.com/ibwt-market/settler/internal/core/domain"

type RepoManager interface {
	Tasks() domain.TaskRepository
	Payments() domain.PaymentRepository
	Merchants() domain.MerchantRepository
	WebhookDeliveries() domain.WebhookDeliveryRepository
	Close()
}
