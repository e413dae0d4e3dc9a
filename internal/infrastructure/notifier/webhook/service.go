package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
)

const (
	EventPaymentConfirmed = "payment.confirmed"

	timestampHeader = "X-IBWT-Timestamp"
	signatureHeader = "X-IBWT-Signature"

	maxAttempts    = 5
	initialBackoff = time.Second
)

type paymentPayload struct {
	Id        string            `json:"id"`
	Amount    string            `json:"amount"`
	Currency  string            `json:"currency"`
	Signature string            `json:"signature"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type eventPayload struct {
	Type    string         `json:"type"`
	Payment paymentPayload `json:"payment"`
}

type service struct {
	deliveryRepo domain.WebhookDeliveryRepository
	httpClient   *http.Client

	wg   *sync.WaitGroup
	done chan struct{}
}

func NewService(deliveryRepo domain.WebhookDeliveryRepository) ports.Notifier {
	return &service{
		deliveryRepo: deliveryRepo,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		wg:           &sync.WaitGroup{},
		done:         make(chan struct{}),
	}
}

func (s *service) NotifyPaymentConfirmed(
	ctx context.Context, merchant domain.Merchant, payment domain.Payment,
) error {
	if !merchant.HasWebhook() {
		return nil
	}

	body, err := json.Marshal(eventPayload{
		Type: EventPaymentConfirmed,
		Payment: paymentPayload{
			Id:        payment.Id,
			Amount:    payment.FiatAmount.String(),
			Currency:  payment.FiatCurrency,
			Signature: payment.Signature,
			Metadata:  payment.Metadata,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %s", err)
	}

	delivery := domain.NewWebhookDelivery(
		merchant.Id, payment.Id, EventPaymentConfirmed, string(body), time.Now(),
	)
	if err := s.deliveryRepo.AddDelivery(ctx, *delivery); err != nil {
		return fmt.Errorf("failed to record webhook delivery: %w", err)
	}

	s.wg.Add(1)
	go s.deliver(delivery.Id, merchant, body)
	return nil
}

func (s *service) Stop() {
	close(s.done)
	s.wg.Wait()
}

// deliver retries with exponential backoff and records the outcome of every
// attempt. It runs detached from the caller so a slow endpoint cannot stall
// reconciliation.
func (s *service) deliver(deliveryId string, merchant domain.Merchant, body []byte) {
	defer s.wg.Done()

	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.post(merchant, body)
		s.recordAttempt(deliveryId, attempt, err)
		if err == nil {
			return
		}

		log.WithError(err).Warnf(
			"webhook delivery %s to merchant %s failed, attempt %d of %d",
			deliveryId, merchant.Id, attempt, maxAttempts,
		)
		if attempt == maxAttempts {
			return
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-s.done:
			return
		}
	}
}

func (s *service) post(merchant domain.Merchant, body []byte) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req, err := http.NewRequest(
		http.MethodPost, merchant.WebhookURL, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(timestampHeader, timestamp)
	req.Header.Set(signatureHeader, Sign(merchant.WebhookSecret, timestamp, body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *service) recordAttempt(deliveryId string, attempt int, attemptErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.deliveryRepo.UpdateDelivery(
		ctx, deliveryId,
		func(d *domain.WebhookDelivery) (*domain.WebhookDelivery, error) {
			d.Attempts = attempt
			if attemptErr == nil {
				d.Status = domain.DeliveryDelivered
				d.LastError = ""
				d.DeliveredAt = time.Now().Unix()
				return d, nil
			}
			d.LastError = attemptErr.Error()
			if attempt >= maxAttempts {
				d.Status = domain.DeliveryFailed
			}
			return d, nil
		},
	)
	if err != nil {
		log.WithError(err).Warnf("failed to update webhook delivery %s", deliveryId)
	}
}

// Sign computes the hex HMAC-SHA256 of "<timestamp>.<body>" with the
// merchant's webhook secret. Receivers recompute it to authenticate the
// event and reject replays outside their timestamp tolerance.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
