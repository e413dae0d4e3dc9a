package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Merchant struct {
	Id            string
	Wallet        string
	Name          string
	ApiKey        string
	WebhookURL    string
	WebhookSecret string
	CreatedAt     int64
}

func NewMerchant(wallet, name, webhookURL string, now time.Time) (*Merchant, error) {
	if len(wallet) <= 0 {
		return nil, fmt.Errorf("missing wallet address")
	}
	if len(name) <= 0 {
		return nil, fmt.Errorf("missing display name")
	}
	m := &Merchant{
		Id:        uuid.New().String(),
		Wallet:    wallet,
		Name:      name,
		ApiKey:    newSecret("ibwt_sk_"),
		CreatedAt: now.Unix(),
	}
	if len(webhookURL) > 0 {
		m.WebhookURL = webhookURL
		m.WebhookSecret = newSecret("ibwt_whsec_")
	}
	return m, nil
}

func (m *Merchant) HasWebhook() bool {
	return len(m.WebhookURL) > 0 && len(m.WebhookSecret) > 0
}

func newSecret(prefix string) string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return prefix + hex.EncodeToString(buf)
}
