package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "razorpay"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the X-Razorpay-Signature HMAC over the raw payload.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("X-Razorpay-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ChargeEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Event) {
	case "subscription.charged":
	default:
		return nil, paymentdomain.ErrUnsupportedEvent
	}

	payment := event.Payload.Payment.Entity
	subscription := event.Payload.Subscription.Entity
	if strings.TrimSpace(payment.ID) == "" || strings.TrimSpace(subscription.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := timestamp(payment.CreatedAt, event.CreatedAt)
	return &paymentdomain.ChargeEvent{
		Provider:               "razorpay",
		ProviderEventID:        strings.TrimSpace(payment.ID),
		ProviderChargeID:       strings.TrimSpace(payment.ID),
		ProviderSubscriptionID: strings.TrimSpace(subscription.ID),
		Type:                   paymentdomain.EventTypeChargeSucceeded,
		Amount:                 payment.Amount,
		Currency:               strings.ToUpper(strings.TrimSpace(payment.Currency)),
		OccurredAt:             occurredAt,
		RawPayload:             payload,
	}, nil
}

type razorpayEvent struct {
	Event     string          `json:"event"`
	AccountID string          `json:"account_id"`
	CreatedAt int64           `json:"created_at"`
	Payload   razorpayPayload `json:"payload"`
}

type razorpayPayload struct {
	Payment      razorpayPaymentWrapper      `json:"payment"`
	Subscription razorpaySubscriptionWrapper `json:"subscription"`
}

type razorpayPaymentWrapper struct {
	Entity razorpayPayment `json:"entity"`
}

type razorpaySubscriptionWrapper struct {
	Entity razorpaySubscription `json:"entity"`
}

type razorpayPayment struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpaySubscription struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
