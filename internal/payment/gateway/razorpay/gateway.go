package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.razorpay.com"

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Gateway registers recurring charges with Razorpay. Every subscription gets
// its own single-use plan, so local pricing changes never mutate a plan that
// an existing mandate still references.
type Gateway struct {
	cfg    Config
	log    *zap.Logger
	client *http.Client
}

func New(cfg Config, log *zap.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		log:    log.Named("payment.razorpay"),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type planItem struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPlanRequest struct {
	Period   string   `json:"period"`
	Interval int      `json:"interval"`
	Item     planItem `json:"item"`
}

type createPlanResponse struct {
	ID string `json:"id"`
}

type createSubscriptionRequest struct {
	PlanID         string            `json:"plan_id"`
	TotalCount     int               `json:"total_count"`
	CustomerNotify int               `json:"customer_notify"`
	Notes          map[string]string `json:"notes,omitempty"`
}

type createSubscriptionResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ShortURL string `json:"short_url"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *Gateway) CreateRecurringCharge(ctx context.Context, req paymentdomain.RecurringChargeRequest) (paymentdomain.RecurringCharge, error) {
	if req.Amount <= 0 {
		return paymentdomain.RecurringCharge{}, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return paymentdomain.RecurringCharge{}, paymentdomain.ErrInvalidCurrency
	}
	period, err := planPeriod(req.Cadence)
	if err != nil {
		return paymentdomain.RecurringCharge{}, err
	}

	name := strings.TrimSpace(req.Description)
	if name == "" {
		name = "recurring order"
	}

	var plan createPlanResponse
	if err := g.post(ctx, "/v1/plans", createPlanRequest{
		Period:   period,
		Interval: 1,
		Item: planItem{
			Name:     name,
			Amount:   req.Amount,
			Currency: currency,
		},
	}, &plan); err != nil {
		return paymentdomain.RecurringCharge{}, err
	}
	if plan.ID == "" {
		return paymentdomain.RecurringCharge{}, fmt.Errorf("razorpay: plan response missing id")
	}

	totalCount := req.TotalCycles
	if totalCount <= 0 {
		totalCount = 12
	}

	var subscription createSubscriptionResponse
	if err := g.post(ctx, "/v1/subscriptions", createSubscriptionRequest{
		PlanID:         plan.ID,
		TotalCount:     totalCount,
		CustomerNotify: 1,
		Notes:          req.Notes,
	}, &subscription); err != nil {
		return paymentdomain.RecurringCharge{}, err
	}
	if subscription.ID == "" {
		return paymentdomain.RecurringCharge{}, fmt.Errorf("razorpay: subscription response missing id")
	}

	g.log.Info("recurring charge registered",
		zap.String("plan_id", plan.ID),
		zap.String("provider_subscription_id", subscription.ID),
	)

	return paymentdomain.RecurringCharge{
		ProviderSubscriptionID: subscription.ID,
		Status:                 subscription.Status,
		ShortURL:               subscription.ShortURL,
	}, nil
}

func (g *Gateway) CancelRecurringCharge(ctx context.Context, providerSubscriptionID string) error {
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if providerSubscriptionID == "" {
		return paymentdomain.ErrInvalidEvent
	}

	path := fmt.Sprintf("/v1/subscriptions/%s/cancel", providerSubscriptionID)
	return g.post(ctx, path, map[string]any{"cancel_at_cycle_end": 0}, nil)
}

func (g *Gateway) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("razorpay: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("razorpay: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay: %s: status %d: %s", path, resp.StatusCode, apiErr.Error.Description)
		}
		return fmt.Errorf("razorpay: %s: status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("razorpay: decode response: %w", err)
	}
	return nil
}

func planPeriod(cadence string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cadence)) {
	case "daily":
		return "daily", nil
	case "weekly":
		return "weekly", nil
	case "monthly":
		return "monthly", nil
	default:
		return "", paymentdomain.ErrInvalidEvent
	}
}

var _ paymentdomain.Gateway = (*Gateway)(nil)
