package razorpay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
	"github.com/boxkite/boxkite/internal/payment/gateway/razorpay"
	"go.uber.org/zap"
)

func TestCreateRecurringCharge(t *testing.T) {
	var planBody, subscriptionBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_test" || pass != "secret_test" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}

		switch r.URL.Path {
		case "/v1/plans":
			if err := json.NewDecoder(r.Body).Decode(&planBody); err != nil {
				t.Fatalf("decode plan: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"plan_abc"}`))
		case "/v1/subscriptions":
			if err := json.NewDecoder(r.Body).Decode(&subscriptionBody); err != nil {
				t.Fatalf("decode subscription: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"sub_xyz","status":"created","short_url":"https://rzp.io/i/x"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	gateway := razorpay.New(razorpay.Config{
		BaseURL:   server.URL,
		KeyID:     "key_test",
		KeySecret: "secret_test",
	}, zap.NewNop())

	charge, err := gateway.CreateRecurringCharge(context.Background(), paymentdomain.RecurringChargeRequest{
		Description: "coffee subscription",
		Amount:      49900,
		Currency:    "inr",
		Cadence:     "monthly",
		TotalCycles: 6,
		Notes:       map[string]string{"subscription_id": "123"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if charge.ProviderSubscriptionID != "sub_xyz" {
		t.Fatalf("expected sub_xyz, got %s", charge.ProviderSubscriptionID)
	}
	if charge.Status != "created" {
		t.Fatalf("expected created, got %s", charge.Status)
	}

	if planBody["period"] != "monthly" {
		t.Fatalf("expected monthly period, got %v", planBody["period"])
	}
	item := planBody["item"].(map[string]any)
	if item["amount"].(float64) != 49900 || item["currency"] != "INR" {
		t.Fatalf("unexpected plan item %v", item)
	}
	if subscriptionBody["plan_id"] != "plan_abc" {
		t.Fatalf("expected plan_abc, got %v", subscriptionBody["plan_id"])
	}
	if subscriptionBody["total_count"].(float64) != 6 {
		t.Fatalf("expected total_count 6, got %v", subscriptionBody["total_count"])
	}
}

func TestCreateRecurringChargeRejectsBadInput(t *testing.T) {
	gateway := razorpay.New(razorpay.Config{BaseURL: "http://localhost:0"}, zap.NewNop())

	_, err := gateway.CreateRecurringCharge(context.Background(), paymentdomain.RecurringChargeRequest{
		Amount: 0, Currency: "INR", Cadence: "monthly",
	})
	if err != paymentdomain.ErrInvalidAmount {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	_, err = gateway.CreateRecurringCharge(context.Background(), paymentdomain.RecurringChargeRequest{
		Amount: 100, Currency: "INR", Cadence: "fortnightly",
	})
	if err == nil {
		t.Fatalf("expected cadence error")
	}
}

func TestCreateRecurringChargeSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Currency is not supported"}}`))
	}))
	defer server.Close()

	gateway := razorpay.New(razorpay.Config{BaseURL: server.URL}, zap.NewNop())

	_, err := gateway.CreateRecurringCharge(context.Background(), paymentdomain.RecurringChargeRequest{
		Amount: 100, Currency: "XYZ", Cadence: "monthly",
	})
	if err == nil {
		t.Fatalf("expected api error")
	}
}

func TestCancelRecurringCharge(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"id":"sub_xyz","status":"cancelled"}`))
	}))
	defer server.Close()

	gateway := razorpay.New(razorpay.Config{BaseURL: server.URL}, zap.NewNop())
	if err := gateway.CancelRecurringCharge(context.Background(), "sub_xyz"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if path != "/v1/subscriptions/sub_xyz/cancel" {
		t.Fatalf("unexpected path %s", path)
	}
}
