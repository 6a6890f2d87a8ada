// Package shiprocket implements the shipping gateway against the Shiprocket
// adhoc order API.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	shippingdomain "github.com/boxkite/boxkite/internal/shipping/domain"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://apiv2.shiprocket.in"

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Gateway {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Gateway{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("shipping.shiprocket"),
	}
}

type orderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

type createOrderRequest struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	PickupLocation    string      `json:"pickup_location"`
	BillingName       string      `json:"billing_customer_name"`
	BillingAddress    string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingPincode    string      `json:"billing_pincode"`
	BillingState      string      `json:"billing_state"`
	BillingCountry    string      `json:"billing_country"`
	BillingEmail      string      `json:"billing_email"`
	BillingPhone      string      `json:"billing_phone"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	OrderItems        []orderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          float64     `json:"sub_total"`
	Length            float64     `json:"length"`
	Breadth           float64     `json:"breadth"`
	Height            float64     `json:"height"`
	Weight            float64     `json:"weight"`
}

type createOrderResponse struct {
	OrderID    json.Number `json:"order_id"`
	ShipmentID json.Number `json:"shipment_id"`
	Status     string      `json:"status"`
	Message    string      `json:"message"`
}

// CreateOrder creates an adhoc shipment order. The provider rejects reused
// order ids, so a replayed request cannot create a second shipment.
func (g *Gateway) CreateOrder(ctx context.Context, req shippingdomain.ShipmentRequest) (shippingdomain.Shipment, error) {
	if strings.TrimSpace(req.OrderRef) == "" || len(req.Items) == 0 {
		return shippingdomain.Shipment{}, shippingdomain.ErrInvalidRequest
	}

	items := make([]orderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orderItem{
			Name:         item.Name,
			SKU:          item.SKU,
			Units:        item.Units,
			SellingPrice: float64(item.SellingPrice) / 100,
		})
	}

	body := createOrderRequest{
		OrderID:           req.OrderRef,
		OrderDate:         req.OrderDate.UTC().Format("2006-01-02 15:04"),
		PickupLocation:    req.PickupLocation,
		BillingName:       req.BillingName,
		BillingAddress:    req.BillingAddress,
		BillingCity:       req.BillingCity,
		BillingPincode:    req.BillingPincode,
		BillingState:      req.BillingState,
		BillingCountry:    req.BillingCountry,
		BillingEmail:      req.BillingEmail,
		BillingPhone:      req.BillingPhone,
		ShippingIsBilling: true,
		OrderItems:        items,
		PaymentMethod:     "Prepaid",
		SubTotal:          float64(req.SubTotal) / 100,
		Length:            10,
		Breadth:           10,
		Height:            10,
		Weight:            0.5,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return shippingdomain.Shipment{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/external/orders/create/adhoc", bytes.NewReader(encoded))
	if err != nil {
		return shippingdomain.Shipment{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// Timeouts and connection resets surface here with no status code.
		return shippingdomain.Shipment{}, &shippingdomain.GatewayError{
			StatusCode: 0,
			Message:    err.Error(),
			Transient:  true,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return shippingdomain.Shipment{}, &shippingdomain.GatewayError{
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
			Transient:  true,
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return shippingdomain.Shipment{}, classifyFailure(resp.StatusCode, raw)
	}

	var decoded createOrderResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return shippingdomain.Shipment{}, &shippingdomain.GatewayError{
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Transient:  false,
		}
	}

	g.log.Info("shipment order created",
		zap.String("order_ref", req.OrderRef),
		zap.String("provider_order_id", decoded.OrderID.String()),
		zap.String("status", decoded.Status),
	)

	return shippingdomain.Shipment{
		ProviderOrderID: decoded.OrderID.String(),
		ShipmentID:      decoded.ShipmentID.String(),
		Status:          decoded.Status,
	}, nil
}

func classifyFailure(status int, raw []byte) error {
	message := strings.TrimSpace(string(raw))
	if len(message) > 512 {
		message = message[:512]
	}

	transient := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return &shippingdomain.GatewayError{
		StatusCode: status,
		Message:    message,
		Transient:  transient,
	}
}

var _ shippingdomain.Gateway = (*Gateway)(nil)
