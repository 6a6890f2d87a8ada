package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/boxkite/boxkite/internal/customer/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	CustomerID  string                    `json:"customer_id"`
	Customer    *createCustomerRequest    `json:"customer"`
	Cadence     string                    `json:"cadence"`
	Currency    string                    `json:"currency"`
	TotalCycles int                       `json:"total_cycles"`
	Items       []subscriptionItemRequest `json:"items"`
}

type createCustomerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	Pincode     string `json:"pincode"`
	Country     string `json:"country"`
}

type subscriptionItemRequest struct {
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// CreateSubscription signs a customer up for recurring delivery: the
// customer record and the provider-side recurring charge are created
// before the local subscription row.
func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		if req.Customer == nil {
			AbortWithError(c, newValidationError("customer", "invalid_customer", "customer or customer_id required"))
			return
		}
		cust, err := s.customerSvc.Create(ctx, customerdomain.CreateCustomerRequest{
			Name:        strings.TrimSpace(req.Customer.Name),
			Email:       strings.TrimSpace(req.Customer.Email),
			Phone:       strings.TrimSpace(req.Customer.Phone),
			AddressLine: strings.TrimSpace(req.Customer.AddressLine),
			City:        strings.TrimSpace(req.Customer.City),
			State:       strings.TrimSpace(req.Customer.State),
			Pincode:     strings.TrimSpace(req.Customer.Pincode),
			Country:     strings.TrimSpace(req.Customer.Country),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		customerID = cust.ID.String()
	}

	resp, err := s.subscriptionSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:  customerID,
		Cadence:     subscriptiondomain.Cadence(strings.TrimSpace(req.Cadence)),
		Currency:    strings.TrimSpace(req.Currency),
		TotalCycles: req.TotalCycles,
		Items:       normalizeSubscriptionItems(req.Items),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	resp, err := s.subscriptionSvc.GetByID(c.Request.Context(), subscriptiondomain.GetSubscriptionRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelSubscriptionRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func normalizeSubscriptionItems(items []subscriptionItemRequest) []subscriptiondomain.SubscriptionItemRequest {
	out := make([]subscriptiondomain.SubscriptionItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, subscriptiondomain.SubscriptionItemRequest{
			Name:      strings.TrimSpace(item.Name),
			SKU:       strings.TrimSpace(item.SKU),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return out
}
