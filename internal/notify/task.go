// Package notify delivers order confirmations to customers through background jobs.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

// TypeOrderConfirmation is the asynq task type for order confirmation e-mails.
const TypeOrderConfirmation = "checkout:order_confirmation"

// OrderConfirmation is the payload carried by the confirmation task and by the
// checkout.order_submitted event.
type OrderConfirmation struct {
	Reference       string      `json:"reference"`
	UpstreamOrderID string      `json:"upstreamOrderId"`
	UserID          string      `json:"userId"`
	Email           string      `json:"userEmail"`
	Branch          string      `json:"branch"`
	PaymentMethod   string      `json:"paymentMethod"`
	DeliveryAddress string      `json:"deliveryAddress"`
	Items           []cart.Line `json:"items"`
	Subtotal        money.Money `json:"subtotal"`
	TaxAmount       money.Money `json:"taxAmount"`
	DeliveryCharges money.Money `json:"deliveryCharges"`
	DiscountAmount  money.Money `json:"discountAmount"`
	FinalAmount     money.Money `json:"finalAmount"`
	Currency        string      `json:"currency"`
	PlacedAt        time.Time   `json:"placedAt"`
}

// NewOrderConfirmationTask builds the task. The task id is derived from the reference so a
// repeated enqueue for the same order is rejected by asynq.
func NewOrderConfirmationTask(p OrderConfirmation) (*asynq.Task, error) {
	if p.Reference == "" {
		return nil, fmt.Errorf("order confirmation: reference is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("order confirmation: encode: %w", err)
	}
	return asynq.NewTask(TypeOrderConfirmation, data,
		asynq.TaskID("confirm:"+p.Reference),
		asynq.MaxRetry(8),
		asynq.Timeout(30*time.Second),
		asynq.Retention(24*time.Hour),
	), nil
}
