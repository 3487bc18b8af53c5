package store

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses recorded in the ledger.
const (
	StatusSubmitted = "SUBMITTED"
	StatusFailed    = "FAILED"
)

// CheckoutOrder is one placement attempt.
type CheckoutOrder struct {
	ID              uuid.UUID
	Reference       string
	UserID          string
	UserEmail       string
	UpstreamOrderID *string
	Branch          string
	PaymentMethod   string
	DeliveryAddress string
	OfferID         *string
	Items           []byte
	Subtotal        int64
	Tax             int64
	Delivery        int64
	Discount        int64
	Total           int64
	Currency        string
	QuoteGeneration int64
	Status          string
	FailureReason   *string
	CreatedAt       time.Time
}

// DomainEvent is a persisted event emitted after a checkout state change.
type DomainEvent struct {
	ID          uuid.UUID
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
	OccurredAt  time.Time
}

// SalesDay aggregates submitted orders for one calendar day (UTC).
type SalesDay struct {
	Day      time.Time
	Orders   int64
	Revenue  int64
	Tax      int64
	Delivery int64
	Discount int64
}

// ProductSales aggregates the quantity and revenue of one product across submitted orders.
type ProductSales struct {
	ProductID   string
	ProductName string
	Quantity    int64
	Revenue     int64
}
