package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          int64     `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	IsPaid      bool      `json:"is_paid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
	Parts       []Part    `json:"parts,omitempty"`
}

const (
	OrderStatusOpen             = "open"
	OrderStatusPartial          = "partial"
	OrderStatusReadyForCheckout = "ready_for_checkout"
	OrderStatusReadyForPickup   = "ready_for_pickup"
	OrderStatusClosed           = "closed"
	OrderStatusCancelled        = "cancelled"
	OrderStatusRefunded         = "refunded"
	OrderStatusCompleted        = "completed"
)

type Part struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"order_id"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	VehicleMake    string    `json:"vehicle_make,omitempty"`
	VehicleModel   string    `json:"vehicle_model,omitempty"`
	VehicleYear    int       `json:"vehicle_year,omitempty"`
	ShippingStatus string    `json:"shipping_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Bids           []Bid     `json:"bids,omitempty"`
}

// Shipping statuses advance strictly forward; cancelled is terminal and
// reachable from any state except delivered.
const (
	ShippingStatusNone           = "none"
	ShippingStatusPendingPickup  = "pending_pickup"
	ShippingStatusPickedUp       = "picked_up"
	ShippingStatusOutForDelivery = "out_for_delivery"
	ShippingStatusDelivered      = "delivered"
	ShippingStatusCancelled      = "cancelled"
)

type Bid struct {
	ID        int64           `json:"id"`
	PartID    int64           `json:"part_id"`
	VendorID  string          `json:"vendor_id"`
	Price     decimal.Decimal `json:"price"`
	Notes     string          `json:"notes,omitempty"`
	Status    string          `json:"status"`
	ShippedAt *time.Time      `json:"shipped_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const (
	BidStatusPending  = "pending"
	BidStatusAccepted = "accepted"
	BidStatusRejected = "rejected"
)

type Invoice struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	DeliveryOption string          `json:"delivery_option"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentStatus  string          `json:"payment_status"`
	SessionRef     string          `json:"session_ref,omitempty"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// ShippingEvent is the evidence record attached to each fulfillment
// transition. Photo storage itself lives elsewhere; only the reference is
// kept here.
type ShippingEvent struct {
	ID         int64     `json:"id"`
	PartID     int64     `json:"part_id"`
	DriverID   string    `json:"driver_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Notes      string    `json:"notes,omitempty"`
	PhotoRef   string    `json:"photo_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type AdminLog struct {
	ID         int64     `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
