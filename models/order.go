package models

import (
	"gorm.io/gorm"
	"time"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const (
	PaymentMethodCard = "card"
	PaymentMethodCOD  = "cod"
)

// orderTransitions lists the statuses an order may move to from each status.
var orderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

var paymentStatuses = []string{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func IsOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func IsPaymentStatus(status string) bool {
	for _, s := range paymentStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func CanTransitionOrder(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ShippingAddress struct {
	FullName   string `gorm:"not null" json:"fullName"`
	Phone      string `gorm:"not null" json:"phone"`
	Line1      string `gorm:"not null" json:"line1"`
	Line2      string `json:"line2"`
	City       string `gorm:"not null" json:"city"`
	State      string `json:"state"`
	PostalCode string `gorm:"not null" json:"postalCode"`
	Country    string `gorm:"not null" json:"country"`
}

type Order struct {
	gorm.Model
	OrderNumber     string          `gorm:"uniqueIndex;size:32;not null" json:"orderNumber"`
	UserID          uint            `gorm:"index;not null" json:"userId"`
	User            User            `json:"-"`
	OrderItems      []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `gorm:"embedded;embeddedPrefix:ship_" json:"shippingAddress"`
	Subtotal        int64           `gorm:"not null" json:"subtotal"`
	ShippingFee     int64           `gorm:"not null" json:"shippingFee"`
	Tax             int64           `gorm:"not null" json:"tax"`
	Total           int64           `gorm:"not null" json:"total"`
	PaymentMethod   string          `gorm:"size:16;not null" json:"paymentMethod"`
	PaymentIntentID *string         `gorm:"uniqueIndex;size:255" json:"paymentIntentId,omitempty"`
	Status          string          `gorm:"size:16;not null;index" json:"status"`
	PaymentStatus   string          `gorm:"size:16;not null" json:"paymentStatus"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
}
