package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// CreatePaymentRequest is the create-payment body. Amount is advisory only;
// the charged amount always comes from the catalog.
type CreatePaymentRequest struct {
	Type     string           `json:"type" validate:"required,max=32"`
	UserData UserData         `json:"userData"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	PlanID   string           `json:"planId,omitempty" validate:"omitempty,max=64"`
	CardData *CardData        `json:"cardData,omitempty"`
}

// UserData identifies the paying user
type UserData struct {
	ID    string `json:"id" validate:"required,max=255"`
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name" validate:"omitempty,max=255"`
}

// CardData is the tokenized card collected by the client SDK
type CardData struct {
	Token                string `json:"token" validate:"max=255"`
	Installments         int    `json:"installments" validate:"gte=0,lte=12"`
	PaymentMethodID      string `json:"paymentMethodId" validate:"max=64"`
	IssuerID             string `json:"issuerId" validate:"max=64"`
	IdentificationType   string `json:"identificationType" validate:"max=16"`
	IdentificationNumber string `json:"identificationNumber" validate:"max=32"`
}

// Response is the envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// AccountResponse is the public view of a user account
type AccountResponse struct {
	ID             string                 `json:"id"`
	Plan           upgrade.Plan           `json:"plan"`
	PlanExpiry     *time.Time             `json:"planExpiry,omitempty"`
	PaymentHistory []upgrade.PaymentEntry `json:"paymentHistory"`
}
