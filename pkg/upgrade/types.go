package upgrade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlanExpiryPeriod is the length of PRO access granted by one approved payment.
const PlanExpiryPeriod = 365 * 24 * time.Hour

// Method is the payment method of an intent or a confirmed payment.
type Method string

const (
	// MethodInstantTransfer is an instant bank transfer paid through a QR code or copy-paste key.
	MethodInstantTransfer Method = "instant_transfer"
	// MethodCard is a tokenized credit or debit card payment.
	MethodCard Method = "card"
)

// ParseMethod maps a client or provider method name onto a Method.
// The provider names instant transfers "pix", so both spellings are accepted.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pix", string(MethodInstantTransfer), "bank_transfer":
		return MethodInstantTransfer, nil
	case string(MethodCard), "credit_card", "debit_card":
		return MethodCard, nil
	default:
		return "", ErrInvalidPaymentType
	}
}

// Status is the provider-confirmed state of a payment.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
	StatusInProcess Status = "in_process"
)

// Valid reports whether s is one of the statuses the engine knows how to apply.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusPending, StatusRejected, StatusInProcess:
		return true
	}
	return false
}

// Plan is the subscription level of a user account.
type Plan string

const (
	PlanStandard Plan = "standard"
	PlanPro      Plan = "pro"
)

// Covers reports whether p grants at least the access of required.
func (p Plan) Covers(required Plan) bool {
	return p == required || p == PlanPro
}

// CardDetails carries the tokenized card data collected by the client.
// Raw card numbers never reach the server.
type CardDetails struct {
	Token                string `json:"token"`
	Installments         int    `json:"installments,omitempty"`
	PaymentMethodID      string `json:"paymentMethodId,omitempty"`
	IssuerID             string `json:"issuerId,omitempty"`
	IdentificationType   string `json:"identificationType"`
	IdentificationNumber string `json:"identificationNumber"`
}

// Payer identifies who is paying.
type Payer struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// IntentMetadata is attached to the provider request and echoed back on the payment.
type IntentMetadata struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

// PaymentIntent is a provider-agnostic payment request. It is never mutated after creation.
type PaymentIntent struct {
	ID                string          `json:"id"`
	Method            Method          `json:"method"`
	PlanID            string          `json:"planId"`
	Title             string          `json:"title"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PayerRef          string          `json:"payerRef"`
	PayerEmail        string          `json:"payerEmail,omitempty"`
	ExternalReference string          `json:"externalReference"`
	Metadata          IntentMetadata  `json:"metadata"`
	NotificationURL   string          `json:"notificationUrl,omitempty"`
	ReturnURL         string          `json:"returnUrl,omitempty"`
	Card              *CardDetails    `json:"card,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// PayerMetadata is what the provider reports back about the payer of a payment.
type PayerMetadata struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// PaymentRecord is a payment as confirmed by the provider. It is the only trusted source of status.
type PaymentRecord struct {
	ID                string          `json:"id"`
	Status            Status          `json:"status"`
	StatusDetail      string          `json:"statusDetail,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Method            Method          `json:"method,omitempty"`
	Payer             PayerMetadata   `json:"payer"`
	ExternalReference string          `json:"externalReference,omitempty"`
	DateCreated       time.Time       `json:"dateCreated"`
}

// PaymentEntry is the history entry a PaymentRecord produces on an account.
type PaymentEntry struct {
	PaymentID    string          `json:"paymentId"`
	Status       Status          `json:"status"`
	StatusDetail string          `json:"statusDetail,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	Method       Method          `json:"method,omitempty"`
	DateCreated  time.Time       `json:"dateCreated"`
	AppliedAt    time.Time       `json:"appliedAt"`
}

// UserAccount is the part of a user that reconciliation mutates.
// Version is the compare-and-swap token owned by the Store.
type UserAccount struct {
	ID             string         `json:"id"`
	Plan           Plan           `json:"plan"`
	PlanExpiry     *time.Time     `json:"planExpiry,omitempty"`
	MonthlyUsage   int            `json:"monthlyUsage"`
	PaymentHistory []PaymentEntry `json:"paymentHistory"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// HasPayment reports whether paymentID has already been applied to the account.
func (a *UserAccount) HasPayment(paymentID string) bool {
	for i := range a.PaymentHistory {
		if a.PaymentHistory[i].PaymentID == paymentID {
			return true
		}
	}
	return false
}

// EffectivePlan returns the plan implied by PlanExpiry at now.
func (a *UserAccount) EffectivePlan(now time.Time) Plan {
	if a.PlanExpiry != nil && a.PlanExpiry.After(now) {
		return PlanPro
	}
	return PlanStandard
}

// Clone returns a deep copy so stores and callers never share history slices.
func (a *UserAccount) Clone() *UserAccount {
	if a == nil {
		return nil
	}
	c := *a
	if a.PlanExpiry != nil {
		expiry := *a.PlanExpiry
		c.PlanExpiry = &expiry
	}
	if a.PaymentHistory != nil {
		c.PaymentHistory = make([]PaymentEntry, len(a.PaymentHistory))
		copy(c.PaymentHistory, a.PaymentHistory)
	}
	return &c
}

// NewAccount returns a fresh standard account for userID.
func NewAccount(userID string) *UserAccount {
	return &UserAccount{
		ID:             userID,
		Plan:           PlanStandard,
		PaymentHistory: []PaymentEntry{},
	}
}
