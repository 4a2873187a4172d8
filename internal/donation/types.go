package donation

import (
	"errors"
	"time"
)

// Status is the verification state of a submitted donation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Method is how the donation was made.
type Method string

const (
	MethodCash     Method = "cash"
	MethodTransfer Method = "bank_transfer"
	MethodEwallet  Method = "ewallet"
)

// Donation is one declared contribution. Amounts are carried in minor
// units (centavos) to avoid float drift.
type Donation struct {
	ID       string `json:"id"`
	ChurchID string `json:"church_id"`
	// DonorID is empty for anonymous donations.
	DonorID     string    `json:"donor_id,omitempty"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Method      Method    `json:"method"`
	Reference   string    `json:"reference,omitempty"`
	ReceiptURL  string    `json:"receipt_url,omitempty"`
	Status      Status    `json:"status"`
	VerifiedBy  string    `json:"verified_by,omitempty"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input is the payload for declaring a donation.
type Input struct {
	ChurchID    string `json:"church_id" validate:"required"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3,uppercase"`
	Method      Method `json:"method" validate:"required,oneof=cash bank_transfer ewallet"`
	Reference   string `json:"reference,omitempty" validate:"omitempty,max=120"`
	Note        string `json:"note,omitempty" validate:"omitempty,max=1000"`
}

var (
	ErrInvalidInput  = errors.New("donation: invalid input")
	ErrNotFound      = errors.New("donation: not found")
	ErrBadTransition = errors.New("donation: already decided")
)
