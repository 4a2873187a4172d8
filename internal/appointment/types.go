package appointment

import (
	"errors"
	"time"
)

// Sacrament enumerates the bookable service types.
type Sacrament string

const (
	SacramentBaptism        Sacrament = "baptism"
	SacramentWedding        Sacrament = "wedding"
	SacramentFuneral        Sacrament = "funeral"
	SacramentConfirmation   Sacrament = "confirmation"
	SacramentFirstCommunion Sacrament = "first_communion"
)

// Valid reports whether the sacrament is a known type.
func (s Sacrament) Valid() bool {
	switch s {
	case SacramentBaptism, SacramentWedding, SacramentFuneral, SacramentConfirmation, SacramentFirstCommunion:
		return true
	}
	return false
}

// Status is the appointment lifecycle state. Transitions are
// pending → approved|rejected, and any non-terminal state → cancelled by
// the requester. The backend enforces who may perform which transition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Appointment is one sacrament booking.
type Appointment struct {
	ID          string    `json:"id"`
	ChurchID    string    `json:"church_id"`
	RequesterID string    `json:"requester_id"`
	Sacrament   Sacrament `json:"sacrament"`
	SlotAt      time.Time `json:"slot_at"`
	Status      Status    `json:"status"`
	Note        string    `json:"note,omitempty"`
	DecidedBy   string    `json:"decided_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Requirement is one checklist item attached to an appointment (e.g. a
// baptismal certificate upload).
type Requirement struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	Name          string `json:"name"`
	DocumentURL   string `json:"document_url,omitempty"`
	Fulfilled     bool   `json:"fulfilled"`
}

// BookingInput is the payload for requesting a slot.
type BookingInput struct {
	ChurchID  string    `json:"church_id" validate:"required"`
	Sacrament Sacrament `json:"sacrament" validate:"required"`
	SlotAt    time.Time `json:"slot_at" validate:"required"`
	Note      string    `json:"note,omitempty" validate:"omitempty,max=1000"`
}

var (
	ErrInvalidInput   = errors.New("appointment: invalid input")
	ErrNotFound       = errors.New("appointment: not found")
	ErrPastSlot       = errors.New("appointment: slot is in the past")
	ErrBadTransition  = errors.New("appointment: state does not allow this transition")
	ErrUnknownService = errors.New("appointment: unknown sacrament")
)
