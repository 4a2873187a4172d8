package parish

import (
	"errors"
	"time"
)

// Church is one directory entry. Records pass through the gateway opaquely;
// the JSON tags mirror the backend columns.
type Church struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Diocese   string    `json:"diocese"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MassSchedule is one recurring service slot for a church.
type MassSchedule struct {
	ID       string `json:"id"`
	ChurchID string `json:"church_id"`
	// Day is the weekday, 0 (Sunday) through 6 (Saturday).
	Day      int    `json:"day"`
	StartsAt string `json:"starts_at"` // "HH:MM", church-local
	Language string `json:"language,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ChurchInput is the payload for creating or updating a church.
type ChurchInput struct {
	Name    string `json:"name" validate:"required,min=2,max=200"`
	Diocese string `json:"diocese" validate:"required,min=2,max=200"`
	Address string `json:"address" validate:"required,min=5,max=500"`
	City    string `json:"city" validate:"required,min=2,max=100"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
}

// ScheduleInput is the payload for adding a mass schedule slot.
type ScheduleInput struct {
	ChurchID string `json:"church_id" validate:"required"`
	Day      int    `json:"day" validate:"min=0,max=6"`
	StartsAt string `json:"starts_at" validate:"required,len=5"`
	Language string `json:"language,omitempty" validate:"omitempty,max=40"`
	Note     string `json:"note,omitempty" validate:"omitempty,max=500"`
}

var (
	ErrNotFound     = errors.New("parish: church not found")
	ErrInvalidInput = errors.New("parish: invalid input")
)
