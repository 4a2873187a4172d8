package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"parishly.org/internal/gateway"
	"parishly.org/internal/ids"
)

const (
	collection             = "appointments"
	requirementsCollection = "appointment_requirements"
)

// Data is the slice of the remote gateway the service needs.
type Data interface {
	Query(ctx context.Context, collection string, opts ...gateway.QueryOption) ([]gateway.Record, error)
	Mutate(ctx context.Context, collection string, op gateway.MutateOp, payload any, opts ...gateway.QueryOption) ([]gateway.Record, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service books and reviews sacrament appointments.
type Service struct {
	data Data
	now  func() time.Time
}

func NewService(data Data) *Service {
	return &Service{data: data, now: time.Now}
}

// Book requests a slot. The id is generated client-side so the row can be
// referenced (requirements, documents) before the insert round-trips.
func (s *Service) Book(ctx context.Context, requesterID string, in BookingInput) (*Appointment, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !in.Sacrament.Valid() {
		return nil, ErrUnknownService
	}
	if !in.SlotAt.After(s.now()) {
		return nil, ErrPastSlot
	}
	appt := Appointment{
		ID:          ids.New(),
		ChurchID:    in.ChurchID,
		RequesterID: requesterID,
		Sacrament:   in.Sacrament,
		SlotAt:      in.SlotAt.UTC(),
		Status:      StatusPending,
		Note:        in.Note,
	}
	rows, err := s.data.Mutate(ctx, collection, gateway.OpInsert, appt)
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

// Cancel marks the requester's own appointment cancelled. Approved and
// pending bookings can be cancelled; decided-terminal ones cannot.
func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	cur, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == StatusRejected || cur.Status == StatusCancelled {
		return nil, ErrBadTransition
	}
	return s.setStatus(ctx, id, StatusCancelled, "")
}

// Approve moves a pending appointment to approved, recording the reviewer.
func (s *Service) Approve(ctx context.Context, id, reviewerID string) (*Appointment, error) {
	return s.decide(ctx, id, reviewerID, StatusApproved)
}

// Reject moves a pending appointment to rejected, recording the reviewer.
func (s *Service) Reject(ctx context.Context, id, reviewerID string) (*Appointment, error) {
	return s.decide(ctx, id, reviewerID, StatusRejected)
}

func (s *Service) decide(ctx context.Context, id, reviewerID string, to Status) (*Appointment, error) {
	cur, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPending {
		return nil, ErrBadTransition
	}
	return s.setStatus(ctx, id, to, reviewerID)
}

func (s *Service) setStatus(ctx context.Context, id string, to Status, reviewerID string) (*Appointment, error) {
	patch := map[string]any{"status": to}
	if reviewerID != "" {
		patch["decided_by"] = reviewerID
	}
	rows, err := s.data.Mutate(ctx, collection, gateway.OpUpdate, patch, gateway.Eq("id", id))
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

// ListMine returns the requester's appointments, newest slot first.
func (s *Service) ListMine(ctx context.Context, requesterID string) ([]Appointment, error) {
	rows, err := s.data.Query(ctx, collection,
		gateway.Eq("requester_id", requesterID),
		gateway.Order("slot_at", true),
	)
	if err != nil {
		return nil, err
	}
	return decodeAll(rows)
}

// ListForChurch returns a church's appointments for review. An empty
// status lists everything.
func (s *Service) ListForChurch(ctx context.Context, churchID string, status Status) ([]Appointment, error) {
	opts := []gateway.QueryOption{
		gateway.Eq("church_id", churchID),
		gateway.Order("slot_at", false),
	}
	if status != "" {
		opts = append(opts, gateway.Eq("status", string(status)))
	}
	rows, err := s.data.Query(ctx, collection, opts...)
	if err != nil {
		return nil, err
	}
	return decodeAll(rows)
}

// Requirements returns the checklist for one appointment.
func (s *Service) Requirements(ctx context.Context, appointmentID string) ([]Requirement, error) {
	rows, err := s.data.Query(ctx, requirementsCollection,
		gateway.Eq("appointment_id", appointmentID),
		gateway.Order("name", false),
	)
	if err != nil {
		return nil, err
	}
	out := make([]Requirement, 0, len(rows))
	for _, r := range rows {
		var req Requirement
		if err := json.Unmarshal(r, &req); err != nil {
			return nil, fmt.Errorf("decode requirement: %w", err)
		}
		out = append(out, req)
	}
	return out, nil
}

// AddRequirement attaches a checklist item to an appointment.
func (s *Service) AddRequirement(ctx context.Context, appointmentID, name string) (*Requirement, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	req := Requirement{ID: ids.New(), AppointmentID: appointmentID, Name: name}
	rows, err := s.data.Mutate(ctx, requirementsCollection, gateway.OpInsert, req)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &req, nil
	}
	var out Requirement
	if err := json.Unmarshal(rows[0], &out); err != nil {
		return nil, fmt.Errorf("decode requirement: %w", err)
	}
	return &out, nil
}

// FulfillRequirement records the supporting document for a checklist item.
func (s *Service) FulfillRequirement(ctx context.Context, requirementID, documentURL string) error {
	patch := map[string]any{"fulfilled": true, "document_url": documentURL}
	_, err := s.data.Mutate(ctx, requirementsCollection, gateway.OpUpdate, patch,
		gateway.Eq("id", requirementID))
	return err
}

// ChecklistComplete reports whether every requirement is fulfilled. An
// appointment with no requirements counts as complete.
func (s *Service) ChecklistComplete(ctx context.Context, appointmentID string) (bool, error) {
	reqs, err := s.Requirements(ctx, appointmentID)
	if err != nil {
		return false, err
	}
	for _, r := range reqs {
		if !r.Fulfilled {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) get(ctx context.Context, id string) (*Appointment, error) {
	rows, err := s.data.Query(ctx, collection, gateway.Eq("id", id), gateway.Limit(1))
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

func decodeOne(rows []gateway.Record) (*Appointment, error) {
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var a Appointment
	if err := json.Unmarshal(rows[0], &a); err != nil {
		return nil, fmt.Errorf("decode appointment: %w", err)
	}
	return &a, nil
}

func decodeAll(rows []gateway.Record) ([]Appointment, error) {
	out := make([]Appointment, 0, len(rows))
	for _, r := range rows {
		var a Appointment
		if err := json.Unmarshal(r, &a); err != nil {
			return nil, fmt.Errorf("decode appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
