// Package parish is the church directory: listing, lookup and
// administration of churches and their mass schedules. All authorization is
// the backend's; this service only shapes requests and responses.
package parish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"parishly.org/internal/gateway"
)

const (
	churchCollection   = "churches"
	scheduleCollection = "mass_schedules"
)

// Data is the slice of the gateway this service needs.
type Data interface {
	Query(ctx context.Context, collection string, opts ...gateway.QueryOption) ([]gateway.Record, error)
	Mutate(ctx context.Context, collection string, op gateway.MutateOp, payload any, opts ...gateway.QueryOption) ([]gateway.Record, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service exposes directory operations over the gateway.
type Service struct {
	data Data
}

func NewService(data Data) *Service { return &Service{data: data} }

// ListChurches returns the directory ordered by name, optionally narrowed
// to one diocese.
func (s *Service) ListChurches(ctx context.Context, diocese string) ([]Church, error) {
	opts := []gateway.QueryOption{gateway.Order("name", false)}
	if diocese != "" {
		opts = append(opts, gateway.Eq("diocese", diocese))
	}
	records, err := s.data.Query(ctx, churchCollection, opts...)
	if err != nil {
		return nil, err
	}
	return decodeChurches(records)
}

// GetChurch fetches a single directory entry.
func (s *Service) GetChurch(ctx context.Context, id string) (Church, error) {
	records, err := s.data.Query(ctx, churchCollection, gateway.Eq("id", id), gateway.Limit(1))
	if err != nil {
		return Church{}, err
	}
	if len(records) == 0 {
		return Church{}, ErrNotFound
	}
	var church Church
	if err := json.Unmarshal(records[0], &church); err != nil {
		return Church{}, fmt.Errorf("parish: decode church: %w", err)
	}
	return church, nil
}

// CreateChurch inserts a directory entry. The backend rejects callers
// without the admin role regardless of what the client believes.
func (s *Service) CreateChurch(ctx context.Context, input ChurchInput) (Church, error) {
	if err := validate.Struct(input); err != nil {
		return Church{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	records, err := s.data.Mutate(ctx, churchCollection, gateway.OpInsert, input)
	if err != nil {
		return Church{}, err
	}
	return firstChurch(records)
}

// UpdateChurch replaces the editable fields of an entry.
func (s *Service) UpdateChurch(ctx context.Context, id string, input ChurchInput) (Church, error) {
	if err := validate.Struct(input); err != nil {
		return Church{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	records, err := s.data.Mutate(ctx, churchCollection, gateway.OpUpdate, input, gateway.Eq("id", id))
	if err != nil {
		return Church{}, err
	}
	if len(records) == 0 {
		return Church{}, ErrNotFound
	}
	return firstChurch(records)
}

// DeleteChurch removes an entry and relies on backend cascades for its
// schedules.
func (s *Service) DeleteChurch(ctx context.Context, id string) error {
	_, err := s.data.Mutate(ctx, churchCollection, gateway.OpDelete, nil, gateway.Eq("id", id))
	return err
}

// Schedules lists a church's mass slots ordered by weekday then start time.
func (s *Service) Schedules(ctx context.Context, churchID string) ([]MassSchedule, error) {
	records, err := s.data.Query(ctx, scheduleCollection,
		gateway.Eq("church_id", churchID),
		gateway.Order("day", false),
		gateway.Order("starts_at", false),
	)
	if err != nil {
		return nil, err
	}
	schedules := make([]MassSchedule, 0, len(records))
	for _, record := range records {
		var slot MassSchedule
		if err := json.Unmarshal(record, &slot); err != nil {
			return nil, fmt.Errorf("parish: decode schedule: %w", err)
		}
		schedules = append(schedules, slot)
	}
	return schedules, nil
}

// AddSchedule inserts one mass slot.
func (s *Service) AddSchedule(ctx context.Context, input ScheduleInput) (MassSchedule, error) {
	if err := validate.Struct(input); err != nil {
		return MassSchedule{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	records, err := s.data.Mutate(ctx, scheduleCollection, gateway.OpInsert, input)
	if err != nil {
		return MassSchedule{}, err
	}
	if len(records) == 0 {
		return MassSchedule{}, fmt.Errorf("parish: insert returned no row")
	}
	var slot MassSchedule
	if err := json.Unmarshal(records[0], &slot); err != nil {
		return MassSchedule{}, fmt.Errorf("parish: decode schedule: %w", err)
	}
	return slot, nil
}

// RemoveSchedule deletes one mass slot.
func (s *Service) RemoveSchedule(ctx context.Context, id string) error {
	_, err := s.data.Mutate(ctx, scheduleCollection, gateway.OpDelete, nil, gateway.Eq("id", id))
	return err
}

func decodeChurches(records []gateway.Record) ([]Church, error) {
	churches := make([]Church, 0, len(records))
	for _, record := range records {
		var church Church
		if err := json.Unmarshal(record, &church); err != nil {
			return nil, fmt.Errorf("parish: decode church: %w", err)
		}
		churches = append(churches, church)
	}
	return churches, nil
}

func firstChurch(records []gateway.Record) (Church, error) {
	if len(records) == 0 {
		return Church{}, fmt.Errorf("parish: mutation returned no row")
	}
	var church Church
	if err := json.Unmarshal(records[0], &church); err != nil {
		return Church{}, fmt.Errorf("parish: decode church: %w", err)
	}
	return church, nil
}
