// Package announcement manages parish and diocese-wide notices, with an
// optional live watch that refetches whenever the backend reports a change.
package announcement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"parishly.org/internal/gateway"
)

const collection = "announcements"

// Announcement is one notice. ChurchID is empty for diocese-wide notices.
type Announcement struct {
	ID          string     `json:"id"`
	ChurchID    string     `json:"church_id,omitempty"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	PublishedAt time.Time  `json:"published_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AuthorID    string     `json:"author_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Input is the payload for creating or editing a notice.
type Input struct {
	ChurchID  string     `json:"church_id,omitempty"`
	Title     string     `json:"title" validate:"required,min=3,max=200"`
	Body      string     `json:"body" validate:"required,min=3,max=5000"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

var ErrInvalidInput = errors.New("announcement: invalid input")

// Data is the slice of the gateway this service needs.
type Data interface {
	Query(ctx context.Context, collection string, opts ...gateway.QueryOption) ([]gateway.Record, error)
	Mutate(ctx context.Context, collection string, op gateway.MutateOp, payload any, opts ...gateway.QueryOption) ([]gateway.Record, error)
}

// Feed is the realtime bridge surface the watch relies on.
type Feed interface {
	Subscribe(collection, filter string, onChange func()) func()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service exposes announcement operations.
type Service struct {
	data Data
	now  func() time.Time
}

func NewService(data Data) *Service {
	return &Service{data: data, now: time.Now}
}

// ListActive returns unexpired notices for the church plus diocese-wide
// ones, newest first. The expiry cut is done server-side so stale rows
// never cross the wire.
func (s *Service) ListActive(ctx context.Context, churchID string) ([]Announcement, error) {
	opts := []gateway.QueryOption{
		gateway.Order("published_at", true),
		gateway.Lte("published_at", s.now().UTC().Format(time.RFC3339)),
	}
	if churchID != "" {
		opts = append(opts, gateway.In("church_id", churchID, ""))
	}
	records, err := s.data.Query(ctx, collection, opts...)
	if err != nil {
		return nil, err
	}
	items := make([]Announcement, 0, len(records))
	now := s.now()
	for _, record := range records {
		var a Announcement
		if err := json.Unmarshal(record, &a); err != nil {
			return nil, fmt.Errorf("announcement: decode: %w", err)
		}
		if a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			continue
		}
		items = append(items, a)
	}
	return items, nil
}

// Create publishes a notice immediately.
func (s *Service) Create(ctx context.Context, input Input) (Announcement, error) {
	if err := validate.Struct(input); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	payload := struct {
		Input
		PublishedAt time.Time `json:"published_at"`
	}{Input: input, PublishedAt: s.now().UTC()}
	records, err := s.data.Mutate(ctx, collection, gateway.OpInsert, payload)
	if err != nil {
		return Announcement{}, err
	}
	return first(records)
}

// Update edits a notice in place.
func (s *Service) Update(ctx context.Context, id string, input Input) (Announcement, error) {
	if err := validate.Struct(input); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	records, err := s.data.Mutate(ctx, collection, gateway.OpUpdate, input, gateway.Eq("id", id))
	if err != nil {
		return Announcement{}, err
	}
	return first(records)
}

// Delete removes a notice.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.data.Mutate(ctx, collection, gateway.OpDelete, nil, gateway.Eq("id", id))
	return err
}

// Watch attaches to the change feed and invokes onChange whenever the
// announcements collection moves. onChange is a refetch hint only; it
// carries no rows. The returned function detaches.
func (s *Service) Watch(feed Feed, churchID string, onChange func()) func() {
	filter := ""
	if churchID != "" {
		filter = "church_id=eq." + churchID
	}
	return feed.Subscribe(collection, filter, onChange)
}

func first(records []gateway.Record) (Announcement, error) {
	if len(records) == 0 {
		return Announcement{}, fmt.Errorf("announcement: mutation returned no row")
	}
	var a Announcement
	if err := json.Unmarshal(records[0], &a); err != nil {
		return Announcement{}, fmt.Errorf("announcement: decode: %w", err)
	}
	return a, nil
}
