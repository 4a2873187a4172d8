package donation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"parishly.org/internal/gateway"
	"parishly.org/internal/ids"
)

const collection = "donations"

// Data is the record slice of the remote gateway.
type Data interface {
	Query(ctx context.Context, collection string, opts ...gateway.QueryOption) ([]gateway.Record, error)
	Mutate(ctx context.Context, collection string, op gateway.MutateOp, payload any, opts ...gateway.QueryOption) ([]gateway.Record, error)
}

// Blobs is the storage slice used for receipt images.
type Blobs interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) (string, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service declares donations and runs the treasurer verification flow.
type Service struct {
	data   Data
	blobs  Blobs
	bucket string
}

func NewService(data Data, blobs Blobs, receiptBucket string) *Service {
	return &Service{data: data, blobs: blobs, bucket: receiptBucket}
}

// Submit declares a donation. When receipt is non-nil the image is
// uploaded first so the inserted row already carries its URL.
func (s *Service) Submit(ctx context.Context, donorID string, in Input, receipt io.Reader, receiptName, contentType string) (*Donation, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	d := Donation{
		ID:          ids.New(),
		ChurchID:    in.ChurchID,
		DonorID:     donorID,
		AmountMinor: in.AmountMinor,
		Currency:    in.Currency,
		Method:      in.Method,
		Reference:   in.Reference,
		Note:        in.Note,
		Status:      StatusPending,
	}
	if receipt != nil {
		url, err := s.blobs.Upload(ctx, s.bucket, ids.ObjectName(d.ChurchID, receiptName), receipt, contentType)
		if err != nil {
			return nil, fmt.Errorf("upload receipt: %w", err)
		}
		d.ReceiptURL = url
	}
	rows, err := s.data.Mutate(ctx, collection, gateway.OpInsert, d)
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

// Verify marks a pending donation verified, recording the treasurer.
func (s *Service) Verify(ctx context.Context, id, verifierID string) (*Donation, error) {
	return s.decide(ctx, id, verifierID, StatusVerified)
}

// Reject marks a pending donation rejected.
func (s *Service) Reject(ctx context.Context, id, verifierID string) (*Donation, error) {
	return s.decide(ctx, id, verifierID, StatusRejected)
}

func (s *Service) decide(ctx context.Context, id, verifierID string, to Status) (*Donation, error) {
	cur, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPending {
		return nil, ErrBadTransition
	}
	patch := map[string]any{"status": to, "verified_by": verifierID}
	rows, err := s.data.Mutate(ctx, collection, gateway.OpUpdate, patch, gateway.Eq("id", id))
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

// ListMine returns the donor's own declarations, newest first.
func (s *Service) ListMine(ctx context.Context, donorID string) ([]Donation, error) {
	rows, err := s.data.Query(ctx, collection,
		gateway.Eq("donor_id", donorID),
		gateway.Order("created_at", true),
	)
	if err != nil {
		return nil, err
	}
	return decodeAll(rows)
}

// ListForChurch returns a church's donations for review. An empty status
// lists everything.
func (s *Service) ListForChurch(ctx context.Context, churchID string, status Status) ([]Donation, error) {
	opts := []gateway.QueryOption{
		gateway.Eq("church_id", churchID),
		gateway.Order("created_at", true),
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

// VerifiedTotals sums verified amounts per currency for one church.
func (s *Service) VerifiedTotals(ctx context.Context, churchID string) (map[string]int64, error) {
	list, err := s.ListForChurch(ctx, churchID, StatusVerified)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, d := range list {
		totals[d.Currency] += d.AmountMinor
	}
	return totals, nil
}

func (s *Service) get(ctx context.Context, id string) (*Donation, error) {
	rows, err := s.data.Query(ctx, collection, gateway.Eq("id", id), gateway.Limit(1))
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

func decodeOne(rows []gateway.Record) (*Donation, error) {
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var d Donation
	if err := json.Unmarshal(rows[0], &d); err != nil {
		return nil, fmt.Errorf("decode donation: %w", err)
	}
	return &d, nil
}

func decodeAll(rows []gateway.Record) ([]Donation, error) {
	out := make([]Donation, 0, len(rows))
	for _, r := range rows {
		var d Donation
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, fmt.Errorf("decode donation: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
