// Package document manages member-uploaded files: certificates,
// requirement attachments, and other records kept in private buckets
// and indexed in the documents collection.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"parishly.org/internal/gateway"
	"parishly.org/internal/ids"
)

const collection = "documents"

// Document is the index row for one stored object. AppointmentID is set
// when the document backs a sacrament requirement.
type Document struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	ChurchID      string    `json:"church_id,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	Bucket        string    `json:"bucket"`
	ObjectPath    string    `json:"object_path"`
	ContentType   string    `json:"content_type"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

// kindFor buckets a content type into the coarse kinds the apps filter on.
func kindFor(contentType string) string {
	switch {
	case contentType == "application/pdf":
		return "pdf"
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	default:
		return "file"
	}
}

var (
	ErrInvalidInput = errors.New("document: invalid input")
	ErrNotFound     = errors.New("document: not found")
)

// Data is the record slice of the remote gateway.
type Data interface {
	Query(ctx context.Context, collection string, opts ...gateway.QueryOption) ([]gateway.Record, error)
	Mutate(ctx context.Context, collection string, op gateway.MutateOp, payload any, opts ...gateway.QueryOption) ([]gateway.Record, error)
}

// Blobs is the storage slice: upload, sign, remove.
type Blobs interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) (string, error)
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, bucket, path string) error
}

// Service stores documents and keeps the index rows consistent with the
// underlying objects.
type Service struct {
	data    Data
	blobs   Blobs
	bucket  string
	signTTL time.Duration
}

func NewService(data Data, blobs Blobs, bucket string) *Service {
	return &Service{data: data, blobs: blobs, bucket: bucket, signTTL: 15 * time.Minute}
}

// Upload stores the object first and inserts the index row after, so a
// failed upload leaves no dangling row. A failed insert leaves an
// orphaned object that the backend's retention job sweeps.
func (s *Service) Upload(ctx context.Context, ownerID, churchID, name, contentType string, size int64, r io.Reader) (*Document, error) {
	if name == "" || r == nil {
		return nil, ErrInvalidInput
	}
	path := ids.ObjectName(ownerID, name)
	if _, err := s.blobs.Upload(ctx, s.bucket, path, r, contentType); err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}
	doc := Document{
		ID:          ids.New(),
		OwnerID:     ownerID,
		ChurchID:    churchID,
		Name:        name,
		Kind:        kindFor(contentType),
		Bucket:      s.bucket,
		ObjectPath:  path,
		ContentType: contentType,
		SizeBytes:   size,
	}
	rows, err := s.data.Mutate(ctx, collection, gateway.OpInsert, doc)
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

// ListMine returns the owner's documents, newest first.
func (s *Service) ListMine(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.data.Query(ctx, collection,
		gateway.Eq("owner_id", ownerID),
		gateway.Order("created_at", true),
	)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		var d Document
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// AttachToAppointment links an existing document to a sacrament booking so
// it can back a requirement.
func (s *Service) AttachToAppointment(ctx context.Context, id, appointmentID string) error {
	if appointmentID == "" {
		return ErrInvalidInput
	}
	patch := map[string]any{"appointment_id": appointmentID}
	_, err := s.data.Mutate(ctx, collection, gateway.OpUpdate, patch, gateway.Eq("id", id))
	return err
}

// DownloadURL returns a short-lived signed URL for a private object.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.blobs.SignedURL(ctx, doc.Bucket, doc.ObjectPath, s.signTTL)
}

// Remove deletes the index row first, then the object. The row is the
// source of truth; an object surviving a failed second step is swept by
// retention, while a row without an object would be a visible 404.
func (s *Service) Remove(ctx context.Context, id string) error {
	doc, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.data.Mutate(ctx, collection, gateway.OpDelete, nil, gateway.Eq("id", id)); err != nil {
		return err
	}
	return s.blobs.Remove(ctx, doc.Bucket, doc.ObjectPath)
}

func (s *Service) get(ctx context.Context, id string) (*Document, error) {
	rows, err := s.data.Query(ctx, collection, gateway.Eq("id", id), gateway.Limit(1))
	if err != nil {
		return nil, err
	}
	return decodeOne(rows)
}

func decodeOne(rows []gateway.Record) (*Document, error) {
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var d Document
	if err := json.Unmarshal(rows[0], &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &d, nil
}
