package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"parishly.org/internal/gateway"
)

type call struct {
	collection string
	op         gateway.MutateOp
	payload    any
	query      url.Values
}

// fakeData replays one scripted response per call, in order.
type fakeData struct {
	responses [][]gateway.Record
	err       error
	calls     []call
}

func (f *fakeData) next() []gateway.Record {
	if len(f.responses) == 0 {
		return nil
	}
	rows := f.responses[0]
	f.responses = f.responses[1:]
	return rows
}

func (f *fakeData) Query(ctx context.Context, collection string, opts ...gateway.QueryOption) ([]gateway.Record, error) {
	f.calls = append(f.calls, call{collection: collection, query: applyOpts(opts)})
	return f.next(), f.err
}

func (f *fakeData) Mutate(ctx context.Context, collection string, op gateway.MutateOp, payload any, opts ...gateway.QueryOption) ([]gateway.Record, error) {
	f.calls = append(f.calls, call{collection: collection, op: op, payload: payload, query: applyOpts(opts)})
	return f.next(), f.err
}

func applyOpts(opts []gateway.QueryOption) url.Values {
	v := url.Values{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func rows(t *testing.T, items ...any) []gateway.Record {
	t.Helper()
	out := make([]gateway.Record, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, data)
	}
	return out
}

func fixedService(data *fakeData, at time.Time) *Service {
	svc := NewService(data)
	svc.now = func() time.Time { return at }
	return svc
}

func TestBookInsertsPendingAppointment(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	slot := now.Add(48 * time.Hour)
	data := &fakeData{responses: [][]gateway.Record{rows(t,
		Appointment{ID: "a1", ChurchID: "c1", Sacrament: SacramentBaptism, Status: StatusPending, SlotAt: slot},
	)}}
	svc := fixedService(data, now)

	got, err := svc.Book(context.Background(), "u1", BookingInput{
		ChurchID:  "c1",
		Sacrament: SacramentBaptism,
		SlotAt:    slot,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if len(data.calls) != 1 || data.calls[0].op != gateway.OpInsert {
		t.Fatalf("calls = %+v, want one insert", data.calls)
	}
	sent, ok := data.calls[0].payload.(Appointment)
	if !ok {
		t.Fatalf("payload type %T", data.calls[0].payload)
	}
	if sent.ID == "" {
		t.Fatal("expected client-generated id")
	}
	if sent.RequesterID != "u1" || sent.Status != StatusPending {
		t.Fatalf("payload = %+v", sent)
	}
}

func TestBookRejectsPastSlot(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := fixedService(&fakeData{}, now)

	_, err := svc.Book(context.Background(), "u1", BookingInput{
		ChurchID:  "c1",
		Sacrament: SacramentWedding,
		SlotAt:    now.Add(-time.Hour),
	})
	if !errors.Is(err, ErrPastSlot) {
		t.Fatalf("err = %v, want ErrPastSlot", err)
	}
}

func TestBookRejectsUnknownSacrament(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := fixedService(&fakeData{}, now)

	_, err := svc.Book(context.Background(), "u1", BookingInput{
		ChurchID:  "c1",
		Sacrament: Sacrament("exorcism"),
		SlotAt:    now.Add(time.Hour),
	})
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("err = %v, want ErrUnknownService", err)
	}
}

func TestApproveRequiresPending(t *testing.T) {
	data := &fakeData{responses: [][]gateway.Record{rows(t,
		Appointment{ID: "a1", Status: StatusCancelled},
	)}}
	svc := NewService(data)

	_, err := svc.Approve(context.Background(), "a1", "admin1")
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("err = %v, want ErrBadTransition", err)
	}
	if len(data.calls) != 1 {
		t.Fatalf("expected lookup only, got %d calls", len(data.calls))
	}
}

func TestApproveRecordsReviewer(t *testing.T) {
	data := &fakeData{responses: [][]gateway.Record{
		rows(t, Appointment{ID: "a1", Status: StatusPending}),
		rows(t, Appointment{ID: "a1", Status: StatusApproved, DecidedBy: "admin1"}),
	}}
	svc := NewService(data)

	got, err := svc.Approve(context.Background(), "a1", "admin1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("status = %q, want approved", got.Status)
	}
	update := data.calls[1]
	if update.op != gateway.OpUpdate {
		t.Fatalf("op = %q, want update", update.op)
	}
	if got := update.query.Get("id"); got != "eq.a1" {
		t.Fatalf("id filter = %q", got)
	}
	patch := update.payload.(map[string]any)
	if patch["decided_by"] != "admin1" {
		t.Fatalf("patch = %+v", patch)
	}
}

func TestCancelRejectedIsBadTransition(t *testing.T) {
	data := &fakeData{responses: [][]gateway.Record{rows(t,
		Appointment{ID: "a1", Status: StatusRejected},
	)}}
	svc := NewService(data)

	_, err := svc.Cancel(context.Background(), "a1")
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("err = %v, want ErrBadTransition", err)
	}
}

func TestListForChurchFiltersStatus(t *testing.T) {
	data := &fakeData{responses: [][]gateway.Record{rows(t,
		Appointment{ID: "a1", ChurchID: "c1", Status: StatusPending},
	)}}
	svc := NewService(data)

	got, err := svc.ListForChurch(context.Background(), "c1", StatusPending)
	if err != nil {
		t.Fatalf("ListForChurch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	q := data.calls[0].query
	if q.Get("church_id") != "eq.c1" || q.Get("status") != "eq.pending" {
		t.Fatalf("query = %v", q)
	}
}

func TestChecklistComplete(t *testing.T) {
	cases := []struct {
		name string
		reqs []any
		want bool
	}{
		{"empty checklist", nil, true},
		{"all fulfilled", []any{
			Requirement{ID: "r1", Fulfilled: true},
			Requirement{ID: "r2", Fulfilled: true},
		}, true},
		{"one outstanding", []any{
			Requirement{ID: "r1", Fulfilled: true},
			Requirement{ID: "r2", Fulfilled: false},
		}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			data := &fakeData{responses: [][]gateway.Record{rows(t, tc.reqs...)}}
			svc := NewService(data)
			got, err := svc.ChecklistComplete(context.Background(), "a1")
			if err != nil {
				t.Fatalf("ChecklistComplete: %v", err)
			}
			if got != tc.want {
				t.Fatalf("complete = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFulfillRequirementPatchesDocument(t *testing.T) {
	data := &fakeData{responses: [][]gateway.Record{nil}}
	svc := NewService(data)

	if err := svc.FulfillRequirement(context.Background(), "r1", "https://cdn.example/doc.pdf"); err != nil {
		t.Fatalf("FulfillRequirement: %v", err)
	}
	c := data.calls[0]
	if c.collection != requirementsCollection || c.op != gateway.OpUpdate {
		t.Fatalf("call = %+v", c)
	}
	patch := c.payload.(map[string]any)
	if patch["fulfilled"] != true || patch["document_url"] != "https://cdn.example/doc.pdf" {
		t.Fatalf("patch = %+v", patch)
	}
}
