package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"parishly.org/internal/ids"
)

// Record is one row as the backend returned it. Feature modules own the
// concrete shapes; the gateway passes rows through opaquely.
type Record = json.RawMessage

// MutateOp enumerates the write operations on a collection.
type MutateOp string

const (
	OpInsert MutateOp = "insert"
	OpUpdate MutateOp = "update"
	OpDelete MutateOp = "delete"
)

// QueryOption adds a filter, ordering or projection to a collection read.
// Filters also scope updates and deletes.
type QueryOption func(url.Values)

// Eq filters rows where column equals value.
func Eq(column string, value any) QueryOption {
	return func(v url.Values) { v.Add(column, "eq."+formatValue(value)) }
}

// Neq filters rows where column differs from value.
func Neq(column string, value any) QueryOption {
	return func(v url.Values) { v.Add(column, "neq."+formatValue(value)) }
}

// Gte filters rows where column is at least value.
func Gte(column string, value any) QueryOption {
	return func(v url.Values) { v.Add(column, "gte."+formatValue(value)) }
}

// Lte filters rows where column is at most value.
func Lte(column string, value any) QueryOption {
	return func(v url.Values) { v.Add(column, "lte."+formatValue(value)) }
}

// In filters rows where column is one of values.
func In(column string, values ...any) QueryOption {
	return func(v url.Values) {
		parts := make([]string, len(values))
		for i, val := range values {
			parts[i] = formatValue(val)
		}
		v.Add(column, "in.("+strings.Join(parts, ",")+")")
	}
}

// Order sorts by column; descending when desc is true.
func Order(column string, desc bool) QueryOption {
	dir := "asc"
	if desc {
		dir = "desc"
	}
	return func(v url.Values) { v.Add("order", column+"."+dir) }
}

// Limit caps the number of returned rows.
func Limit(n int) QueryOption {
	return func(v url.Values) { v.Set("limit", strconv.Itoa(n)) }
}

// Select projects columns, including embedded foreign rows
// (e.g. "*,church:churches(name,address)").
func Select(projection string) QueryOption {
	return func(v url.Values) { v.Set("select", projection) }
}

func formatValue(value any) string {
	switch x := value.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Query reads rows from a named collection under the caller's row-level
// authorization. The returned slice is ordered as the backend ordered it.
func (c *Client) Query(ctx context.Context, collection string, opts ...QueryOption) ([]Record, error) {
	if collection == "" {
		return nil, &DataError{Message: "collection is required"}
	}
	query := url.Values{}
	query.Set("select", "*")
	for _, opt := range opts {
		opt(query)
	}

	data, status, err := c.do(ctx, "query:"+collection, http.MethodGet, "/rest/v1/"+collection, query, nil, true)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, dataErrorFromBody(collection, data, status)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("gateway: decode %s rows: %w", collection, err)
	}
	return records, nil
}

// Mutate writes to a named collection. Inserts carry a generated
// idempotency key so a retried request cannot duplicate the row; updates and
// deletes are scoped by the filter options. The affected rows come back via
// return=representation.
func (c *Client) Mutate(ctx context.Context, collection string, op MutateOp, payload any, opts ...QueryOption) ([]Record, error) {
	if collection == "" {
		return nil, &DataError{Message: "collection is required"}
	}
	query := url.Values{}
	for _, opt := range opts {
		opt(query)
	}

	var method string
	switch op {
	case OpInsert:
		method = http.MethodPost
	case OpUpdate:
		method = http.MethodPatch
		if len(query) == 0 {
			return nil, &DataError{Collection: collection, Message: "update requires a filter"}
		}
	case OpDelete:
		method = http.MethodDelete
		payload = nil
		if len(query) == 0 {
			return nil, &DataError{Collection: collection, Message: "delete requires a filter"}
		}
	default:
		return nil, &DataError{Collection: collection, Message: fmt.Sprintf("unknown op %q", op)}
	}

	headers := http.Header{"Prefer": {"return=representation"}}
	if op == OpInsert {
		headers.Set("Idempotency-Key", ids.NewIdempotencyKey())
	}
	data, status, err := c.do(ctx, "mutate:"+collection, method, "/rest/v1/"+collection, query, payload, true, headers)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, dataErrorFromBody(collection, data, status)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("gateway: decode %s result: %w", collection, err)
	}
	return records, nil
}

func dataErrorFromBody(collection string, data []byte, status int) error {
	return &DataError{Status: status, Collection: collection, Message: errorMessage(data)}
}
