package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// QueryBuilder builds a PostgREST request against one table.
type QueryBuilder struct {
	client     *Client
	table      string
	token      string
	columns    string
	filters    []filter
	orders     []string
	limit      int
	offset     int
	single     bool
	onConflict string
}

type filter struct {
	column string
	op     FilterOperator
	value  string
}

// WithToken runs the query under a user's access token so row-level
// security applies. Without it the service key is used.
func (q *QueryBuilder) WithToken(token string) *QueryBuilder {
	q.token = token
	return q
}

// Select sets the column list for reads and the representation for writes.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.Filter(column, OpEq, value)
}

// Is adds an IS filter for null and boolean matches.
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.Filter(column, OpIs, value)
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values ...any) *QueryBuilder {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return q.Filter(column, OpIn, "("+strings.Join(parts, ",")+")")
}

// Filter adds an arbitrary PostgREST filter.
func (q *QueryBuilder) Filter(column string, op FilterOperator, value any) *QueryBuilder {
	q.filters = append(q.filters, filter{column: column, op: op, value: fmt.Sprintf("%v", value)})
	return q
}

// Order adds a sort key.
func (q *QueryBuilder) Order(column string, dir OrderDirection) *QueryBuilder {
	q.orders = append(q.orders, column+"."+string(dir))
	return q
}

// Limit caps the result set.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset skips rows.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Single requests exactly one row; zero or many rows is an error.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// OnConflict names the conflict target columns for Upsert.
func (q *QueryBuilder) OnConflict(columns string) *QueryBuilder {
	q.onConflict = columns
	return q
}

func (q *QueryBuilder) requestURL(withQuery bool) string {
	reqURL := q.client.restURL + "/" + q.table
	if !withQuery {
		return reqURL
	}

	params := url.Values{}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		params.Add(f.column, string(f.op)+"."+f.value)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		params.Set("offset", strconv.Itoa(q.offset))
	}
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Get executes a SELECT and decodes the result into dest.
func (q *QueryBuilder) Get(ctx context.Context, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.requestURL(true), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req, q.token)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	body, err := q.client.do(req)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", q.table, err)
	}
	return nil
}

// Insert executes an INSERT, decoding the returned representation into dest
// when dest is non-nil.
func (q *QueryBuilder) Insert(ctx context.Context, data any, dest any) error {
	return q.write(ctx, http.MethodPost, data, dest, false)
}

// Upsert executes an INSERT with duplicate merging on the conflict target.
func (q *QueryBuilder) Upsert(ctx context.Context, data any, dest any) error {
	return q.write(ctx, http.MethodPost, data, dest, true)
}

// Update executes a PATCH over the filtered rows.
func (q *QueryBuilder) Update(ctx context.Context, data any, dest any) error {
	return q.write(ctx, http.MethodPatch, data, dest, false)
}

// Delete removes the filtered rows.
func (q *QueryBuilder) Delete(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, q.requestURL(true), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req, q.token)

	_, err = q.client.do(req)
	return err
}

func (q *QueryBuilder) write(ctx context.Context, method string, data any, dest any, upsert bool) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", q.table, err)
	}

	withQuery := method != http.MethodPost
	reqURL := q.requestURL(withQuery)
	if method == http.MethodPost && q.onConflict != "" {
		reqURL += "?on_conflict=" + url.QueryEscape(q.onConflict)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req, q.token)
	req.Header.Set("Content-Type", "application/json")

	prefer := "return=representation"
	if dest == nil {
		prefer = "return=minimal"
	}
	if upsert {
		prefer = "resolution=merge-duplicates," + prefer
	}
	req.Header.Set("Prefer", prefer)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	body, err := q.client.do(req)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", q.table, err)
	}
	return nil
}

// Count returns the exact number of rows matching the filters.
func (q *QueryBuilder) CountRows(ctx context.Context) (int, error) {
	q.limit = 1
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.requestURL(true), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req, q.token)
	req.Header.Set("Prefer", "count=exact")

	resp, err := q.client.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, parseError(resp.StatusCode, nil)
	}

	// Content-Range: 0-0/42
	cr := resp.Header.Get("Content-Range")
	if i := strings.LastIndexByte(cr, '/'); i >= 0 {
		n, err := strconv.Atoi(cr[i+1:])
		if err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("unexpected content range %q", cr)
}
