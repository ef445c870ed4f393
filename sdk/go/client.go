package pestgeniesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal PestGenie HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// TechnicianID is sent as the legacy X-Technician-Id header when no
	// bearer token or API key is set. Dev servers only.
	TechnicianID string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Route represents the API route model (partial).
type Route struct {
	ID           string `json:"id"`
	TechnicianID string `json:"technician_id"`
	Date         string `json:"date"`
	Name         string `json:"name"`
}

// Job represents the API job model.
type Job struct {
	ID             string  `json:"id"`
	RouteID        string  `json:"route_id"`
	Position       int     `json:"position"`
	CustomerName   string  `json:"customer_name"`
	Address        string  `json:"address"`
	ScheduledAt    string  `json:"scheduled_at"`
	Status         string  `json:"status"`
	StartTime      *string `json:"start_time"`
	CompletionTime *string `json:"completion_time"`
	Signature      *string `json:"signature"`
	Notes          string  `json:"notes"`
	PinnedNotes    string  `json:"pinned_notes"`
}

// Screen represents stored screen metadata.
type Screen struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition,omitempty"`
}

// ReasonCode represents a skip/move reason.
type ReasonCode struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Active   bool   `json:"active"`
}

// JournalEntry represents one audit log entry.
type JournalEntry struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Kind         string         `json:"kind"`
	RouteID      string         `json:"route_id"`
	JobID        string         `json:"job_id"`
	TechnicianID string         `json:"technician_id"`
	Payload      map[string]any `json:"payload"`
}

// RouteStatus summarizes a route's job counts by status.
type RouteStatus struct {
	RouteID   string         `json:"route_id"`
	Date      string         `json:"date"`
	JobCounts map[string]int `json:"job_counts"`
}

// SyncAction is one queued device action to replay.
type SyncAction struct {
	Kind      string `json:"kind"`
	EntityID  string `json:"entity_id,omitempty"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SyncActionResult reports the outcome of one replayed action.
type SyncActionResult struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	JobID   string `json:"job_id"`
	Applied bool   `json:"applied"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncResult reports a sync batch outcome.
type SyncResult struct {
	RouteID       string             `json:"route_id"`
	Applied       int                `json:"applied"`
	Rejected      int                `json:"rejected"`
	Results       []SyncActionResult `json:"results"`
	JournalCursor int64              `json:"journal_cursor"`
}

// Principal is the authenticated caller as the server sees it.
type Principal struct {
	TechnicianID string `json:"technician_id"`
	Name         string `json:"name"`
	Source       string `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedJobs wraps job listings with cursors.
type PaginatedJobs struct {
	Items      []Job  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedJournal wraps journal listings with cursors.
type PaginatedJournal struct {
	Items      []JournalEntry `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// DevLogin mints a development JWT and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, technicianID, name string) (string, error) {
	body := map[string]any{
		"technician_id": technicianID,
		"name":          name,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// WhoAmI returns the server's view of the current credentials.
func (c *Client) WhoAmI(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// FetchScreen returns the raw screen payload for device-side decoding.
func (c *Client) FetchScreen(ctx context.Context, name string) ([]byte, error) {
	endpoint := fmt.Sprintf("v0/screens/%s/payload", url.PathEscape(name))
	return c.doRaw(ctx, http.MethodGet, endpoint, nil)
}

// PushScreen uploads a screen definition.
func (c *Client) PushScreen(ctx context.Context, name string, payload []byte) (Screen, error) {
	var resp Screen
	endpoint := fmt.Sprintf("v0/screens/%s", url.PathEscape(name))
	err := c.doBytes(ctx, http.MethodPut, endpoint, payload, &resp)
	return resp, err
}

// CreateRoute creates a route for a technician on a date.
func (c *Client) CreateRoute(ctx context.Context, id, technicianID, date, name string) (Route, error) {
	body := map[string]any{
		"technician_id": technicianID,
		"date":          date,
		"name":          name,
	}
	if id != "" {
		body["id"] = id
	}
	var resp Route
	err := c.do(ctx, http.MethodPost, "v0/routes", body, &resp)
	return resp, err
}

// ListRoutes returns routes, optionally filtered by technician.
func (c *Client) ListRoutes(ctx context.Context, technicianID string) ([]Route, error) {
	endpoint := "v0/routes"
	if technicianID != "" {
		endpoint = fmt.Sprintf("%s?technician_id=%s", endpoint, url.QueryEscape(technicianID))
	}
	var resp []Route
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddJob appends a job to a route.
func (c *Client) AddJob(ctx context.Context, routeID, customerName, address, scheduledAt string) (Job, error) {
	body := map[string]any{
		"customer_name": customerName,
		"address":       address,
		"scheduled_at":  scheduledAt,
	}
	var resp Job
	endpoint := fmt.Sprintf("v0/routes/%s/jobs", url.PathEscape(routeID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Jobs returns a route's jobs in route order.
func (c *Client) Jobs(ctx context.Context, routeID string, limit int) ([]Job, error) {
	page, err := c.JobsPage(ctx, routeID, limit, "")
	return page.Items, err
}

// JobsPage returns a paginated job listing.
func (c *Client) JobsPage(ctx context.Context, routeID string, limit int, cursor string) (PaginatedJobs, error) {
	endpoint := fmt.Sprintf("v0/routes/%s/jobs", url.PathEscape(routeID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedJobs
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RouteStatus returns a route's job counts by status.
func (c *Client) RouteStatus(ctx context.Context, routeID string) (RouteStatus, error) {
	var resp RouteStatus
	endpoint := fmt.Sprintf("v0/routes/%s/status", url.PathEscape(routeID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SyncActions replays a device's queued actions against a route.
func (c *Client) SyncActions(ctx context.Context, routeID string, actions []SyncAction) (SyncResult, error) {
	body := map[string]any{"actions": actions}
	var resp SyncResult
	endpoint := fmt.Sprintf("v0/routes/%s/sync", url.PathEscape(routeID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReasonCodes returns active reason codes, or all when includeInactive.
func (c *Client) ReasonCodes(ctx context.Context, includeInactive bool) ([]ReasonCode, error) {
	endpoint := "v0/reason-codes"
	if includeInactive {
		endpoint += "?all=true"
	}
	var resp []ReasonCode
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Journal returns recent journal entries for a route, newest first.
func (c *Client) Journal(ctx context.Context, routeID string, limit int) ([]JournalEntry, error) {
	page, err := c.JournalPage(ctx, routeID, limit, "", "")
	return page.Items, err
}

// JournalPage returns a paginated journal listing with an optional kind filter.
func (c *Client) JournalPage(ctx context.Context, routeID string, limit int, cursor, kind string) (PaginatedJournal, error) {
	endpoint := fmt.Sprintf("v0/routes/%s/journal", url.PathEscape(routeID))
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if kind != "" {
		params.Set("kind", kind)
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint = endpoint + "?" + encoded
	}
	var resp PaginatedJournal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, &buf, out)
}

func (c *Client) doBytes(ctx context.Context, method, endpoint string, body []byte, out any) error {
	return c.send(ctx, method, endpoint, bytes.NewReader(body), out)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	resp, err := c.roundTrip(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	resp, err := c.roundTrip(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.TechnicianID != "":
		req.Header.Set("X-Technician-Id", c.TechnicianID)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
