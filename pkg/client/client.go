package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	// Code is the rejection code for refused transitions, empty otherwise.
	Code    string
	Message string
	// Committed is set when the transition was stored but a follow-up step
	// (audit, evidence) failed.
	Committed bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("lifecycled %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("lifecycled %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Resource is a governed resource.
type Resource struct {
	EntityType       string         `json:"entityType"`
	ID               string         `json:"id"`
	ResourceEntityID string         `json:"resourceEntityId"`
	State            string         `json:"state"`
	Version          int64          `json:"version"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// CreateResourceRequest is the payload for CreateResource.
type CreateResourceRequest struct {
	EntityType       string         `json:"entityType"`
	ID               string         `json:"id,omitempty"`
	ResourceEntityID string         `json:"resourceEntityId,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// Artifact is evidence attached to a transition. Set SHA256 for a digest
// computed elsewhere, or Content to have the server hash it.
type Artifact struct {
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	Content   string `json:"content,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
}

// TransitionRequest is the payload for ApplyTransition.
type TransitionRequest struct {
	Target    string         `json:"target"`
	Payload   map[string]any `json:"payload,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
}

// Event is a rendered event.
type Event struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data,omitempty"`
}

// Result is the engine's verdict on one edge.
type Result struct {
	From             string  `json:"from"`
	To               string  `json:"to"`
	Label            string  `json:"label,omitempty"`
	Events           []Event `json:"events,omitempty"`
	EvidenceRequired bool    `json:"evidenceRequired"`
	// Timeout is in nanoseconds.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// AuditRecord is one link of the audit chain.
type AuditRecord struct {
	Index int `json:"index"`
	Entry struct {
		ID             string    `json:"id"`
		ActorID        string    `json:"actorId"`
		Role           string    `json:"role"`
		EntityType     string    `json:"entityType"`
		TargetEntityID string    `json:"targetEntityId"`
		FromState      string    `json:"fromState"`
		ToState        string    `json:"toState"`
		Label          string    `json:"label"`
		Timestamp      time.Time `json:"timestamp"`
	} `json:"entry"`
	DataHash string `json:"dataHash"`
	PrevHash string `json:"prevHash"`
	Hash     string `json:"hash"`
}

// ApplyResult is the outcome of an accepted transition. Pack and Seal are
// kept raw so they can be written to disk or re-verified byte for byte.
type ApplyResult struct {
	Resource *Resource       `json:"resource"`
	Result   Result          `json:"result"`
	Audit    *AuditRecord    `json:"audit,omitempty"`
	Pack     json.RawMessage `json:"pack,omitempty"`
	Seal     json.RawMessage `json:"seal,omitempty"`
	Attempts int             `json:"attempts"`
}

// Available is the response of AvailableTransitions.
type Available struct {
	State       string   `json:"state"`
	Version     int64    `json:"version"`
	Transitions []Result `json:"transitions"`
}

// Mismatch names a diverging seal field.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerifyResult is the server's verdict on a pack and seal.
type VerifyResult struct {
	Valid         bool       `json:"valid"`
	Verdict       string     `json:"verdict"`
	Authenticated bool       `json:"authenticated"`
	Reason        string     `json:"reason"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
	PackID        string     `json:"packId,omitempty"`

	SignatureUnconfirmed bool `json:"signatureUnconfirmed,omitempty"`
}

// AuditOverview is the chain length and tip hash.
type AuditOverview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Client calls a lifecycled server.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	cache       *machineCache // nil = no caching
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an actor token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCacheTTL caches machine descriptions for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", ttl)
		}
		c.cache = newMachineCache(ttl)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the server at base.
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(tok))
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func resourcePath(entityType, id string) string {
	return "/api/v1/resources/" + url.PathEscape(entityType) + "/" + url.PathEscape(id)
}

// CreateResource creates a resource in its machine's initial state.
func (c *Client) CreateResource(ctx context.Context, req CreateResourceRequest) (*Resource, error) {
	var out Resource
	if err := c.call(ctx, http.MethodPost, "/api/v1/resources", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetResource fetches a resource.
func (c *Client) GetResource(ctx context.Context, entityType, id string) (*Resource, error) {
	var out Resource
	if err := c.call(ctx, http.MethodGet, resourcePath(entityType, id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AvailableTransitions lists the transitions the caller could take now.
func (c *Client) AvailableTransitions(ctx context.Context, entityType, id string) (*Available, error) {
	var out Available
	if err := c.call(ctx, http.MethodGet, resourcePath(entityType, id)+"/transitions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyTransition moves a resource to req.Target. A committed transition
// whose follow-up failed returns both the partial result and an *APIError
// with Committed set.
func (c *Client) ApplyTransition(ctx context.Context, entityType, id string, req TransitionRequest) (*ApplyResult, error) {
	status, body, err := c.roundTrip(ctx, http.MethodPost, resourcePath(entityType, id)+"/transitions", req)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		apiErr := decodeError(status, body)
		if apiErr.Committed {
			var partial struct {
				Result *ApplyResult `json:"result"`
			}
			_ = json.Unmarshal(body, &partial)
			return partial.Result, apiErr
		}
		return nil, apiErr
	}
	var out ApplyResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode transition response: %w", err)
	}
	return &out, nil
}

// History returns a resource's audit records, oldest first.
func (c *Client) History(ctx context.Context, entityType, id string) ([]AuditRecord, error) {
	var out struct {
		Records []AuditRecord `json:"records"`
	}
	if err := c.call(ctx, http.MethodGet, resourcePath(entityType, id)+"/audit", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// ListMachines returns the entity types the server governs.
func (c *Client) ListMachines(ctx context.Context) ([]string, error) {
	var out struct {
		Machines []string `json:"machines"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/machines", nil, &out); err != nil {
		return nil, err
	}
	return out.Machines, nil
}

// DescribeMachine returns the JSON description of a machine.
func (c *Client) DescribeMachine(ctx context.Context, entityType string) (json.RawMessage, error) {
	if c.cache != nil {
		if v, ok := c.cache.get(entityType); ok {
			return v, nil
		}
	}
	var out json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/api/v1/machines/"+url.PathEscape(entityType), nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(entityType, out)
	}
	return out, nil
}

// AuditOverview returns the audit chain length and root hash.
func (c *Client) AuditOverview(ctx context.Context) (*AuditOverview, error) {
	var out AuditOverview
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAudit walks the audit chain server side. A broken chain is reported
// as valid=false with the reason, not as an error.
func (c *Client) VerifyAudit(ctx context.Context) (bool, string, error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit/verify", nil, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// AuditEntry returns the audit record at idx.
func (c *Client) AuditEntry(ctx context.Context, idx int) (*AuditRecord, error) {
	var out AuditRecord
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit/entries/"+strconv.Itoa(idx), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifySeal asks the server to verify pack against seal.
func (c *Client) VerifySeal(ctx context.Context, pack, seal json.RawMessage, requireSignature bool) (*VerifyResult, error) {
	req := map[string]any{"pack": pack, "seal": seal, "requireSignature": requireSignature}
	var out VerifyResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/evidence/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEvidence fetches a stored pack and seal with a fresh verification.
func (c *Client) GetEvidence(ctx context.Context, packID string) (pack, seal json.RawMessage, res *VerifyResult, err error) {
	var out struct {
		Pack         json.RawMessage `json:"pack"`
		Seal         json.RawMessage `json:"seal"`
		Verification VerifyResult    `json:"verification"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/evidence/"+url.PathEscape(packID), nil, &out); err != nil {
		return nil, nil, nil, err
	}
	return out.Pack, out.Seal, &out.Verification, nil
}

// Ready reports whether the server's dependencies are healthy.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	status, _, err := c.roundTrip(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// call performs a request and decodes a 2xx JSON body into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	status, body, err := c.roundTrip(ctx, method, path, in)
	if err != nil {
		return err
	}
	if status >= 300 {
		return decodeError(status, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// roundTrip executes a request, attaching the Bearer token if present, and
// returns the status and body without interpreting either.
func (c *Client) roundTrip(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeError(status int, body []byte) *APIError {
	var payload struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		Committed bool   `json:"committed"`
		Rejection *struct {
			Message string `json:"message"`
		} `json:"rejection"`
	}
	apiErr := &APIError{Status: status, Message: string(body)}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Committed = payload.Committed
		switch {
		case payload.Rejection != nil && payload.Rejection.Message != "":
			apiErr.Message = payload.Rejection.Message
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}

// --- simple in-memory machine description cache ---

type cacheEntry struct {
	value     json.RawMessage
	expiresAt time.Time
}

type machineCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newMachineCache(ttl time.Duration) *machineCache {
	return &machineCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (mc *machineCache) get(key string) (json.RawMessage, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	e, ok := mc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (mc *machineCache) set(key string, value json.RawMessage) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries[key] = &cacheEntry{value: value, expiresAt: time.Now().Add(mc.ttl)}
}
