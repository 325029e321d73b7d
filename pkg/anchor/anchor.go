// Package anchor submits trace hashes to an external timestamping service.
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MemoPrefix tags anchored hashes in the service memo.
const MemoPrefix = "TRACE:"

// DefaultAction is the wallet action invoked when none is configured.
const DefaultAction = "memo"

// ErrConfigIncomplete is returned before any network call when the client
// lacks a base URL, user or token.
var ErrConfigIncomplete = errors.New("anchor: base url, user and token are required")

// ServiceError is a non-successful response from the anchoring service.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("anchor service returned %d: %s", e.Status, e.Body)
}

// Receipt is the service's acknowledgement of an anchored hash.
type Receipt struct {
	Reference string
	Raw       []byte
}

// Client submits a trace hash and returns the service receipt.
type Client interface {
	Submit(ctx context.Context, hash string) (Receipt, error)
}

// HTTPClient talks to a wallet-style HTTP API.
type HTTPClient struct {
	BaseURL string
	User    string
	Token   string
	Action  string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, user, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		User:    user,
		Token:   token,
		Action:  DefaultAction,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type submitRequest struct {
	Memo      string `json:"memo"`
	TraceHash string `json:"trace_hash"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	TxID      string `json:"tx_id"`
	Reference string `json:"reference"`
}

func (c *HTTPClient) endpoint() string {
	action := c.Action
	if action == "" {
		action = DefaultAction
	}
	return strings.TrimRight(c.BaseURL, "/") + "/wallets/" + url.PathEscape(c.User) + "/actions/" + url.PathEscape(action)
}

// Submit posts the hash. Only a 200 response with success true is a receipt.
func (c *HTTPClient) Submit(ctx context.Context, hash string) (Receipt, error) {
	if c.BaseURL == "" || c.User == "" || c.Token == "" {
		return Receipt{}, ErrConfigIncomplete
	}

	payload, err := json.Marshal(submitRequest{Memo: MemoPrefix + hash, TraceHash: hash})
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to marshal anchor payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to reach anchor service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to read anchor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, &ServiceError{Status: resp.StatusCode, Body: string(body)}
	}

	var out submitResponse
	if err := json.Unmarshal(body, &out); err != nil || !out.Success {
		return Receipt{}, &ServiceError{Status: resp.StatusCode, Body: string(body)}
	}

	ref := out.Signature
	if ref == "" {
		ref = out.TxID
	}
	if ref == "" {
		ref = out.Reference
	}
	return Receipt{Reference: ref, Raw: body}, nil
}

// Fake is an in-memory Client. Err, when set, is returned for every call.
type Fake struct {
	mu        sync.Mutex
	Err       error
	Submitted []string
}

func (f *Fake) Submit(ctx context.Context, hash string) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	f.Submitted = append(f.Submitted, hash)
	if f.Err != nil {
		return Receipt{}, f.Err
	}
	return Receipt{Reference: "fake-" + hash[:min(8, len(hash))]}, nil
}

// Hashes returns a copy of the submitted hashes.
func (f *Fake) Hashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Submitted...)
}
