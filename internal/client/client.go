// ABOUTME: HTTP client for the router and cell gateways
// ABOUTME: Logs in through the router, then talks to the assigned cell with the issued token

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every request when no timeout is configured
const DefaultTimeout = 5 * time.Second

// Errors matched against APIError with errors.Is
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("service unavailable")
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// Session is the result of a login
type Session struct {
	Username    string `json:"-"`
	Token       string `json:"token"`
	CellID      string `json:"cell_id"`
	CellAddress string `json:"cell_address"`
}

// Registration is the result of a register call
type Registration struct {
	Username   string `json:"username"`
	Credential string `json:"credential,omitempty"`
}

// Identity is what /validate reports
type Identity struct {
	Username string `json:"username"`
	CellID   string `json:"cell_id"`
}

// Client talks to the router
type Client struct {
	routerURL  string
	httpClient *http.Client
}

// New creates a Client. A zero timeout uses DefaultTimeout.
func New(routerURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		routerURL:  strings.TrimRight(routerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Register creates a user. An empty credential asks the router to generate one.
func (c *Client) Register(ctx context.Context, username, credential string) (*Registration, error) {
	var out Registration
	body := map[string]string{"username": username, "credential": credential}
	if err := c.do(ctx, c.routerURL+"/register", http.MethodPost, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates and returns the cell session
func (c *Client) Login(ctx context.Context, username, credential string) (*Session, error) {
	var out Session
	body := map[string]string{"username": username, "credential": credential}
	if err := c.do(ctx, c.routerURL+"/login", http.MethodPost, "", body, &out); err != nil {
		return nil, err
	}
	out.Username = username
	return &out, nil
}

// Validate asks the router whether token matches the user's assignment
func (c *Client) Validate(ctx context.Context, token string) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, c.routerURL+"/validate", http.MethodGet, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cells lists the active cell ids
func (c *Client) Cells(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, c.routerURL+"/cells", http.MethodGet, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cell returns a client for the session's cell
func (c *Client) Cell(session *Session) *CellClient {
	return &CellClient{
		baseURL: CellURL(session.CellAddress),
		token:   session.Token,
		parent:  c,
	}
}

// CellURL turns a cell address into a base URL; bare hosts get https
func CellURL(address string) string {
	if strings.Contains(address, "://") {
		return strings.TrimRight(address, "/")
	}
	return "https://" + strings.TrimRight(address, "/")
}

// CellClient talks to one cell gateway with one token
type CellClient struct {
	baseURL string
	token   string
	parent  *Client
}

// Put stores a value
func (cc *CellClient) Put(ctx context.Context, key, value string) error {
	return cc.parent.do(ctx, cc.baseURL+"/put", http.MethodPost, cc.token, map[string]string{"key": key, "value": value}, nil)
}

// Get reads a value; a missing key is ErrNotFound
func (cc *CellClient) Get(ctx context.Context, key string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := cc.parent.do(ctx, cc.baseURL+"/get", http.MethodPost, cc.token, map[string]string{"key": key}, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Delete removes a value
func (cc *CellClient) Delete(ctx context.Context, key string) error {
	return cc.parent.do(ctx, cc.baseURL+"/delete", http.MethodPost, cc.token, map[string]string{"key": key}, nil)
}

// Validate asks the cell who the token belongs to
func (cc *CellClient) Validate(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := cc.parent.do(ctx, cc.baseURL+"/validate", http.MethodGet, cc.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, url, method, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errBody) == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
