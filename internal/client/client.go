// Package client is a small HTTP client for the consulta API. It keeps the
// session token in a TokenStore and turns non-2xx answers into *APIError.
package client

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
	"time"

	"consulta.cl/internal/customers"
)

// DefaultErrorMessage is used when an error response carries no message.
const DefaultErrorMessage = "Error en API"

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Client talks to one API base URL.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenStore replaces the default in-memory token store.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) {
		if ts != nil {
			c.tokens = ts
		}
	}
}

// New returns a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: parse base URL: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  &MemoryTokens{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tokens returns the token store in use.
func (c *Client) Tokens() TokenStore { return c.tokens }

// Do sends body as JSON to path and decodes a 2xx response into out (when
// out is non-nil). A stored token is sent as a bearer credential.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	token, err := c.tokens.Load()
	if err != nil {
		return fmt.Errorf("client: load token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("client: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || strings.TrimSpace(payload.Error) == "" {
		return DefaultErrorMessage
	}
	return payload.Error
}

// Me is the /auth/me payload.
type Me struct {
	OK    bool   `json:"ok"`
	UID   string `json:"uid"`
	RolID string `json:"rolId"`
}

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, identifier, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	req := map[string]string{"usuarioOEmail": identifier, "password": password}
	if err := c.Do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("client: login response has no token")
	}
	if err := c.tokens.Save(resp.Token); err != nil {
		return "", fmt.Errorf("client: save token: %w", err)
	}
	return resp.Token, nil
}

// Logout forgets the stored token.
func (c *Client) Logout() error { return c.tokens.Clear() }

func (c *Client) Me(ctx context.Context) (Me, error) {
	var me Me
	err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &me)
	return me, err
}

// LookupCustomer fetches the customer with the given rut.
func (c *Client) LookupCustomer(ctx context.Context, rut string) (*customers.Customer, error) {
	var out customers.Customer
	path := "/clientes?" + url.Values{"rut": {rut}}.Encode()
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
