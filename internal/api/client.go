package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Client is a thin HTTP client for the SecureMail REST API.
// It handles Bearer token authentication, JSON marshaling and the
// classification of failures into NetworkError, ProtocolError and
// UnauthorizedError. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new SecureMail HTTP client. The baseURL should be
// the root URL of the deployment (e.g., https://mail.example.com); API
// paths such as /api/messages are appended to it.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the root URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs an HTTP GET request and unmarshals the JSON response.
// An empty token sends the request without credentials.
func (c *Client) Get(
	ctx context.Context,
	path string,
	token string,
	result interface{},
) error {
	return c.do(ctx, http.MethodGet, path, token, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(
	ctx context.Context,
	path string,
	token string,
	body interface{},
	result interface{},
) error {
	return c.do(ctx, http.MethodPost, path, token, body, result)
}

// Delete performs an HTTP DELETE request and unmarshals the JSON response.
func (c *Client) Delete(
	ctx context.Context,
	path string,
	token string,
	result interface{},
) error {
	return c.do(ctx, http.MethodDelete, path, token, nil, result)
}

// RawResponse is a successful response whose body is not JSON.
type RawResponse struct {
	Header http.Header
	Body   []byte
}

// GetRaw performs an HTTP GET request and returns the raw response body.
// This is used for binary endpoints such as attachment downloads.
func (c *Client) GetRaw(
	ctx context.Context,
	path string,
	token string,
) (*RawResponse, error) {
	resp, body, err := c.send(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	return &RawResponse{Header: resp.Header, Body: body}, nil
}

// do is the core JSON method: it sends the request and decodes the
// response into result when one is expected.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	token string,
	body interface{},
	result interface{},
) error {
	resp, respBody, err := c.send(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		c.log.Warn().
			Err(err).
			Str("method", method).
			Str("path", path).
			Msg("undecodable response body")
		return &ProtocolError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("unreadable response from %s %s", method, path),
		}
	}

	return nil
}

// send builds and executes one request. It returns the response with
// its body already read, or a classified error.
func (c *Client) send(
	ctx context.Context,
	method string,
	path string,
	token string,
	body interface{},
) (*http.Response, []byte, error) {
	url := c.baseURL + path
	op := method + " " + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().
			Err(err).
			Str("request_id", requestID).
			Str("op", op).
			Msg("request failed")
		return nil, nil, &NetworkError{Op: op, Err: err}
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, nil, &NetworkError{Op: op, Err: readErr}
	}

	c.log.Debug().
		Str("request_id", requestID).
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		msg := NormalizeErrorBody(respBody)
		if msg == "" {
			msg = "session expired"
		}
		return nil, nil, &UnauthorizedError{Message: msg}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &ProtocolError{
			Status:  resp.StatusCode,
			Message: NormalizeErrorBody(respBody),
		}
	}

	return resp, respBody, nil
}
