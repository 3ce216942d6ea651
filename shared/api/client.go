// shared/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPError is a custom error type for HTTP responses with non-OK status codes.
type HTTPError struct {
	StatusCode int
	Message    string // Server supplied reason, if the body carried one
	URL        string
	Method     string
	RequestID  string // X-Request-ID sent with the failed request, if any
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("HTTP error %d %s from %s %s", e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.URL)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request %s)", e.RequestID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// RequestIDHeader carries a caller chosen id from client to server logs.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID returns a context whose requests carry id in the X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id set by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Common errors for client usage. Use errors.Is for checking.
var (
	ErrNotFound      = fmt.Errorf("resource not found")
	ErrConflict      = fmt.Errorf("resource conflict")
	ErrBadRequest    = fmt.Errorf("bad request")
	ErrUnauthorized  = fmt.Errorf("unauthorized")
	ErrForbidden     = fmt.Errorf("forbidden")
	ErrInternalError = fmt.Errorf("internal server error")
	ErrUnsuccessful  = fmt.Errorf("request reported success=false") // 2xx with {"success": false}
)

// NewDefaultHTTPClient creates a robust http.Client with common timeouts and transport settings.
// This can be used by all API clients.
func NewDefaultHTTPClient() *http.Client {
	return NewHTTPClient(10 * time.Second)
}

// NewHTTPClient is NewDefaultHTTPClient with a caller supplied total request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		// Covers dial, write and read. Poll and mutation contexts may cut it shorter.
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // Pollers hit a single host from several goroutines
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Client is a generic HTTP client for interacting with RESTful APIs.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new API Client. A nil httpClient falls back to NewDefaultHTTPClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewDefaultHTTPClient()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// BaseURL returns the URL every request path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest sends body as JSON and decodes a JSON reply into result.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := fmt.Sprintf("%s%s", c.baseURL, path)
	requestID := RequestIDFrom(ctx)

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, url, err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create %s request for %s: %w", method, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Name the caller's cancellation or deadline rather than the transport symptom.
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%s request to %s cancelled: %w", method, url, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s request to %s timed out: %w", method, url, ctx.Err())
		}
		return fmt.Errorf("failed to send %s request to %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Accepts both {"message": ...} and {"error": ...} bodies.
		var errorResponse struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(bodyBytes) > 0 {
			if jsonErr := json.Unmarshal(bodyBytes, &errorResponse); jsonErr == nil {
				if errorResponse.Error != "" {
					return createHTTPError(resp.StatusCode, errorResponse.Error, url, method, requestID)
				}
				if errorResponse.Message != "" {
					return createHTTPError(resp.StatusCode, errorResponse.Message, url, method, requestID)
				}
			}
			// Plain text from a proxy or load balancer is kept if it is short.
			if len(bodyBytes) < 500 {
				return createHTTPError(resp.StatusCode, string(bodyBytes), url, method, requestID)
			}
		}
		return createHTTPError(resp.StatusCode, "", url, method, requestID)
	}

	if result != nil {
		if resp.StatusCode == http.StatusNoContent { // Nothing to decode
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode %s response from %s: %w", method, url, err)
		}
	}
	return nil
}

// createHTTPError maps common status codes to predefined errors. Both the sentinel and the
// *HTTPError stay reachable through errors.Is and errors.As.
func createHTTPError(statusCode int, message, url, method, requestID string) error {
	httpErr := &HTTPError{StatusCode: statusCode, Message: message, URL: url, Method: method, RequestID: requestID}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, httpErr)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrConflict, httpErr)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %w", ErrBadRequest, httpErr)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, httpErr)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, httpErr)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", ErrInternalError, httpErr)
	default:
		return httpErr // Other statuses carry no sentinel
	}
}

// Get performs a GET request and decodes the reply into result.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, result)
}

// Post sends body and decodes the reply into result, which may be nil.
func (c *Client) Post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.doRequest(ctx, http.MethodPost, path, body, result)
}

func (c *Client) Put(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.doRequest(ctx, http.MethodPut, path, body, result)
}

// Delete performs a DELETE request. result may be nil.
func (c *Client) Delete(ctx context.Context, path string, result interface{}) error {
	return c.doRequest(ctx, http.MethodDelete, path, nil, result)
}

// IsHTTPError checks if an error is an HTTPError and optionally matches status code.
func IsHTTPError(err error, status int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return status == 0 || httpErr.StatusCode == status
	}
	return false
}

// GetHTTPStatusCode extracts the status code from an HTTPError if present.
func GetHTTPStatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
