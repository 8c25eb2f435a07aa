package restclient

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

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single request when the caller passes no per-call
// timeout.
const DefaultTimeout = 30 * time.Second

// ServerError is returned when the remote endpoint replied with an HTTP error
// status.  The body is carried verbatim so callers can surface the remote
// message.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server responded with status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is returned when the remote endpoint replied successfully but
// the body could not be decoded as the expected type.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	DefaultTimeout time.Duration
	Logger         *zap.Logger
}

// Client is a thin request/response wrapper around a single endpoint set.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	defaultTimeout time.Duration
	logger         *zap.Logger
}

func NewClient(opts *Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient:     httpClient,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// BaseURL returns the endpoint this client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, params url.Values, body io.Reader) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request",
		zap.String("method", method),
		zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("unexpected close error", zap.Error(closeErr))
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &ServerError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	return respBody, nil
}

// GetText performs a GET and returns the response body as text.
func (c *Client) GetText(ctx context.Context, path string, timeout time.Duration, params url.Values) (string, error) {
	respBody, err := c.do(ctx, http.MethodGet, path, timeout, params, nil)
	if err != nil {
		return "", err
	}

	return string(respBody), nil
}

// GetJSON performs a GET and decodes the JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	respBody, err := c.do(ctx, http.MethodGet, path, timeout, nil, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}

	return nil
}

// PutJSON performs a PUT with a JSON-encoded body and, when out is non-nil,
// decodes the JSON response into it.
func (c *Client) PutJSON(ctx context.Context, path string, body any, timeout time.Duration, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body for %s: %w", path, err)
	}

	respBody, err := c.do(ctx, http.MethodPut, path, timeout, nil, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}

	return nil
}
