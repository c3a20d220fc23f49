// Package supabase talks to the hosted record store over its PostgREST and
// storage HTTP APIs.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	restPrefix    = "/rest/v1/"
	storagePrefix = "/storage/v1/object/"

	preferRepresentation = "return=representation"
	preferMinimal        = "return=minimal"

	maxResponseBytes = 2 * 1024 * 1024
)

type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// RequestError describes a failed call. Temporary errors are worth retrying later.
type RequestError struct {
	Op         string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.StatusCode)
	default:
		return e.Op
	}
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTemporary reports whether err is a network failure or a retryable status.
func IsTemporary(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Temporary
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func NewClient(baseURL, serviceKey string, timeout time.Duration) (*Client, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	trimmedKey := strings.TrimSpace(serviceKey)
	if trimmedURL == "" || trimmedKey == "" {
		return nil, &RequestError{
			Op:  "create record store client",
			Err: errors.New("record store url or service key is empty"),
		}
	}

	parsed, err := url.Parse(trimmedURL)
	if err != nil {
		return nil, &RequestError{Op: "parse record store url", Err: err}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, &RequestError{
			Op:  "validate record store url",
			Err: fmt.Errorf("invalid record store url: %s", trimmedURL),
		}
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(trimmedURL, "/"),
		serviceKey: trimmedKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	header      http.Header
}

func (c *Client) restJSON(ctx context.Context, op, method, table string, query url.Values, prefer string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &RequestError{Op: op, Err: fmt.Errorf("marshal request body: %w", err)}
		}
		payload = raw
	}

	header := http.Header{}
	if prefer != "" {
		header.Set("Prefer", prefer)
	}

	status, resp, err := c.do(ctx, request{
		op:          op,
		method:      method,
		path:        restPrefix + table,
		query:       query,
		body:        payload,
		contentType: "application/json",
		header:      header,
	})
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return &RequestError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, r request) (int, []byte, error) {
	if c == nil || c.httpClient == nil {
		return 0, nil, &RequestError{Op: r.op, Err: errors.New("record store client is not initialized")}
	}

	fullURL := c.baseURL + r.path
	if len(r.query) > 0 {
		fullURL += "?" + r.query.Encode()
	}

	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, body)
	if err != nil {
		return 0, nil, &RequestError{Op: r.op, Err: err}
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &RequestError{Op: r.op, Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &RequestError{Op: r.op, StatusCode: resp.StatusCode, Temporary: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, raw, &RequestError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Temporary:  isTemporaryStatus(resp.StatusCode),
			Err:        errors.New(msg),
		}
	}
	return resp.StatusCode, raw, nil
}

func isTemporaryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
