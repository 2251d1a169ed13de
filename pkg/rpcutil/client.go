// Package rpcutil is the minimal JSON-RPC transport shared by the
// ServiceChain and ClientChain adapters. It exists so both adapters retry
// failed calls with the same bounded backoff discipline (at least 5
// attempts, at least 10ms apart) instead of each adapter
// reimplementing it, the way an RPC client helper
// centralizes RPC client construction for every command that needs one.
package rpcutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Options configures a Client's transport and retry behaviour.
type Options struct {
	User string
	Pass string

	// MinAttempts is the minimum number of attempts made before a
	// transport error is surfaced; must be >=5.
	MinAttempts uint64
	// InitialInterval is the first retry backoff; must be ≥10ms.
	InitialInterval time.Duration

	HTTPClient *http.Client
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MinAttempts < 5 {
		out.MinAttempts = 5
	}
	if out.InitialInterval < 10*time.Millisecond {
		out.InitialInterval = 10 * time.Millisecond
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return out
}

// Client is a bare-bones JSON-RPC 1.0 style client: POST a
// {"method","params","id"} envelope, read back {"result","error"}.
type Client struct {
	endpoint string
	opts     Options
}

// New returns a Client targeting endpoint.
func New(endpoint string, opts Options) *Client {
	return &Client{endpoint: endpoint, opts: opts.withDefaults()}
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
	ID     int    `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrNotFound is returned by Call when the remote reports a "not found"
// style error; adapters translate it into an (none, nil) result rather
// than retrying it, since "not found" is a valid outcome, not an
// error at all.
var ErrNotFound = fmt.Errorf("rpcutil: not found")

// notFoundCode is the JSON-RPC error code this coordinator's chain daemons
// use for "no such object"; adapters compare against it to distinguish
// ErrNotFound from a genuine transport failure.
const notFoundCode = -5

// Call invokes method with params and decodes the result into out (which
// may be nil for calls with no meaningful result). Every failure other
// than ErrNotFound (transport, 5xx, undecodable reply, JSON-RPC error) is
// retried with exponential backoff bounded by opts; after exhaustion the
// last error is returned wrapped for the caller to classify.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	var body []byte
	op := func() error {
		raw, err := c.doOnce(ctx, method, params)
		if err != nil {
			return err
		}
		body = raw
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // bounded by MinAttempts via backoff.WithMaxRetries below.
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.opts.MinAttempts-1), ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil || err == ErrNotFound { //nolint:errorlint // sentinel comparison is intentional here.
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Unwrap()
		}
		if err == ErrNotFound { //nolint:errorlint // sentinel comparison is intentional here.
			return ErrNotFound
		}
		return err
	}
	if out == nil || body == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) doOnce(ctx context.Context, method string, params any) ([]byte, error) {
	reqBody, err := json.Marshal(request{Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("rpcutil: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("rpcutil: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.User != "" || c.opts.Pass != "" {
		httpReq.SetBasicAuth(c.opts.User, c.opts.Pass)
	}

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpcutil: transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpcutil: read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("rpcutil: server error %d: %s", resp.StatusCode, string(raw))
	}

	var rpcResp response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("rpcutil: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == notFoundCode {
			return nil, ErrNotFound
		}
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
