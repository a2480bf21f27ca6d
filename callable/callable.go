// Package callable invokes HTTPS callable functions by name.
//
// A call POSTs {"data": <input>} to <baseURL>/<name> and expects either
// {"result": <output>} or {"error": {"status": ..., "message": ...}}.
package callable

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

	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/docpath"
	"github.com/alimasry/go-docwatch/logger"
)

// ErrCall is wrapped by every error reported by the remote function.
var ErrCall = errors.New("callable failed")

// Error is a failure reported by the remote function, or an unexpected HTTP
// status.
type Error struct {
	Name    string
	Status  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("callable %q: %s: %s", e.Name, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return ErrCall }

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     logger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout bounds each call. Zero means no limit beyond the context's.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		cl.log = l
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		log:     logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Func returns a function calling the remote function name. name must be a
// bare function name; a name carrying a path, such as "admin/reset", is
// rejected with docpath.ErrInvalidPath.
func Func[I, O any](c *Client, name string) (func(ctx context.Context, in I) (O, error), error) {
	_, id, err := docpath.SplitWithin(name, "")
	if err != nil {
		return nil, fmt.Errorf("callable %q: %w", name, err)
	}
	url := c.baseURL + "/" + id
	log := c.log.With(zap.String("callable", id))

	return func(ctx context.Context, in I) (O, error) {
		var out O
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		body, err := json.Marshal(request[I]{Data: in})
		if err != nil {
			return out, fmt.Errorf("callable %q: encode request: %w", id, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return out, err
		}
		req.Header.Set("Content-Type", "application/json")

		log.Debug("callable request")
		resp, err := c.http.Do(req)
		if err != nil {
			return out, fmt.Errorf("callable %q: %w", id, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return out, fmt.Errorf("callable %q: read response: %w", id, err)
		}
		var r response[O]
		if err := json.Unmarshal(raw, &r); err != nil {
			if resp.StatusCode != http.StatusOK {
				return out, &Error{Name: id, Status: resp.Status, Message: strings.TrimSpace(string(raw))}
			}
			return out, fmt.Errorf("callable %q: decode response: %w", id, err)
		}
		if r.Error != nil {
			log.Warn("callable returned error", zap.String("status", r.Error.Status), zap.String("message", r.Error.Message))
			return out, &Error{Name: id, Status: r.Error.Status, Message: r.Error.Message}
		}
		if resp.StatusCode != http.StatusOK {
			return out, &Error{Name: id, Status: resp.Status, Message: "unexpected status"}
		}
		return r.Result, nil
	}, nil
}

type request[I any] struct {
	Data I `json:"data"`
}

type response[O any] struct {
	Result O              `json:"result"`
	Error  *responseError `json:"error"`
}

type responseError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
