package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/psantana5/sweepwatch/internal/transport"
	"github.com/psantana5/sweepwatch/pkg/logging"
	"github.com/psantana5/sweepwatch/pkg/retry"
)

// Server endpoints
const (
	PathStatus       = "/api/status"
	PathLogs         = "/api/logs"
	PathTriggerCheck = "/api/trigger-check"
	PathForceClose   = "/api/force-close"
	PathVersion      = "/api/version"
)

// ErrInvalidCredential is returned by Verify when the server rejects the key
var ErrInvalidCredential = errors.New("API key rejected by server")

// Caller performs guarded requests
type Caller interface {
	Call(ctx context.Context, req transport.Request) transport.Result
}

// Client is a typed client for the job server API
type Client struct {
	caller   Caller
	location *time.Location
	logger   *logging.Logger
}

// NewClient creates an API client. loc is the zone the server writes its
// timestamps in; nil means local time.
func NewClient(caller Caller, loc *time.Location, logger *logging.Logger) *Client {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{caller: caller, location: loc, logger: logger.Named("api")}
}

// Location returns the server timestamp zone
func (c *Client) Location() *time.Location {
	return c.location
}

// Status fetches the current job snapshot
func (c *Client) Status(ctx context.Context) (Snapshot, transport.Result) {
	var snap Snapshot
	res := c.caller.Call(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathStatus,
		Decode: func(body []byte, contentType string) error {
			var err error
			snap, err = DecodeSnapshot(body, c.location)
			return err
		},
	})
	return snap, res
}

// Logs fetches the server's most recent log tail
func (c *Client) Logs(ctx context.Context) ([]string, transport.Result) {
	var lines []string
	res := c.caller.Call(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathLogs,
		Decode: func(body []byte, contentType string) error {
			var err error
			lines, err = DecodeLogs(body, contentType)
			return err
		},
	})
	return lines, res
}

// TriggerCheck asks the server to start a run. The response body is not
// meaningful; the run is confirmed by later status polls.
func (c *Client) TriggerCheck(ctx context.Context) transport.Result {
	return c.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: PathTriggerCheck})
}

// ForceClose asks the server to abort the current run
func (c *Client) ForceClose(ctx context.Context) transport.Result {
	return c.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: PathForceClose})
}

// Version fetches the server version
func (c *Client) Version(ctx context.Context) (Version, transport.Result) {
	var v Version
	res := c.caller.Call(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathVersion,
		Decode: func(body []byte, contentType string) error {
			return json.Unmarshal(body, &v)
		},
	})
	return v, res
}

// Verify checks the current credential with one status call, retrying
// transient failures with backoff. A 401 is permanent.
func (c *Client) Verify(ctx context.Context, cfg retry.Config) error {
	retryable := func(err error) bool {
		return !errors.Is(err, ErrInvalidCredential) && !errors.Is(err, transport.ErrNoCredential)
	}
	if cfg.Retryable == nil {
		cfg.Retryable = retryable
	}

	attempt := 0
	return retry.Do(ctx, cfg, func() error {
		attempt++
		_, res := c.Status(ctx)
		switch res.Kind {
		case transport.KindOK:
			return nil
		case transport.KindUnauthorized:
			return ErrInvalidCredential
		case transport.KindUnauthenticated:
			return transport.ErrNoCredential
		default:
			c.logger.Warn("credential check failed, retrying", logging.Fields{"attempt": attempt, "error": res.Err})
			return fmt.Errorf("failed to reach server: %w", res.Err)
		}
	})
}
