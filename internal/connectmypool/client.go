package connectmypool

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

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Defaults for the cloud API.
const (
	DefaultBaseURL = "https://www.connectmypool.com.au"
	defaultTimeout = 30 * time.Second

	// maxResponseSize bounds a decoded response body.
	maxResponseSize = 1 << 20
)

// Endpoint paths. Every call is a JSON POST.
const (
	pathConfig       = "/api/poolconfig"
	pathStatus       = "/api/poolstatus"
	pathAction       = "/api/poolaction"
	pathActionStatus = "/api/poolactionstatus"
)

// Failure codes with a specific meaning. Anything else maps to pool.ErrUpstream.
const (
	failureInvalidAPICode = 3
	failureAPINotEnabled  = 4
	failureInvalidAPIKey  = 5
	failureThrottled      = 6
	failureNotConnected   = 7
)

// Options configures a Client.
type Options struct {
	BaseURL          string
	APICode          string
	TemperatureScale int
	Timeout          time.Duration

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the ConnectMyPool cloud API for one pool.
//
// The client does no throttling of its own. Callers must space calls out;
// the cloud answers early calls with failure code 6 (pool.ErrThrottled).
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiCode string
	scale   int
	http    *http.Client
}

// FailureError is a failure body returned by the cloud.
// It unwraps to the matching pool sentinel.
type FailureError struct {
	Code        int
	Description string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("connectmypool: failure %d: %s", e.Code, e.Description)
}

// Unwrap maps the failure code onto a pool sentinel.
func (e *FailureError) Unwrap() error {
	switch e.Code {
	case failureInvalidAPICode, failureAPINotEnabled, failureInvalidAPIKey:
		return pool.ErrUnauthorized
	case failureThrottled:
		return pool.ErrThrottled
	case failureNotConnected:
		return pool.ErrPoolNotConnected
	default:
		return pool.ErrUpstream
	}
}

// New creates a Client.
//
// Parameters:
//   - opts: API code (required), base URL, temperature scale, timeout
//
// Returns:
//   - *Client: Ready client; no request is made
//   - error: If the API code is empty or the scale is invalid
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APICode) == "" {
		return nil, errors.New("connectmypool: api code is required")
	}
	if opts.TemperatureScale != pool.ScaleCelsius && opts.TemperatureScale != pool.ScaleFahrenheit {
		return nil, fmt.Errorf("connectmypool: invalid temperature scale %d", opts.TemperatureScale)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiCode: opts.APICode,
		scale:   opts.TemperatureScale,
		http:    httpClient,
	}, nil
}

// TemperatureScale returns the scale the client requests readings in.
func (c *Client) TemperatureScale() int {
	return c.scale
}

// FetchConfiguration reads the pool configuration.
func (c *Client) FetchConfiguration(ctx context.Context) (pool.ConfigPayload, error) {
	var resp configResponse
	if err := c.post(ctx, pathConfig, map[string]any{
		"pool_api_code": c.apiCode,
	}, &resp); err != nil {
		return pool.ConfigPayload{}, fmt.Errorf("fetching configuration: %w", err)
	}
	return resp.toPayload(), nil
}

// FetchStatus reads current pool status in the client's temperature scale.
func (c *Client) FetchStatus(ctx context.Context) (pool.StatusPayload, error) {
	var resp statusResponse
	if err := c.post(ctx, pathStatus, map[string]any{
		"pool_api_code":     c.apiCode,
		"temperature_scale": c.scale,
	}, &resp); err != nil {
		return pool.StatusPayload{}, fmt.Errorf("fetching status: %w", err)
	}
	return resp.toPayload(), nil
}

// Execute sends one action.
func (c *Client) Execute(ctx context.Context, action pool.Action) (pool.ActionReceipt, error) {
	var resp actionResponse
	if err := c.post(ctx, pathAction, map[string]any{
		"pool_api_code":      c.apiCode,
		"action_code":        int(action.Code),
		"device_number":      action.DeviceNumber,
		"value":              action.Value,
		"wait_for_execution": action.WaitForExecution,
		"temperature_scale":  c.scale,
	}, &resp); err != nil {
		return pool.ActionReceipt{}, fmt.Errorf("executing %s: %w", action.Code, err)
	}
	return pool.ActionReceipt{ActionNumber: resp.ActionNumber.v}, nil
}

// ActionStatus reads the execution status of a previously sent action.
// The body is returned undecoded beyond JSON since its fields are not fixed.
func (c *Client) ActionStatus(ctx context.Context, actionNumber int) (map[string]any, error) {
	out := map[string]any{}
	if err := c.post(ctx, pathActionStatus, map[string]any{
		"pool_api_code": c.apiCode,
		"action_number": actionNumber,
	}, &out); err != nil {
		return nil, fmt.Errorf("fetching action status: %w", err)
	}
	return out, nil
}

// post sends body to path and decodes the response into out.
// List responses are normalised to their first element and failure bodies
// become *FailureError.
func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %w", pool.ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", pool.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", pool.ErrUpstream, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", pool.ErrUpstream, err)
	}

	obj, err := normalise(raw)
	if err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: http status %d", pool.ErrUpstream, resp.StatusCode)
		}
		return fmt.Errorf("%w: %w", pool.ErrUpstream, err)
	}

	var f failure
	if err := json.Unmarshal(obj, &f); err == nil && f.Code != nil {
		return &FailureError{Code: f.Code.v, Description: f.Description}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: http status %d", pool.ErrUpstream, resp.StatusCode)
	}

	if err := json.Unmarshal(obj, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", pool.ErrUpstream, err)
	}
	return nil
}

// normalise returns the JSON object in raw, taking the first element of a
// list and treating an empty list as an empty object.
func normalise(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response")
	}
	switch trimmed[0] {
	case '{':
		return trimmed, nil
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decoding list response: %w", err)
		}
		if len(list) == 0 {
			return json.RawMessage("{}"), nil
		}
		first := bytes.TrimSpace(list[0])
		if len(first) == 0 || first[0] != '{' {
			return nil, errors.New("unexpected list element type")
		}
		return first, nil
	default:
		return nil, errors.New("unexpected payload type")
	}
}
