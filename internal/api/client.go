// Package api provides HTTP client functionality for interacting with the Tuya cloud OpenAPI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sbaerlocher/tuyametrics/internal/errors"
	"github.com/sbaerlocher/tuyametrics/internal/metrics"
	"github.com/sbaerlocher/tuyametrics/internal/types"
	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

const (
	tokenPath     = "/v1.0/token?grant_type=1"
	devicesPath   = "/v1.0/iot-01/associated-users/devices"
	devicePath    = "/v1.0/iot-03/devices/"
	devicesPage   = 100
	maxErrorBody  = 1024
	signMethod    = "HMAC-SHA256"
	defaultRegion = "eu"
)

// vendor error code for an expired or revoked access token
const codeTokenInvalid = 1010

var regionHosts = map[string]string{
	"eu": "https://openapi.tuyaeu.com",
	"us": "https://openapi.tuyaus.com",
	"cn": "https://openapi.tuyacn.com",
	"in": "https://openapi.tuyain.com",
}

// Regions returns the supported region codes.
func Regions() []string {
	return []string{"cn", "eu", "in", "us"}
}

// BaseURLForRegion returns the OpenAPI host of a region.
func BaseURLForRegion(region string) (string, error) {
	host, ok := regionHosts[strings.ToLower(strings.TrimSpace(region))]
	if !ok {
		return "", fmt.Errorf("unknown region %q", region)
	}
	return host, nil
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	Region     string
	BaseURL    string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	Retry      errors.RetryConfig
	HTTPClient *http.Client
}

// Client talks to the Tuya OpenAPI. Requests are signed, rate limited and
// retried on transient failures. The access token is fetched lazily and reused
// until it expires.
type Client struct {
	clientID   string
	secret     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      errors.RetryConfig
	timeout    time.Duration

	mu     sync.Mutex
	tokens oauth2.TokenSource

	now   func() time.Time
	nonce func() string
}

// NewClient creates a new cloud API client for a project's access id and secret.
func NewClient(clientID, secret string, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		region := opts.Region
		if region == "" {
			region = defaultRegion
		}
		host, err := BaseURLForRegion(region)
		if err != nil {
			return nil, err
		}
		baseURL = host
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  false,
				MaxIdleConnsPerHost: 2,
			},
		}
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = errors.DefaultRetryConfig()
	}

	c := &Client{
		clientID:   clientID,
		secret:     secret,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		retry:      retry,
		timeout:    timeout,
		now:        time.Now,
		nonce:      newNonce,
	}
	c.resetToken()
	return c, nil
}

// BaseURL returns the API host the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetStatus returns the latest datapoint snapshot of a device.
func (c *Client) GetStatus(ctx context.Context, deviceID string) (*device.Status, error) {
	id, err := types.NewDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	var datapoints []device.Datapoint
	env, err := c.call(ctx, http.MethodGet, devicePath+id.String()+"/status", "status", &datapoints)
	if err != nil {
		return nil, err
	}

	return &device.Status{Result: datapoints, Success: env.Success, T: env.T}, nil
}

// GetFunctions returns the instruction set a device accepts.
func (c *Client) GetFunctions(ctx context.Context, deviceID string) (*device.Functions, error) {
	id, err := types.NewDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	var funcs device.Functions
	if _, err := c.call(ctx, http.MethodGet, devicePath+id.String()+"/functions", "functions", &funcs); err != nil {
		return nil, err
	}
	return &funcs, nil
}

type devicesPageResult struct {
	Devices    []device.Device `json:"devices"`
	HasMore    bool            `json:"has_more"`
	LastRowKey string          `json:"last_row_key"`
}

// GetDevices lists every device linked to the cloud project, following pagination.
func (c *Client) GetDevices(ctx context.Context) ([]device.Device, error) {
	var out []device.Device
	lastRowKey := ""

	for {
		q := url.Values{}
		q.Set("size", strconv.Itoa(devicesPage))
		q.Set("last_row_key", lastRowKey)

		var page devicesPageResult
		if _, err := c.call(ctx, http.MethodGet, devicesPath+"?"+q.Encode(), "devices", &page); err != nil {
			return nil, err
		}

		for _, d := range page.Devices {
			if err := d.Validate(); err != nil {
				slog.Warn("skipping device with invalid ID", "device_id", d.ID, "error", err)
				continue
			}
			out = append(out, d)
		}

		if !page.HasMore || page.LastRowKey == "" || page.LastRowKey == lastRowKey {
			break
		}
		lastRowKey = page.LastRowKey
	}

	slog.Debug("cloud device listing complete", "device_count", len(out))
	return out, nil
}

// TestConnectivity checks that the API is reachable and accepts the credentials.
// A token that is still valid is reused, so repeated probes cost no API call.
func (c *Client) TestConnectivity(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := c.token(); err != nil {
		return false, fmt.Errorf("connectivity test failed: %w", err)
	}
	return true, nil
}

// envelope is the wrapper around every OpenAPI response.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

// call performs a signed request with retries and decodes the result into out.
func (c *Client) call(ctx context.Context, method, path, endpoint string, out any) (*envelope, error) {
	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.CalculateDelay(attempt - 1)
			metrics.RetryAttempts.WithLabelValues(endpoint).Inc()
			slog.Debug("retrying cloud API call", "endpoint", endpoint, "attempt", attempt, "delay", delay, "error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		env, err := c.doOnce(ctx, method, path, endpoint, true)
		if err == nil {
			if err := decodeResult(env, endpoint, out); err != nil {
				return nil, err
			}
			return env, nil
		}
		lastErr = err

		if isTokenInvalid(err) && !tokenRefreshed {
			slog.Info("access token rejected, refreshing", "endpoint", endpoint)
			c.resetToken()
			tokenRefreshed = true
			attempt--
			continue
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path, endpoint string, authed bool) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	accessToken := ""
	if authed {
		tok, err := c.token()
		if err != nil {
			return nil, err
		}
		accessToken = tok.AccessToken
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.signRequest(req, nil, accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APICallDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		apiErr := errors.NewAPIError(endpoint, 0, fmt.Errorf("request failed: %w", err))
		apiErr.Retryable = ctx.Err() == nil
		return nil, apiErr
	}
	defer resp.Body.Close()
	metrics.APICallDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(endpoint, resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", errors.ErrMalformedResponse, err)
	}
	if !env.Success {
		apiErr := errors.NewAPIError(endpoint, resp.StatusCode, nil)
		apiErr.Code = env.Code
		apiErr.Msg = env.Msg
		return nil, apiErr
	}
	return &env, nil
}

func (c *Client) handleAPIError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return errors.NewAPIError(endpoint, resp.StatusCode, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body)))
}

func decodeResult(env *envelope, endpoint string, out any) error {
	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return fmt.Errorf("%w: %s response has no result", errors.ErrMalformedResponse, endpoint)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: %s result: %v", errors.ErrMalformedResponse, endpoint, err)
	}
	return nil
}

func isTokenInvalid(err error) bool {
	apiErr, ok := err.(*errors.APIError)
	return ok && apiErr.Code == codeTokenInvalid
}
