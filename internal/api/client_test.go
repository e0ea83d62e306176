package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sbaerlocher/tuyametrics/internal/errors"
)

const tokenBody = `{"success":true,"t":1,"result":{"access_token":"tok-1","refresh_token":"ref-1","expire_time":7200,"uid":"u1"}}`

func fastRetry() errors.RetryConfig {
	return errors.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-id", "test-secret", Options{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Retry:   fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func writeToken(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path != "/v1.0/token" {
		return false
	}
	fmt.Fprint(w, tokenBody)
	return true
}

func TestNewClientRegions(t *testing.T) {
	tests := []struct {
		region   string
		expected string
		wantErr  bool
	}{
		{"eu", "https://openapi.tuyaeu.com", false},
		{"US", "https://openapi.tuyaus.com", false},
		{"cn", "https://openapi.tuyacn.com", false},
		{"in", "https://openapi.tuyain.com", false},
		{"", "https://openapi.tuyaeu.com", false},
		{"mars", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.region, func(t *testing.T) {
			c, err := NewClient("id", "secret", Options{Region: tt.region})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.BaseURL() != tt.expected {
				t.Errorf("Expected baseURL %s, got %s", tt.expected, c.BaseURL())
			}
		})
	}
}

func TestNewClientBaseURLOverride(t *testing.T) {
	c, err := NewClient("id", "secret", Options{Region: "mars", BaseURL: "http://localhost:1234/"})
	if err != nil {
		t.Fatalf("Expected base URL to take precedence over region, got %v", err)
	}
	if c.BaseURL() != "http://localhost:1234" {
		t.Errorf("Expected trimmed base URL, got %s", c.BaseURL())
	}
}

func TestGetStatus(t *testing.T) {
	var statusAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		if r.URL.Path != "/v1.0/iot-03/devices/dev1/status" {
			http.NotFound(w, r)
			return
		}
		statusAuth = r.Header.Get("access_token")
		fmt.Fprint(w, `{"success":true,"t":1700000000000,"result":[
			{"code":"load_power","value":1250},
			{"code":"power_mode","value":"inverter_power"},
			{"code":"Switch","value":true}
		]}`)
	}))

	status, err := c.GetStatus(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}

	if statusAuth != "tok-1" {
		t.Errorf("Expected access token tok-1, got %q", statusAuth)
	}
	if !status.Success || status.T != 1700000000000 {
		t.Errorf("Unexpected envelope fields: %+v", status)
	}
	if len(status.Result) != 3 {
		t.Fatalf("Expected 3 datapoints, got %d", len(status.Result))
	}
	if v, ok := status.Result[0].Value.(float64); !ok || v != 1250 {
		t.Errorf("Expected load_power 1250 as float64, got %#v", status.Result[0].Value)
	}
	if v, ok := status.Result[2].Value.(bool); !ok || !v {
		t.Errorf("Expected Switch true, got %#v", status.Result[2].Value)
	}
}

func TestGetStatusMissingResult(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no result", `{"success":true,"t":1}`},
		{"null result", `{"success":true,"result":null}`},
		{"object result", `{"success":true,"result":{"code":"x"}}`},
		{"not json", `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if writeToken(w, r) {
					return
				}
				fmt.Fprint(w, tt.body)
			}))

			_, err := c.GetStatus(context.Background(), "dev1")
			if !stderrors.Is(err, errors.ErrMalformedResponse) {
				t.Errorf("Expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestGetStatusInvalidDeviceID(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	if _, err := c.GetStatus(context.Background(), "../token"); err == nil {
		t.Error("Expected error for invalid device ID")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Expected no request for an invalid device ID")
	}
}

func TestGetStatusVendorError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		fmt.Fprint(w, `{"success":false,"code":2009,"msg":"device is offline"}`)
	}))

	_, err := c.GetStatus(context.Background(), "dev1")
	var apiErr *errors.APIError
	if !stderrors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Code != 2009 || apiErr.Msg != "device is offline" {
		t.Errorf("Unexpected vendor error: %+v", apiErr)
	}
	if apiErr.Retryable {
		t.Error("Expected vendor error not to be retryable")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var statusCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		if atomic.AddInt32(&statusCalls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"success":true,"result":[]}`)
	}))

	status, err := c.GetStatus(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(status.Result) != 0 {
		t.Errorf("Expected empty snapshot, got %v", status.Result)
	}
	if atomic.LoadInt32(&statusCalls) != 3 {
		t.Errorf("Expected 3 status calls, got %d", statusCalls)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var statusCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		atomic.AddInt32(&statusCalls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.GetStatus(context.Background(), "dev1")
	var apiErr *errors.APIError
	if !stderrors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403 APIError, got %v", err)
	}
	if atomic.LoadInt32(&statusCalls) != 1 {
		t.Errorf("Expected a single call, got %d", statusCalls)
	}
}

func TestTokenReuseAndRefresh(t *testing.T) {
	var tokenCalls, statusCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/token" {
			n := atomic.AddInt32(&tokenCalls, 1)
			fmt.Fprintf(w, `{"success":true,"result":{"access_token":"tok-%d","expire_time":7200}}`, n)
			return
		}

		n := atomic.AddInt32(&statusCalls, 1)
		if n == 3 {
			fmt.Fprint(w, `{"success":false,"code":1010,"msg":"token invalid"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"result":[]}`)
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.GetStatus(ctx, "dev1"); err != nil {
			t.Fatalf("GetStatus failed: %v", err)
		}
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Errorf("Expected token to be reused, got %d token calls", tokenCalls)
	}

	if _, err := c.GetStatus(ctx, "dev1"); err != nil {
		t.Fatalf("Expected refresh after invalid token, got %v", err)
	}
	if atomic.LoadInt32(&tokenCalls) != 2 {
		t.Errorf("Expected token refresh, got %d token calls", tokenCalls)
	}
}

func TestGetDevicesPagination(t *testing.T) {
	var rowKeys []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		if r.URL.Path != "/v1.0/iot-01/associated-users/devices" {
			http.NotFound(w, r)
			return
		}
		key := r.URL.Query().Get("last_row_key")
		rowKeys = append(rowKeys, key)

		switch key {
		case "":
			fmt.Fprint(w, `{"success":true,"result":{"has_more":true,"last_row_key":"page2","devices":[
				{"id":"dev1","name":"ATS","category":"kg","online":true},
				{"id":"bad-id!","name":"broken"}
			]}}`)
		default:
			fmt.Fprint(w, `{"success":true,"result":{"has_more":false,"devices":[
				{"id":"dev2","name":"Breaker","category":"dlq","product_name":"Smart Breaker"}
			]}}`)
		}
	}))

	devices, err := c.GetDevices(context.Background())
	if err != nil {
		t.Fatalf("GetDevices failed: %v", err)
	}

	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	if devices[0].ID != "dev1" || !devices[0].Online {
		t.Errorf("Unexpected first device: %+v", devices[0])
	}
	if devices[1].ProductName != "Smart Breaker" {
		t.Errorf("Expected product name, got %+v", devices[1])
	}
	if len(rowKeys) != 2 || rowKeys[1] != "page2" {
		t.Errorf("Expected two pages, got row keys %v", rowKeys)
	}
}

func TestGetFunctions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		if r.URL.Path != "/v1.0/iot-03/devices/dev1/functions" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"success":true,"result":{"category":"dlq","functions":[
			{"code":"switch","type":"Boolean","values":"{}","name":"Switch"}
		]}}`)
	}))

	funcs, err := c.GetFunctions(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetFunctions failed: %v", err)
	}
	if funcs.Category != "dlq" || len(funcs.Functions) != 1 || funcs.Functions[0].Code != "switch" {
		t.Errorf("Unexpected functions: %+v", funcs)
	}
}

func TestTestConnectivity(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, r)
	}))

	ok, err := c.TestConnectivity(context.Background())
	if err != nil || !ok {
		t.Errorf("Expected connectivity, got %v %v", ok, err)
	}

	bad := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"code":1004,"msg":"sign invalid"}`)
	}))

	ok, err = bad.TestConnectivity(context.Background())
	if err == nil || ok {
		t.Error("Expected connectivity test to fail on rejected credentials")
	}
}

func TestConnectivityReusesToken(t *testing.T) {
	var tokenCalls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			atomic.AddInt32(&tokenCalls, 1)
			return
		}
		fmt.Fprint(w, `{"success":true,"result":[]}`)
	}))

	for i := 0; i < 3; i++ {
		if ok, err := c.TestConnectivity(context.Background()); err != nil || !ok {
			t.Fatalf("Expected connectivity, got %v %v", ok, err)
		}
	}
	if _, err := c.GetStatus(context.Background(), "dev1"); err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}

	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Errorf("Expected one token request shared by checks and calls, got %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := c.TestConnectivity(ctx); err == nil || ok {
		t.Error("Expected cancelled context to fail the check")
	}
}

func TestSignedHeaders(t *testing.T) {
	var got http.Header
	var gotURL *url.URL
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if writeToken(w, r) {
			return
		}
		got = r.Header.Clone()
		gotURL = r.URL
		fmt.Fprint(w, `{"success":true,"result":{"devices":[]}}`)
	}))
	c.now = func() time.Time { return time.UnixMilli(1588925778000) }
	c.nonce = func() string { return "fixed-nonce" }

	if _, err := c.GetDevices(context.Background()); err != nil {
		t.Fatalf("GetDevices failed: %v", err)
	}

	if got.Get("client_id") != "test-id" {
		t.Errorf("Expected client_id header, got %q", got.Get("client_id"))
	}
	if got.Get("t") != "1588925778000" {
		t.Errorf("Expected t header, got %q", got.Get("t"))
	}
	if got.Get("sign_method") != "HMAC-SHA256" {
		t.Errorf("Expected sign_method header, got %q", got.Get("sign_method"))
	}

	emptyHash := sha256.Sum256(nil)
	stringToSign := "GET\n" + hex.EncodeToString(emptyHash[:]) + "\n\n" + canonicalPath(gotURL)
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("test-id" + "tok-1" + "1588925778000" + "fixed-nonce" + stringToSign))
	want := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	if got.Get("sign") != want {
		t.Errorf("Expected sign %s, got %s", want, got.Get("sign"))
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"/v1.0/token?grant_type=1", "/v1.0/token?grant_type=1"},
		{"/v1.0/devices?size=100&last_row_key=", "/v1.0/devices?last_row_key=&size=100"},
		{"/v1.0/iot-03/devices/abc/status", "/v1.0/iot-03/devices/abc/status"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			if err != nil {
				t.Fatalf("url.Parse failed: %v", err)
			}
			if got := canonicalPath(u); got != tt.expected {
				t.Errorf("canonicalPath(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}
