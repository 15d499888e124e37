package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/go-authgate/session-cli/tui"
)

// newTestLoginFlow points a flow at the test server. Tests that never reach
// Run leave the store nil.
func newTestLoginFlow(serverURL string, store *tokenStore) *loginFlow {
	return newLoginFlow(serverURL, "test-client", retryClient, store)
}

// slowDownRecorder captures the rearmed polling intervals reported to the
// user. All other display events are dropped.
type slowDownRecorder struct {
	tui.NoopDisplayer
	intervals []time.Duration
}

func (r *slowDownRecorder) PollSlowDown(newInterval time.Duration) {
	r.intervals = append(r.intervals, newInterval)
}

func TestLoginPoll_AuthorizationPending(t *testing.T) {
	attempts := atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)

		// Return authorization_pending for first 2 attempts, then success
		if attempts.Load() < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "authorization_pending",
				"error_description": "User has not yet authorized",
			})
			return
		}

		// Success on 3rd attempt
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "test-access-token",
			"refresh_token": "test-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	deviceAuth := &oauth2.DeviceAuthResponse{
		DeviceCode: "test-device-code",
		Interval:   1, // 1 second for testing
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flow := newTestLoginFlow(server.URL, nil)
	token, err := flow.poll(ctx, deviceAuth, tui.NoopDisplayer{})
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}

	if token.AccessToken != "test-access-token" {
		t.Errorf("Expected access token 'test-access-token', got '%s'", token.AccessToken)
	}

	if attempts.Load() < 3 {
		t.Errorf("Expected at least 3 attempts, got %d", attempts.Load())
	}
}

func TestLoginPoll_SlowDown(t *testing.T) {
	attempts := atomic.Int32{}
	slowDownCount := atomic.Int32{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)

		// Return slow_down for first 2 attempts
		if attempts.Load() <= 2 {
			slowDownCount.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "slow_down",
				"error_description": "Polling too frequently",
			})
			return
		}

		// Return authorization_pending after slow_down
		if attempts.Load() < 5 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "authorization_pending",
				"error_description": "User has not yet authorized",
			})
			return
		}

		// Success
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "test-access-token",
			"refresh_token": "test-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	deviceAuth := &oauth2.DeviceAuthResponse{
		DeviceCode: "test-device-code",
		Interval:   1, // 1 second for testing
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	recorder := &slowDownRecorder{}
	flow := newTestLoginFlow(server.URL, nil)
	token, err := flow.poll(ctx, deviceAuth, recorder)
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}

	if token.AccessToken != "test-access-token" {
		t.Errorf("Expected access token 'test-access-token', got '%s'", token.AccessToken)
	}

	if slowDownCount.Load() < 2 {
		t.Errorf("Expected at least 2 slow_down responses, got %d", slowDownCount.Load())
	}

	// Verify that polling continued after slow_down
	if attempts.Load() < 5 {
		t.Errorf(
			"Expected at least 5 attempts (2 slow_down + 2 pending + 1 success), got %d",
			attempts.Load(),
		)
	}

	// Each slow_down must be surfaced to the user with a growing interval
	if len(recorder.intervals) != int(slowDownCount.Load()) {
		t.Errorf(
			"Expected %d slow_down notices, got %d",
			slowDownCount.Load(),
			len(recorder.intervals),
		)
	}
	for i := 1; i < len(recorder.intervals); i++ {
		if recorder.intervals[i] <= recorder.intervals[i-1] {
			t.Errorf(
				"Expected intervals to grow, got %v then %v",
				recorder.intervals[i-1],
				recorder.intervals[i],
			)
		}
	}
}

func TestLoginPoll_ExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "expired_token",
			"error_description": "Device code has expired",
		})
	}))
	defer server.Close()

	deviceAuth := &oauth2.DeviceAuthResponse{
		DeviceCode: "test-device-code",
		Interval:   1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flow := newTestLoginFlow(server.URL, nil)
	_, err := flow.poll(ctx, deviceAuth, tui.NoopDisplayer{})
	if err == nil {
		t.Fatal("Expected error for expired token, got nil")
	}

	if err.Error() != "device code expired, please restart the flow" {
		t.Errorf("Expected 'device code expired' error, got: %v", err)
	}
}

func TestLoginPoll_AccessDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "access_denied",
			"error_description": "User denied the authorization request",
		})
	}))
	defer server.Close()

	deviceAuth := &oauth2.DeviceAuthResponse{
		DeviceCode: "test-device-code",
		Interval:   1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flow := newTestLoginFlow(server.URL, nil)
	_, err := flow.poll(ctx, deviceAuth, tui.NoopDisplayer{})
	if err == nil {
		t.Fatal("Expected error for access denied, got nil")
	}

	if err.Error() != "user denied authorization" {
		t.Errorf("Expected 'user denied authorization' error, got: %v", err)
	}
}

func TestLoginPoll_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always return pending
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "authorization_pending",
			"error_description": "User has not yet authorized",
		})
	}))
	defer server.Close()

	deviceAuth := &oauth2.DeviceAuthResponse{
		DeviceCode: "test-device-code",
		Interval:   1,
	}

	// Very short timeout to trigger context cancellation
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	flow := newTestLoginFlow(server.URL, nil)
	_, err := flow.poll(ctx, deviceAuth, tui.NoopDisplayer{})
	if err == nil {
		t.Fatal("Expected context timeout error, got nil")
	}

	// Context error should be wrapped in the error chain
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded in error chain, got: %v", err)
	}
}

func TestLoginExchange_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}

		if r.FormValue("grant_type") != "urn:ietf:params:oauth:grant-type:device_code" {
			t.Errorf("Expected device_code grant type, got %s", r.FormValue("grant_type"))
		}

		if r.FormValue("device_code") != "test-device-code" {
			t.Errorf(
				"Expected device_code 'test-device-code', got '%s'",
				r.FormValue("device_code"),
			)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "test-access-token",
			"refresh_token": "test-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	flow := newTestLoginFlow(server.URL, nil)
	token, err := flow.exchange(context.Background(), "test-device-code")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}

	if token.AccessToken != "test-access-token" {
		t.Errorf("Expected access token 'test-access-token', got '%s'", token.AccessToken)
	}

	if token.RefreshToken != "test-refresh-token" {
		t.Errorf("Expected refresh token 'test-refresh-token', got '%s'", token.RefreshToken)
	}

	if token.TokenType != "Bearer" {
		t.Errorf("Expected token type 'Bearer', got '%s'", token.TokenType)
	}
}

// loginRecorder notes the milestones Run reports while driving the flow.
type loginRecorder struct {
	tui.NoopDisplayer
	codeShown   bool
	authSuccess bool
	savedPath   string
}

func (r *loginRecorder) DeviceCodeReady(userCode, verifyURI, verifyURIComplete string, expiry time.Time) {
	r.codeShown = true
}

func (r *loginRecorder) AuthSuccess() { r.authSuccess = true }

func (r *loginRecorder) TokenSaved(path string) { r.savedPath = path }

func TestLoginRun_StoresTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/device/code":
			base := "http://" + r.Host
			json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code":               "test-device-code",
				"user_code":                 "WDJB-MJHT",
				"verification_uri":          base + "/activate",
				"verification_uri_complete": base + "/activate?user_code=WDJB-MJHT",
				"expires_in":                600,
				"interval":                  1,
			})
		case "/oauth/token":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "run-access-token",
				"refresh_token": "run-refresh-token",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := openTokenStore(filepath.Join(t.TempDir(), "tokens.json"), "test-client")
	flow := newTestLoginFlow(server.URL, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recorder := &loginRecorder{}
	if err := flow.Run(ctx, recorder); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !recorder.codeShown {
		t.Error("Expected the device code to be shown to the user")
	}
	if !recorder.authSuccess {
		t.Error("Expected an auth success notice")
	}
	if recorder.savedPath != store.path {
		t.Errorf("Expected tokens saved to %q, got %q", store.path, recorder.savedPath)
	}

	if got := store.AccessToken(); got != "run-access-token" {
		t.Errorf("Expected stored access token 'run-access-token', got '%s'", got)
	}
	current, ok := store.Current()
	if !ok {
		t.Fatal("Expected stored credentials after Run")
	}
	if current.RefreshToken != "run-refresh-token" {
		t.Errorf("Expected stored refresh token 'run-refresh-token', got '%s'", current.RefreshToken)
	}
}
