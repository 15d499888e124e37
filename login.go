package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/go-authgate/session-cli/session"
	"github.com/go-authgate/session-cli/tui"
)

// loginFlow obtains first-time credentials through the OAuth device
// authorization grant (RFC 8628). It is the entry point at bootstrap when
// no usable tokens exist, and again when the refresh token dies.
type loginFlow struct {
	oauth     *oauth2.Config
	transport session.Transport
	store     *tokenStore
}

func newLoginFlow(serverURL, clientID string, transport session.Transport, store *tokenStore) *loginFlow {
	return &loginFlow{
		oauth: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: serverURL + "/oauth/device/code",
				TokenURL:      serverURL + "/oauth/token",
			},
			Scopes: []string{"read", "write"},
		},
		transport: transport,
		store:     store,
	}
}

// Run walks the whole grant: request a device code, show it to the user,
// poll until they approve, then store the tokens.
func (f *loginFlow) Run(ctx context.Context, d tui.Displayer) error {
	deviceAuth, err := f.requestCode(ctx)
	if err != nil {
		return fmt.Errorf("device code request failed: %w", err)
	}

	d.DeviceCodeReady(
		deviceAuth.UserCode,
		deviceAuth.VerificationURI,
		deviceAuth.VerificationURIComplete,
		deviceAuth.Expiry,
	)

	d.WaitingForAuth()
	token, err := f.poll(ctx, deviceAuth, d)
	if err != nil {
		return fmt.Errorf("token poll failed: %w", err)
	}
	d.AuthSuccess()

	storage := &TokenStorage{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresAt:    token.Expiry,
		ClientID:     f.oauth.ClientID,
	}
	if err := f.store.Update(storage); err != nil {
		d.TokenSaveFailed(err)
	} else {
		d.TokenSaved(f.store.path)
	}
	return nil
}

// requestCode asks the server for a fresh device and user code pair.
func (f *loginFlow) requestCode(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, deviceCodeRequestTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("client_id", f.oauth.ClientID)
	form.Set("scope", strings.Join(f.oauth.Scopes, " "))

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		f.oauth.Endpoint.DeviceAuthURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.transport.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("device code request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"device code request failed with status %d: %s",
			resp.StatusCode,
			string(body),
		)
	}

	var code struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &code); err != nil {
		return nil, fmt.Errorf("failed to parse device code response: %w", err)
	}

	return &oauth2.DeviceAuthResponse{
		DeviceCode:              code.DeviceCode,
		UserCode:                code.UserCode,
		VerificationURI:         code.VerificationURI,
		VerificationURIComplete: code.VerificationURIComplete,
		Expiry:                  time.Now().Add(time.Duration(code.ExpiresIn) * time.Second),
		Interval:                int64(code.Interval),
	}, nil
}

// poll retries the device_code exchange until the user approves or the code
// dies. Each slow_down answer grows the interval 1.5x, capped at a minute,
// per RFC 8628.
func (f *loginFlow) poll(
	ctx context.Context,
	deviceAuth *oauth2.DeviceAuthResponse,
	d tui.Displayer,
) (*oauth2.Token, error) {
	interval := deviceAuth.Interval
	if interval == 0 {
		interval = 5 // RFC 8628 default
	}

	pollInterval := time.Duration(interval) * time.Second
	backoff := 1.0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-ticker.C:
			token, err := f.exchange(ctx, deviceAuth.DeviceCode)
			if err == nil {
				return token, nil
			}

			var oauthErr *oauth2.RetrieveError
			if !errors.As(err, &oauthErr) {
				return nil, fmt.Errorf("token exchange failed: %w", err)
			}
			var errResp ErrorResponse
			if jsonErr := json.Unmarshal(oauthErr.Body, &errResp); jsonErr != nil {
				return nil, fmt.Errorf("token exchange failed: %w", err)
			}

			switch errResp.Error {
			case "authorization_pending":
				// The user has not approved yet, keep polling.

			case "slow_down":
				backoff *= 1.5
				pollInterval = min(
					time.Duration(float64(pollInterval)*backoff),
					60*time.Second,
				)
				ticker.Reset(pollInterval)
				d.PollSlowDown(pollInterval)

			case "expired_token":
				return nil, errors.New("device code expired, please restart the flow")

			case "access_denied":
				return nil, errors.New("user denied authorization")

			default:
				return nil, fmt.Errorf(
					"authorization failed: %s - %s",
					errResp.Error,
					errResp.ErrorDescription,
				)
			}
		}
	}
}

// exchange performs one device_code grant attempt. Non-200 answers come
// back as *oauth2.RetrieveError so poll can read the OAuth error code.
func (f *loginFlow) exchange(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("device_code", deviceCode)
	form.Set("client_id", f.oauth.ClientID)

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		f.oauth.Endpoint.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.transport.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		}
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if err := validateTokenResponse(
		tokenResp.AccessToken,
		tokenResp.TokenType,
		tokenResp.ExpiresIn,
	); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Expiry:       time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}
