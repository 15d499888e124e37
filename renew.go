package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-authgate/session-cli/session"
)

type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ErrRefreshTokenExpired indicates that the refresh token has expired or is invalid
var ErrRefreshTokenExpired = errors.New("refresh token expired or invalid")

// validateTokenResponse validates the OAuth token response
func validateTokenResponse(accessToken, tokenType string, expiresIn int) error {
	if accessToken == "" {
		return errors.New("access_token is empty")
	}

	if len(accessToken) < 10 {
		return fmt.Errorf("access_token is too short (length: %d)", len(accessToken))
	}

	if expiresIn <= 0 {
		return fmt.Errorf("expires_in must be positive, got: %d", expiresIn)
	}

	// Token type is optional in OAuth 2.0, but if present, should be "Bearer"
	if tokenType != "" && tokenType != "Bearer" {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}

	return nil
}

// renewalClient exchanges the stored refresh token for a new access token
// and persists the result. It satisfies session.Renewer; the coordinator
// owns the timeout, so Renew runs on the context it is handed.
type renewalClient struct {
	serverURL string
	clientID  string
	transport session.Transport
	store     *tokenStore
	log       *slog.Logger
}

func newRenewalClient(
	serverURL, clientID string,
	transport session.Transport,
	store *tokenStore,
	log *slog.Logger,
) *renewalClient {
	return &renewalClient{
		serverURL: serverURL,
		clientID:  clientID,
		transport: transport,
		store:     store,
		log:       log,
	}
}

func (rc *renewalClient) Renew(ctx context.Context) error {
	refreshToken := rc.store.RefreshToken()
	if refreshToken == "" {
		return fmt.Errorf("no refresh token saved: %w", ErrRefreshTokenExpired)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", rc.clientID)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		rc.serverURL+"/oauth/token",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Execute request with retry logic
	resp, err := rc.transport.DoWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			// Check if refresh token is expired or invalid
			if errResp.Error == "invalid_grant" || errResp.Error == "invalid_token" {
				return ErrRefreshTokenExpired
			}
			return fmt.Errorf("%s: %s", errResp.Error, errResp.ErrorDescription)
		}
		return fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	// Parse token response
	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
	}

	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}

	// Validate token response
	if err := validateTokenResponse(
		tokenResp.AccessToken,
		tokenResp.TokenType,
		tokenResp.ExpiresIn,
	); err != nil {
		return fmt.Errorf("invalid token response: %w", err)
	}

	// Handle refresh token rotation modes:
	// - Rotation mode: Server returns new refresh_token (use it)
	// - Fixed mode: Server doesn't return refresh_token (preserve old one)
	newRefreshToken := tokenResp.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	storage := &TokenStorage{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: newRefreshToken,
		TokenType:    tokenResp.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		ClientID:     rc.clientID,
	}

	if err := rc.store.Update(storage); err != nil {
		// The session carries on with the in-memory tokens.
		rc.log.Warn("failed to persist renewed tokens", "error", err)
	}
	return nil
}
