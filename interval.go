package main

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-authgate/session-cli/session"
)

// minRefreshInterval keeps an absurdly short-lived token from turning the
// scheduler into a renewal hammer.
const minRefreshInterval = 30 * time.Second

// chooseRefreshInterval picks the proactive renewal period. An explicit
// configuration wins. Otherwise the access token's own lifetime decides:
// renewing at 80% of it lands safely before expiry whatever lifetime the
// server hands out. Opaque tokens fall back to the stock interval.
func chooseRefreshInterval(accessToken string, configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	if lifetime, ok := tokenLifetime(accessToken); ok {
		return max(lifetime*4/5, minRefreshInterval)
	}
	return session.DefaultRefreshInterval
}

// tokenLifetime reads exp and iat from a JWT access token without
// verifying the signature; the value only schedules renewals, trust stays
// with the server.
func tokenLifetime(accessToken string) (time.Duration, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return 0, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return 0, false
	}

	lifetime := exp.Time.Sub(iat.Time)
	if lifetime <= 0 {
		return 0, false
	}
	return lifetime, true
}
