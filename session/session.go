// Package session keeps an OAuth session alive. It coordinates credential
// renewal so that concurrent triggers collapse into a single renewal call
// (Coordinator), replays rejected requests once after a successful renewal
// (Pipeline), and renews proactively on a timer before the credential
// expires (Scheduler).
package session

import (
	"context"
	"log/slog"
	"net/http"
)

// Transport issues a single HTTP request attempt. *retry.Client from
// go-httpretry satisfies it, as does anything wrapping http.Client.
type Transport interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CredentialSource exposes the current access credential. Implementations
// must be safe for concurrent use; the Pipeline reads it on every request.
type CredentialSource interface {
	AccessToken() string
}

// Renewer performs one renewal of the access credential against the
// authorization server and persists the result. A nil error means the
// credential held by the CredentialSource is fresh again.
type Renewer interface {
	Renew(ctx context.Context) error
}

// RenewerFunc adapts a function to the Renewer interface.
type RenewerFunc func(ctx context.Context) error

func (f RenewerFunc) Renew(ctx context.Context) error { return f(ctx) }

// ReauthNotifier is told when renewal is no longer possible and the user
// has to authenticate from scratch. The Pipeline fires it at most once per
// failed renewal attempt, no matter how many requests were waiting on that
// attempt.
type ReauthNotifier interface {
	ReauthRequired()
}

// ReauthNotifierFunc adapts a function to the ReauthNotifier interface.
type ReauthNotifierFunc func()

func (f ReauthNotifierFunc) ReauthRequired() { f() }

func ensureLogger(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return log
}
