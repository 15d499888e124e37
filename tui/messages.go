package tui

import (
	"log/slog"
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgTokensFound signals that existing tokens were found on disk.
type MsgTokensFound struct{}

// MsgTokenValid signals that the saved access token is still valid.
type MsgTokenValid struct{ ExpiresIn time.Duration }

// MsgTokenExpired signals that the saved access token has expired.
type MsgTokenExpired struct{}

// MsgTokensNotFound signals that no tokens were found (starting fresh).
type MsgTokensNotFound struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that the token refresh failed and a new
// device flow is about to start.
type MsgRefreshFailed struct{}

// MsgDeviceCodeReady signals that the device code is ready for user action.
type MsgDeviceCodeReady struct {
	UserCode          string
	VerifyURI         string
	VerifyURIComplete string
	Expiry            time.Time
}

// MsgWaitingForAuth signals that polling for authorization has started.
type MsgWaitingForAuth struct{}

// MsgPollSlowDown signals that the server requested slower polling.
type MsgPollSlowDown struct{ NewInterval time.Duration }

// MsgAuthSuccess signals that the user authorized successfully.
type MsgAuthSuccess struct{}

// MsgTokenSaved signals that tokens were saved to disk.
type MsgTokenSaved struct{ Path string }

// MsgTokenSaveFailed signals that saving tokens failed.
type MsgTokenSaveFailed struct{ Err error }

// MsgSessionActive signals that a usable session is established.
type MsgSessionActive struct {
	Preview   string
	TokenType string
	ExpiresIn time.Duration
}

// MsgKeepAliveStarted signals that proactive renewal is running.
// ProbeEvery is zero when probing is disabled.
type MsgKeepAliveStarted struct {
	RefreshEvery time.Duration
	ProbeEvery   time.Duration
}

// MsgSessionRefreshed signals that renewed tokens were stored.
type MsgSessionRefreshed struct{ ExpiresIn time.Duration }

// MsgProbeOK signals that a session probe got a good answer.
type MsgProbeOK struct{ Info string }

// MsgProbeFailed signals that a session probe failed.
type MsgProbeFailed struct{ Err error }

// MsgReAuthRequired signals that renewal is no longer possible and a new
// device flow is starting.
type MsgReAuthRequired struct{}

// MsgStopping signals a clean shutdown.
type MsgStopping struct{}

// MsgFatal signals a fatal error that should terminate the session.
type MsgFatal struct{ Err error }

// MsgLog carries a log record emitted below the TUI's main panel.
type MsgLog struct {
	Level slog.Level
	Text  string
}
