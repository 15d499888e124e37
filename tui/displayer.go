package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the session keeper.
type Displayer interface {
	Banner()
	TokensFound()
	TokenValid(expiresIn time.Duration)
	TokenExpired()
	TokensNotFound()
	Refreshing()
	RefreshOK()
	RefreshFailed()
	DeviceCodeReady(userCode, verifyURI, verifyURIComplete string, expiry time.Time)
	WaitingForAuth()
	PollSlowDown(newInterval time.Duration)
	AuthSuccess()
	TokenSaved(path string)
	TokenSaveFailed(err error)
	SessionActive(preview, tokenType string, expiresIn time.Duration)
	KeepAliveStarted(refreshEvery, probeEvery time.Duration)
	SessionRefreshed(expiresIn time.Duration)
	ProbeOK(info string)
	ProbeFailed(err error)
	ReAuthRequired()
	Stopping()
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w. Used when stderr is not a
// TTY (pipes, CI, SSH without pty). Methods are called from the run loop
// and from renewal goroutines, so writes go through one mutex.
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner() {
	p.printf("=== AuthGate Session Keeper ===\n\n")
}

func (p *PlainDisplayer) TokensFound() {
	p.printf("Found existing tokens\n")
}

func (p *PlainDisplayer) TokenValid(expiresIn time.Duration) {
	p.printf("Access token is still valid (expires in %s)\n", expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) TokenExpired() {
	p.printf("Access token expired\n")
}

func (p *PlainDisplayer) TokensNotFound() {
	p.printf("No existing tokens found, starting device flow...\n")
}

func (p *PlainDisplayer) Refreshing() {
	p.printf("Refreshing access token...\n")
}

func (p *PlainDisplayer) RefreshOK() {
	p.printf("Token refreshed successfully\n")
}

func (p *PlainDisplayer) RefreshFailed() {
	p.printf("Refresh failed, starting new device flow...\n")
}

func (p *PlainDisplayer) DeviceCodeReady(
	userCode, verifyURI, verifyURIComplete string,
	expiry time.Time,
) {
	p.printf("----------------------------------------\n")
	p.printf("Please open this link to authorize:\n%s\n", verifyURIComplete)
	p.printf("\nOr manually visit: %s\n", verifyURI)
	p.printf("And enter code: %s\n", userCode)
	p.printf("Code expires at: %s\n", expiry.Format(time.Kitchen))
	p.printf("----------------------------------------\n\n")
}

func (p *PlainDisplayer) WaitingForAuth() {
	p.printf("Waiting for authorization...\n")
}

func (p *PlainDisplayer) PollSlowDown(newInterval time.Duration) {
	p.printf("Server requested slower polling, new interval: %s\n", newInterval)
}

func (p *PlainDisplayer) AuthSuccess() {
	p.printf("\nAuthorization successful!\n")
}

func (p *PlainDisplayer) TokenSaved(path string) {
	p.printf("Tokens saved to %s\n", path)
}

func (p *PlainDisplayer) TokenSaveFailed(err error) {
	p.printf("Warning: failed to save tokens: %v\n", err)
}

func (p *PlainDisplayer) SessionActive(preview, tokenType string, expiresIn time.Duration) {
	p.printf("\n========================================\n")
	p.printf("Session active\n")
	p.printf("Access Token: %s...\n", preview)
	p.printf("Token Type: %s\n", tokenType)
	p.printf("Expires In: %s\n", expiresIn.Round(time.Second))
	p.printf("========================================\n")
}

func (p *PlainDisplayer) KeepAliveStarted(refreshEvery, probeEvery time.Duration) {
	if probeEvery > 0 {
		p.printf("Keeping session alive: renew every %s, probe every %s\n", refreshEvery, probeEvery)
		return
	}
	p.printf("Keeping session alive: renew every %s\n", refreshEvery)
}

func (p *PlainDisplayer) SessionRefreshed(expiresIn time.Duration) {
	p.printf("Session refreshed, expires in %s\n", expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) ProbeOK(info string) {
	if info != "" {
		p.printf("Probe OK: %s\n", info)
		return
	}
	p.printf("Probe OK\n")
}

func (p *PlainDisplayer) ProbeFailed(err error) {
	p.printf("Probe failed: %v\n", err)
}

func (p *PlainDisplayer) ReAuthRequired() {
	p.printf("Refresh token expired, re-authenticating...\n")
}

func (p *PlainDisplayer) Stopping() {
	p.printf("Shutting down\n")
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                     {}
func (NoopDisplayer) TokensFound()                                {}
func (NoopDisplayer) TokenValid(_ time.Duration)                  {}
func (NoopDisplayer) TokenExpired()                               {}
func (NoopDisplayer) TokensNotFound()                             {}
func (NoopDisplayer) Refreshing()                                 {}
func (NoopDisplayer) RefreshOK()                                  {}
func (NoopDisplayer) RefreshFailed()                              {}
func (NoopDisplayer) DeviceCodeReady(_, _, _ string, _ time.Time) {}
func (NoopDisplayer) WaitingForAuth()                             {}
func (NoopDisplayer) PollSlowDown(_ time.Duration)                {}
func (NoopDisplayer) AuthSuccess()                                {}
func (NoopDisplayer) TokenSaved(_ string)                         {}
func (NoopDisplayer) TokenSaveFailed(_ error)                     {}
func (NoopDisplayer) SessionActive(_, _ string, _ time.Duration)  {}
func (NoopDisplayer) KeepAliveStarted(_, _ time.Duration)         {}
func (NoopDisplayer) SessionRefreshed(_ time.Duration)            {}
func (NoopDisplayer) ProbeOK(_ string)                            {}
func (NoopDisplayer) ProbeFailed(_ error)                         {}
func (NoopDisplayer) ReAuthRequired()                             {}
func (NoopDisplayer) Stopping()                                   {}
func (NoopDisplayer) Fatal(_ error)                               {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) TokensFound() {
	t.p.Send(MsgTokensFound{})
}

func (t *ProgramDisplayer) TokenValid(expiresIn time.Duration) {
	t.p.Send(MsgTokenValid{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) TokenExpired() {
	t.p.Send(MsgTokenExpired{})
}

func (t *ProgramDisplayer) TokensNotFound() {
	t.p.Send(MsgTokensNotFound{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed() {
	t.p.Send(MsgRefreshFailed{})
}

func (t *ProgramDisplayer) DeviceCodeReady(
	userCode, verifyURI, verifyURIComplete string,
	expiry time.Time,
) {
	t.p.Send(MsgDeviceCodeReady{
		UserCode:          userCode,
		VerifyURI:         verifyURI,
		VerifyURIComplete: verifyURIComplete,
		Expiry:            expiry,
	})
}

func (t *ProgramDisplayer) WaitingForAuth() {
	t.p.Send(MsgWaitingForAuth{})
}

func (t *ProgramDisplayer) PollSlowDown(newInterval time.Duration) {
	t.p.Send(MsgPollSlowDown{NewInterval: newInterval})
}

func (t *ProgramDisplayer) AuthSuccess() {
	t.p.Send(MsgAuthSuccess{})
}

func (t *ProgramDisplayer) TokenSaved(path string) {
	t.p.Send(MsgTokenSaved{Path: path})
}

func (t *ProgramDisplayer) TokenSaveFailed(err error) {
	t.p.Send(MsgTokenSaveFailed{Err: err})
}

func (t *ProgramDisplayer) SessionActive(preview, tokenType string, expiresIn time.Duration) {
	t.p.Send(MsgSessionActive{Preview: preview, TokenType: tokenType, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) KeepAliveStarted(refreshEvery, probeEvery time.Duration) {
	t.p.Send(MsgKeepAliveStarted{RefreshEvery: refreshEvery, ProbeEvery: probeEvery})
}

func (t *ProgramDisplayer) SessionRefreshed(expiresIn time.Duration) {
	t.p.Send(MsgSessionRefreshed{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) ProbeOK(info string) {
	t.p.Send(MsgProbeOK{Info: info})
}

func (t *ProgramDisplayer) ProbeFailed(err error) {
	t.p.Send(MsgProbeFailed{Err: err})
}

func (t *ProgramDisplayer) ReAuthRequired() {
	t.p.Send(MsgReAuthRequired{})
}

func (t *ProgramDisplayer) Stopping() {
	t.p.Send(MsgStopping{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
