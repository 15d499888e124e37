package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Pipeline issues requests with the current access credential attached and
// recovers transparently from credential expiry: a 401 response triggers
// one renewal through the shared Coordinator and one replay of the
// request. There is never a second replay; if the renewal fails, the
// caller gets the original 401 back unchanged and the ReauthNotifier is
// told, once, that interactive login is required.
type Pipeline struct {
	transport Transport
	creds     CredentialSource
	coord     *Coordinator
	notifier  ReauthNotifier
	log       *slog.Logger
}

// NewPipeline wires a Pipeline. transport, creds and coord are required;
// notifier and logger may be nil.
func NewPipeline(transport Transport, creds CredentialSource, coord *Coordinator, notifier ReauthNotifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		transport: transport,
		creds:     creds,
		coord:     coord,
		notifier:  notifier,
		log:       ensureLogger(logger),
	}
}

// Do sends req with the access credential attached. Responses other than
// 401 pass through untouched, whatever their status. On a 401 it renews
// the credential and replays the request exactly once; the replay's
// outcome, good or bad, is final.
//
// Replaying needs the request body again, so requests with a body must
// carry GetBody (http.NewRequest sets it for the common body types).
func (p *Pipeline) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	p.authorize(req)
	resp, err := p.transport.DoWithContext(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	p.log.Info("request rejected with 401, renewing credential", "method", req.Method, "url", req.URL.Redacted())
	ok, a := p.coord.refresh(ctx)
	if !ok {
		if a.failed() && a.claimReauth() {
			p.log.Warn("credential renewal failed, re-authentication required")
			if p.notifier != nil {
				p.notifier.ReauthRequired()
			}
		}
		// Hand back the rejection exactly as the server sent it.
		return resp, nil
	}

	retry, err := cloneForRetry(ctx, req)
	if err != nil {
		p.log.Warn("cannot replay request after renewal", "error", err)
		return resp, nil
	}
	discard(resp)

	p.authorize(retry)
	p.log.Debug("replaying request with renewed credential", "method", retry.Method, "url", retry.URL.Redacted())
	return p.transport.DoWithContext(ctx, retry)
}

// Get issues an authenticated GET.
func (p *Pipeline) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return p.Do(ctx, req)
}

// Delete issues an authenticated DELETE.
func (p *Pipeline) Delete(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	return p.Do(ctx, req)
}

// Post issues an authenticated POST with body encoded as JSON.
func (p *Pipeline) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	return p.sendJSON(ctx, http.MethodPost, url, body)
}

// Put issues an authenticated PUT with body encoded as JSON.
func (p *Pipeline) Put(ctx context.Context, url string, body any) (*http.Response, error) {
	return p.sendJSON(ctx, http.MethodPut, url, body)
}

func (p *Pipeline) sendJSON(ctx context.Context, method, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.Do(ctx, req)
}

func (p *Pipeline) authorize(req *http.Request) {
	if token := p.creds.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// cloneForRetry builds a second sendable copy of req. The first attempt
// consumed req.Body, so the copy gets a fresh body from GetBody.
func cloneForRetry(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// discard releases a response we are not returning, so the connection can
// be reused for the replay.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
