package authsdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/litimahmed/universal-hub/pkg/session"
)

// TokenSource hands out access tokens. *session.Controller implements it.
type TokenSource interface {
	// ValidToken returns a token that is not expired, refreshing if needed.
	ValidToken(ctx context.Context) (string, error)
	// Refresh gets a new token even if the current one looks fine.
	Refresh(ctx context.Context) (string, error)
}

// Transport authorizes requests with the current access token.
//
// A 401 answer triggers exactly one refresh and one retry. When the refresh
// fails, or the retry is still 401, Signal is raised so every controller in
// the process signs out. Requests whose body cannot be replayed are not
// retried and get the 401 back as is.
type Transport struct {
	// Base defaults to http.DefaultTransport.
	Base   http.RoundTripper
	Tokens TokenSource
	Signal *session.Signal
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.Tokens.ValidToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("authsdk: access token: %w", err)
	}

	resp, err := t.send(req, req.Body, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !replayable(req) {
		return resp, nil
	}
	drain(resp)

	token, err = t.Tokens.Refresh(ctx)
	if err != nil {
		// The caller gave up, or a newer login superseded this refresh;
		// neither says anything about the session itself.
		if ctx.Err() != nil || errors.Is(err, session.ErrStaleRefresh) {
			return nil, fmt.Errorf("authsdk: refresh: %w", err)
		}
		t.revoke()
		return nil, fmt.Errorf("%w: %w", ErrSessionRevoked, err)
	}

	var body io.ReadCloser
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("authsdk: replay body: %w", err)
		}
	}

	resp, err = t.send(req, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.revoke()
	}
	return resp, nil
}

func (t *Transport) send(req *http.Request, body io.ReadCloser, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Body = body
	out.Header.Set("Authorization", "Bearer "+token)
	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) revoke() {
	if t.Signal != nil {
		t.Signal.Raise()
	}
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// IsSessionRevoked reports whether err means the user has to sign in again.
func IsSessionRevoked(err error) bool {
	return errors.Is(err, ErrSessionRevoked) || errors.Is(err, session.ErrNoSession)
}
