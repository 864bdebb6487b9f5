package authsdk

import (
	"context"
	"net/http"

	"github.com/litimahmed/universal-hub/pkg/session"
)

// Session makes authenticated calls to the authority on behalf of whoever
// tokens belongs to. Refresh and forced logout are handled by its
// Transport.
type Session struct {
	client *SDKClient
	http   *http.Client
}

// NewSession wraps the client's transport with a Transport drawing tokens
// from tokens. signal may be nil.
func (c *SDKClient) NewSession(tokens TokenSource, signal *session.Signal) *Session {
	return &Session{
		client: c,
		http: &http.Client{
			Timeout: c.HTTPClient.Timeout,
			Transport: &Transport{
				Base:   c.HTTPClient.Transport,
				Tokens: tokens,
				Signal: signal,
			},
		},
	}
}

// HTTPClient is the authenticated client, for calls the SDK has no method for.
func (s *Session) HTTPClient() *http.Client { return s.http }

// GetUserInfo retrieves the profile of the signed-in user.
func (s *Session) GetUserInfo(ctx context.Context) (*UserInfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.url("/v1/userinfo"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}

	var userInfo UserInfoResponse
	if err := decodeJSON(resp, &userInfo, http.StatusOK); err != nil {
		return nil, err
	}

	return &userInfo, nil
}
