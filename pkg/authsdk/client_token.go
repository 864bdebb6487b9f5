package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/litimahmed/universal-hub/pkg/session"
)

const formContentType = "application/x-www-form-urlencoded"

// PasswordGrant signs a user in. otpCode may be empty for accounts without
// a second factor; accounts with one answer ErrMFARequired until it is sent.
func (c *SDKClient) PasswordGrant(ctx context.Context, username, password, otpCode string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"client_id":  {c.ClientID},
	}
	if otpCode != "" {
		data.Set("otp_code", otpCode)
	}

	return c.requestToken(ctx, data)
}

// RefreshGrant exchanges a refresh token for new tokens. The authority
// rotates refresh tokens, so the one sent is dead once this returns.
func (c *SDKClient) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.ClientID},
	}

	return c.requestToken(ctx, data)
}

// Refresh implements session.Refresher.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	resp, err := c.RefreshGrant(ctx, refreshToken)
	if err != nil {
		return session.TokenPair{}, err
	}
	return resp.Pair(), nil
}

// RevokeToken revokes a refresh token and, with it, its session. Unknown
// tokens are not an error.
func (c *SDKClient) RevokeToken(ctx context.Context, token string) error {
	data := url.Values{
		"token":           {token},
		"token_type_hint": {"refresh_token"},
		"client_id":       {c.ClientID},
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/oauth2/revoke",
		strings.NewReader(data.Encode()),
		map[string]string{"Content-Type": formContentType},
	)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusOK)
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/oauth2/token",
		strings.NewReader(data.Encode()),
		map[string]string{"Content-Type": formContentType},
	)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}
