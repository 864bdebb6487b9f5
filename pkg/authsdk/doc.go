/*
Package authsdk is the client for the universal-hub token authority.

# SDKClient vs Session

SDKClient covers the unauthenticated endpoints: the password and refresh
grants, revocation and the health checks.

	client := authsdk.NewSDKClient("https://auth.example.com", "hub-admin")

	tokens, err := client.PasswordGrant(ctx, username, password, "")
	if errors.Is(err, authsdk.ErrMFARequired) {
		tokens, err = client.PasswordGrant(ctx, username, password, otpCode)
	}

Tokens are not kept by the SDK. Hand them to a session.Controller, which
stores them, watches their expiry and refreshes them; SDKClient implements
session.Refresher for that purpose:

	ctrl := session.New(store, client, session.Options{Signal: signal})
	ctrl.Start(ctx)
	err = ctrl.Login(ctx, tokens.Pair())

A Session then makes authenticated calls with whatever token the controller
currently holds:

	s := client.NewSession(ctrl, signal)
	info, err := s.GetUserInfo(ctx)

# Refresh and forced logout

Session requests go through Transport. A 401 answer gets one forced
refresh and one retry. If the refresh fails, or the retried request is
still unauthorized, the session.Signal is raised and every controller
subscribed to it signs out.

Refresh tokens rotate: each one works once. A refresh token presented a
second time makes the authority revoke the whole login, so the controller
never runs two refreshes at once.

# Errors

Error responses decode into *OAuth2Error and compare with errors.Is against
the predefined values (ErrInvalidGrant, ErrMFARequired, ...) by error code.
ErrSessionRevoked means the user must sign in again.
*/
package authsdk
