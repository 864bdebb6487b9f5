package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// SDKClient talks to the token authority's public endpoints: the grants,
// revocation and health. Authenticated calls go through a Session.
type SDKClient struct {
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client
}

func NewSDKClient(baseURL, clientID string) *SDKClient {
	return &SDKClient{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		ClientID: clientID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
