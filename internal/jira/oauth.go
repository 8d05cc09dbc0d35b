package jira

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
)

// BasicAuth implements Authenticator with email + API token.
type BasicAuth struct {
	Email    string
	APIToken string
}

func (b *BasicAuth) Apply(req *http.Request) error {
	cred := base64.StdEncoding.EncodeToString([]byte(b.Email + ":" + b.APIToken))
	req.Header.Set("Authorization", "Basic "+cred)
	return nil
}

// OAuthAuth implements Authenticator with an OAuth 2.0 bearer token.
type OAuthAuth struct {
	mu          sync.Mutex
	accessToken string
	onRefresh   func() (string, error)
}

// NewOAuthAuth creates an OAuth authenticator. refreshFn is called when no
// token is held; it may be nil.
func NewOAuthAuth(accessToken string, refreshFn func() (string, error)) *OAuthAuth {
	return &OAuthAuth{
		accessToken: accessToken,
		onRefresh:   refreshFn,
	}
}

func (o *OAuthAuth) Apply(req *http.Request) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.accessToken == "" {
		if o.onRefresh == nil {
			return fmt.Errorf("no access token available")
		}
		token, err := o.onRefresh()
		if err != nil {
			return fmt.Errorf("refreshing token: %w", err)
		}
		o.accessToken = token
	}
	req.Header.Set("Authorization", "Bearer "+o.accessToken)
	return nil
}

// Invalidate drops the held token so the next request refreshes it.
func (o *OAuthAuth) Invalidate() {
	o.mu.Lock()
	o.accessToken = ""
	o.mu.Unlock()
}

// NewAuthenticator picks OAuth when a bearer token is configured and basic
// auth otherwise.
func NewAuthenticator(email, apiToken, oauthToken string) (Authenticator, error) {
	switch {
	case oauthToken != "":
		return NewOAuthAuth(oauthToken, nil), nil
	case email != "" && apiToken != "":
		return &BasicAuth{Email: email, APIToken: apiToken}, nil
	default:
		return nil, fmt.Errorf("jira credentials: set JIRA_OAUTH_TOKEN or JIRA_API_EMAIL and JIRA_API_TOKEN: %w", perrors.ErrInvalidInput)
	}
}
