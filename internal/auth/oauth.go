package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/damworks/aem-assets-mcp/internal/aem"
)

// defaultOAuthLifetime is assumed when the token response omits expires_in.
const defaultOAuthLifetime = 3600 * time.Second

// OAuthCredentials configures the server-to-server client-credentials grant
// against Adobe IMS.
type OAuthCredentials struct {
	ClientID      string
	ClientSecret  string
	Scopes        []string
	TokenEndpoint string
}

// OAuthTokenProvider performs a client-credentials grant per fetch.
type OAuthTokenProvider struct {
	conf       *clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuthTokenProvider builds a provider for the given credentials. IMS
// expects the scope parameter as a comma-joined list, so the scopes are
// pre-joined into a single scope value.
func NewOAuthTokenProvider(creds OAuthCredentials, httpClient *http.Client) *OAuthTokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthTokenProvider{
		conf: &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenEndpoint,
			Scopes:       []string{strings.Join(creds.Scopes, ",")},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Fetch performs one grant_type=client_credentials exchange.
func (p *OAuthTokenProvider) Fetch(ctx context.Context) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.conf.Token(ctx)
	if err != nil {
		authErr := &aem.AuthError{Reason: "oauth_exchange_failed"}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.HTTPStatus = retrieveErr.Response.StatusCode
		}
		return Token{}, authErr
	}
	if tok.AccessToken == "" {
		return Token{}, &aem.AuthError{Reason: "oauth_exchange_failed"}
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = p.now().Add(defaultOAuthLifetime)
	}
	return Token{Value: tok.AccessToken, ExpiresAt: expiresAt}, nil
}
