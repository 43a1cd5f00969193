package incontrol

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// CredentialProvider fetches a bearer credential for the management API.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentialsProvider obtains tokens with the OAuth2 client-credentials grant.
// Without caching every call performs a token request. With caching the token is
// reused until it expires.
type ClientCredentialsProvider struct {
	config     clientcredentials.Config
	httpClient *http.Client
	cached     oauth2.TokenSource
	logger     zerolog.Logger
}

// NewClientCredentialsProvider creates a provider posting to tokenURL.
func NewClientCredentialsProvider(tokenURL, clientID, clientSecret string, cache bool,
	httpClient *http.Client, logger zerolog.Logger) *ClientCredentialsProvider {
	p := &ClientCredentialsProvider{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		logger:     logger,
	}
	if cache {
		p.cached = p.config.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, httpClient))
	}
	return p
}

// Token returns an access token or an *AuthError.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	var (
		token *oauth2.Token
		err   error
	)
	if p.cached != nil {
		token, err = p.cached.Token()
	} else {
		token, err = p.config.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	}
	if err != nil {
		authErr := &AuthError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return "", authErr
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", &AuthError{Err: errors.New("empty access token")}
	}

	p.logger.Debug().Time("expiry", token.Expiry).Msg("Obtained access token")
	return token.AccessToken, nil
}
