package sources

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/contactdir/contactdir-server/internal/config"
)

// newTokenSource builds the token source for the configured credentials.
// It returns nil when the API is anonymous.
func newTokenSource(ctx context.Context, auth *config.APIAuthConfig) (oauth2.TokenSource, error) {
	if auth == nil {
		return nil, nil
	}

	if auth.TokenFile != "" {
		token, err := config.ReadSecretFile(auth.TokenFile)
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, fmt.Errorf("token file %s is empty", auth.TokenFile)
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	}

	if cc := auth.ClientCredentials; cc != nil {
		secret, err := config.ReadSecretFile(cc.ClientSecretFile)
		if err != nil {
			return nil, err
		}
		ccCfg := &clientcredentials.Config{
			ClientID:     cc.ClientID,
			ClientSecret: secret,
			TokenURL:     cc.TokenURL,
			Scopes:       cc.Scopes,
		}
		// Tokens are cached and refreshed by the returned source
		return ccCfg.TokenSource(ctx), nil
	}

	return nil, nil
}

// authTransport wraps base with the token source, if any
func authTransport(ts oauth2.TokenSource, base http.RoundTripper) http.RoundTripper {
	if ts == nil {
		return base
	}
	return &oauth2.Transport{Source: ts, Base: base}
}
