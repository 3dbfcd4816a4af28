// Package idp is the OIDC client for the external identity provider. It
// performs the authorization-code-with-PKCE flow: building the authorize
// redirect, exchanging the code, verifying the returned id_token, and
// refreshing access tokens.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/strandhq/agentgate/internal/config"
	apperrors "github.com/strandhq/agentgate/internal/errors"
)

// Claims is the identity information extracted from a verified id_token.
type Claims struct {
	TenantID string
	Subject  string
	Email    string
	Nonce    string
}

// TokenSet is the result of a code exchange or refresh. Token values are
// never logged.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	RawIDToken   string
	Expiry       time.Time
	Claims       Claims
}

// Client talks to a single configured issuer. Discovery runs once at
// construction; a discovery failure means no client and no logins (fail
// closed, no guessed endpoints).
type Client struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
	tenantClaim  string
}

// New resolves the issuer's discovery document and caches its endpoints.
func New(ctx context.Context, cfg config.OIDCConfig) (*Client, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %q failed: %w", cfg.Issuer, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Client{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		tenantClaim: cfg.TenantClaim,
	}, nil
}

// GenerateVerifier returns a fresh PKCE code verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthorizationURL builds the authorize redirect for one login attempt. The
// caller must verify state on callback; nonce is checked against the
// verified id_token claims.
func (c *Client) AuthorizationURL(state, nonce, codeVerifier string) string {
	return c.oauth2Config.AuthCodeURL(
		state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// Exchange swaps the authorization code for tokens and verifies the
// id_token signature and audience. Identity claims come from the verified
// token only.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	oauth2Token, err := c.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenExchange, "exchange rejected: %v", redactOAuthErr(err))
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, apperrors.Wrapf(apperrors.ErrTokenExchange, "no id_token in token response")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenExchange, "id_token verification failed: %v", err)
	}

	claims, err := c.extractClaims(idToken)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenExchange, "claim extraction failed: %v", err)
	}

	return &TokenSet{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		RawIDToken:   rawIDToken,
		Expiry:       oauth2Token.Expiry,
		Claims:       claims,
	}, nil
}

// Refresh obtains a new access token from a refresh token. On failure the
// caller must invalidate the session and force a re-login; a stale token is
// never reused.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	src := c.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenExchange, "refresh rejected: %v", redactOAuthErr(err))
	}

	ts := &TokenSet{
		AccessToken: token.AccessToken,
		Expiry:      token.Expiry,
	}
	// Providers may rotate the refresh token; keep the existing one when
	// they don't.
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		ts.RefreshToken = token.RefreshToken
	}
	return ts, nil
}

func (c *Client) extractClaims(idToken *oidc.IDToken) (Claims, error) {
	var all map[string]json.RawMessage
	if err := idToken.Claims(&all); err != nil {
		return Claims{}, err
	}

	claims := Claims{Subject: idToken.Subject}
	claims.TenantID = stringClaim(all, c.tenantClaim)
	claims.Email = stringClaim(all, "email")
	claims.Nonce = stringClaim(all, "nonce")

	if claims.TenantID == "" {
		return Claims{}, fmt.Errorf("id_token missing tenant claim %q", c.tenantClaim)
	}
	return claims, nil
}

func stringClaim(claims map[string]json.RawMessage, name string) string {
	raw, ok := claims[name]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

// redactOAuthErr strips response bodies from oauth2 retrieve errors so
// provider error payloads (which can echo parameters) stay out of logs.
func redactOAuthErr(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if ok := asRetrieveError(err, &retrieveErr); ok {
		return fmt.Sprintf("token endpoint returned %s", retrieveErr.Response.Status)
	}
	return err.Error()
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	return apperrors.As(err, target)
}
