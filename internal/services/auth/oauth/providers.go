package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider names.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// Identity is what a provider asserts about the signed-in account.
type Identity struct {
	ProviderID    string
	Email         string
	EmailVerified bool
}

// Provider drives one external authorization server.
type Provider interface {
	// AuthCodeURL returns the consent URL carrying state and the S256
	// challenge for verifier.
	AuthCodeURL(state, verifier string) string
	// Identity exchanges code and resolves the account behind it.
	Identity(ctx context.Context, code, verifier string) (Identity, error)
}

var errMissingIdentity = errors.New("provider returned no account id")

// NewProviders builds a Provider for every configured entry.
func NewProviders(ctx context.Context, providers map[string]ProviderConfig, httpClient *http.Client) (map[string]Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	out := make(map[string]Provider, len(providers))
	for name, cfg := range providers {
		switch name {
		case ProviderGoogle:
			keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, httpClient), cfg.JWKSURL)
			out[name] = newOIDCProvider(cfg, keySet, httpClient)
		case ProviderGitHub:
			out[name] = newGitHubProvider(cfg, httpClient)
		default:
			return nil, fmt.Errorf("unsupported oauth provider %q", name)
		}
	}
	return out, nil
}

func oauth2Config(cfg ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oidcProvider reads identity from a verified ID token.
type oidcProvider struct {
	config     *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

func newOIDCProvider(cfg ProviderConfig, keySet oidc.KeySet, httpClient *http.Client) *oidcProvider {
	return &oidcProvider{
		config:     oauth2Config(cfg),
		verifier:   oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
	}
}

func (p *oidcProvider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *oidcProvider) Identity(ctx context.Context, code, verifier string) (Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Identity{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return Identity{}, errors.New("token response has no id_token")
	}
	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.httpClient), rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("verify id token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("decode id token claims: %w", err)
	}
	if idToken.Subject == "" {
		return Identity{}, errMissingIdentity
	}
	return Identity{ProviderID: idToken.Subject, Email: claims.Email, EmailVerified: claims.EmailVerified}, nil
}

// gitHubProvider reads identity from the REST API. The account email is the
// primary verified address from /user/emails.
type gitHubProvider struct {
	config      *oauth2.Config
	userInfoURL string
	emailsURL   string
	httpClient  *http.Client
}

func newGitHubProvider(cfg ProviderConfig, httpClient *http.Client) *gitHubProvider {
	return &gitHubProvider{
		config:      oauth2Config(cfg),
		userInfoURL: cfg.UserInfoURL,
		emailsURL:   cfg.EmailsURL,
		httpClient:  httpClient,
	}
}

func (p *gitHubProvider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *gitHubProvider) Identity(ctx context.Context, code, verifier string) (Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Identity{}, fmt.Errorf("exchange code: %w", err)
	}
	client := p.config.Client(ctx, token)

	var profile struct {
		ID int64 `json:"id"`
	}
	if err := getJSON(ctx, client, p.userInfoURL, &profile); err != nil {
		return Identity{}, fmt.Errorf("fetch profile: %w", err)
	}
	if profile.ID == 0 {
		return Identity{}, errMissingIdentity
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, p.emailsURL, &emails); err != nil {
		return Identity{}, fmt.Errorf("fetch emails: %w", err)
	}
	identity := Identity{ProviderID: strconv.FormatInt(profile.ID, 10)}
	for _, e := range emails {
		if e.Primary {
			identity.Email = strings.TrimSpace(e.Email)
			identity.EmailVerified = e.Verified
			break
		}
	}
	return identity, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
