package oauth

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultStateTTL = 10 * time.Minute

// Config describes the configured providers and flow timing.
type Config struct {
	Providers map[string]ProviderConfig
	StateTTL  time.Duration
	// RedirectAllowlist lists where the client may ask to land after the
	// callback. Empty means only the default landing is allowed.
	RedirectAllowlist []string
}

// ProviderConfig describes an external OAuth provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// OIDC providers.
	Issuer  string
	JWKSURL string

	// GitHub style providers.
	UserInfoURL string
	EmailsURL   string
}

// oauthEnv holds raw env values for OAuth configuration.
type oauthEnv struct {
	StateTTL           time.Duration `env:"NOVUS_OAUTH_STATE_TTL"            envDefault:"10m"`
	LoginRedirects     []string      `env:"NOVUS_OAUTH_LOGIN_REDIRECTS"      envSeparator:","`
	GoogleClientID     string        `env:"NOVUS_OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"NOVUS_OAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string        `env:"NOVUS_OAUTH_GOOGLE_REDIRECT_URI"`
	GoogleScopes       []string      `env:"NOVUS_OAUTH_GOOGLE_SCOPES"        envSeparator:","`
	GitHubClientID     string        `env:"NOVUS_OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"NOVUS_OAUTH_GITHUB_CLIENT_SECRET"`
	GitHubRedirectURI  string        `env:"NOVUS_OAUTH_GITHUB_REDIRECT_URI"`
	GitHubScopes       []string      `env:"NOVUS_OAUTH_GITHUB_SCOPES"        envSeparator:","`
}

// LoadConfigFromEnv loads provider configuration from environment variables.
// Providers missing any of client id, secret or redirect URI are skipped.
func LoadConfigFromEnv() Config {
	var raw oauthEnv
	if err := env.Parse(&raw); err != nil {
		return Config{StateTTL: defaultStateTTL}
	}
	ttl := raw.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return Config{
		Providers:         buildProviders(raw),
		StateTTL:          ttl,
		RedirectAllowlist: trimCSV(raw.LoginRedirects),
	}
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func buildProviders(raw oauthEnv) map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)
	if raw.GoogleClientID != "" && raw.GoogleClientSecret != "" && raw.GoogleRedirectURI != "" {
		scopes := trimCSV(raw.GoogleScopes)
		if len(scopes) == 0 {
			scopes = []string{"openid", "email", "profile"}
		}
		providers[ProviderGoogle] = ProviderConfig{
			Name:         "Google",
			ClientID:     raw.GoogleClientID,
			ClientSecret: raw.GoogleClientSecret,
			RedirectURI:  raw.GoogleRedirectURI,
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			Issuer:       "https://accounts.google.com",
			JWKSURL:      "https://www.googleapis.com/oauth2/v3/certs",
			Scopes:       scopes,
		}
	}
	if raw.GitHubClientID != "" && raw.GitHubClientSecret != "" && raw.GitHubRedirectURI != "" {
		scopes := trimCSV(raw.GitHubScopes)
		if len(scopes) == 0 {
			scopes = []string{"read:user", "user:email"}
		}
		providers[ProviderGitHub] = ProviderConfig{
			Name:         "GitHub",
			ClientID:     raw.GitHubClientID,
			ClientSecret: raw.GitHubClientSecret,
			RedirectURI:  raw.GitHubRedirectURI,
			AuthURL:      "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			UserInfoURL:  "https://api.github.com/user",
			EmailsURL:    "https://api.github.com/user/emails",
			Scopes:       scopes,
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return providers
}
