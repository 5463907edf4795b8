/*
Copyright (C) 2022-2023 Traefik Labs

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

// Package settings merges gateway configuration from two sources, later
// wins: command-line flags parsed by urfave/cli, then (if a config-env
// prefix is supplied) environment variables re-scanned and applied
// directly over the parsed struct. This mirrors the original gatekeeper's
// two-pass, env-wins merge rather than urfave's built-in per-flag env
// fallback.
package settings

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

// Defaults per §4.8 of the gateway's configuration contract.
const (
	DefaultListen                 = "http://127.0.0.1:8088"
	DefaultCookieAccessTokenName  = "sat"
	DefaultCookieRefreshTokenName = "srt"
	DefaultProvider                = "oidc"
)

// Cookie names the two session cookies read and written by the gateway.
type Cookie struct {
	AccessTokenName  string
	RefreshTokenName string
}

// API configures the business-API side-channel notifier.
type API struct {
	IDTokenEndpoint string
	LogoutEndpoint  string
}

// Provider configures the upstream identity provider.
type Provider struct {
	Provider          string
	ClientID          string
	ClientSecret      string
	AuthURL           string
	TokenURL          string
	UserinfoURL       string
	EndSessionURL     string
	CallbackURL       string
	LogoutRedirectURL string
	Scope             string
}

// Settings is the fully merged gateway configuration.
type Settings struct {
	Listen    string
	Secret    string
	JWTSecret string
	// Data is the configured x-auth-data passthrough string.
	Data      string
	ConfigEnv string

	API      API
	Cookie   Cookie
	Provider Provider
}

// Flags returns the urfave/cli flags for the domain settings. These flags
// carry no EnvVars: environment overrides are applied separately, after
// parsing, by Load.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "listen", Value: DefaultListen, Usage: "Comma-separated listen addresses (http://host:port or unix:/path)"},
		&cli.StringFlag{Name: "secret", Usage: "Master secret used to encrypt session cookies and state tokens"},
		&cli.StringFlag{Name: "jwt-secret", Usage: "Optional HMAC secret used to sign x-auth-userinfo"},
		&cli.StringFlag{Name: "data", Usage: "Optional passthrough string emitted as x-auth-data"},
		&cli.StringFlag{Name: "config-env", Usage: "Environment variable prefix re-scanned after flag parsing"},

		&cli.StringFlag{Name: "api-id-token-endpoint", Usage: "Business API endpoint notified on new id_token"},
		&cli.StringFlag{Name: "api-logout-endpoint", Usage: "Business API endpoint notified on logout"},

		&cli.StringFlag{Name: "cookie-access-token-name", Value: DefaultCookieAccessTokenName},
		&cli.StringFlag{Name: "cookie-refresh-token-name", Value: DefaultCookieRefreshTokenName},

		&cli.StringFlag{Name: "provider", Value: DefaultProvider, Usage: "oidc, keycloak or fusionauth"},
		&cli.StringFlag{Name: "provider-client-id"},
		&cli.StringFlag{Name: "provider-client-secret"},
		&cli.StringFlag{Name: "provider-auth-url"},
		&cli.StringFlag{Name: "provider-token-url"},
		&cli.StringFlag{Name: "provider-userinfo-url"},
		&cli.StringFlag{Name: "provider-end-session-url"},
		&cli.StringFlag{Name: "provider-callback-url"},
		&cli.StringFlag{Name: "provider-logout-redirect-url"},
		&cli.StringFlag{Name: "provider-scope"},
	}
}

// FromContext builds a Settings from parsed CLI flags, without yet
// applying the config-env override pass.
func FromContext(c *cli.Context) *Settings {
	return &Settings{
		Listen:    c.String("listen"),
		Secret:    c.String("secret"),
		JWTSecret: c.String("jwt-secret"),
		Data:      c.String("data"),
		ConfigEnv: c.String("config-env"),

		API: API{
			IDTokenEndpoint: c.String("api-id-token-endpoint"),
			LogoutEndpoint:  c.String("api-logout-endpoint"),
		},
		Cookie: Cookie{
			AccessTokenName:  c.String("cookie-access-token-name"),
			RefreshTokenName: c.String("cookie-refresh-token-name"),
		},
		Provider: Provider{
			Provider:          c.String("provider"),
			ClientID:          c.String("provider-client-id"),
			ClientSecret:      c.String("provider-client-secret"),
			AuthURL:           c.String("provider-auth-url"),
			TokenURL:          c.String("provider-token-url"),
			UserinfoURL:       c.String("provider-userinfo-url"),
			EndSessionURL:     c.String("provider-end-session-url"),
			CallbackURL:       c.String("provider-callback-url"),
			LogoutRedirectURL: c.String("provider-logout-redirect-url"),
			Scope:             c.String("provider-scope"),
		},
	}
}

// Load builds a Settings from the CLI context and, when ConfigEnv is set,
// overrides it with PREFIX_-scanned environment variables. It then
// applies the random-secret fallback.
func Load(c *cli.Context) (*Settings, error) {
	s := FromContext(c)

	if s.ConfigEnv != "" {
		s.applyEnv(s.ConfigEnv, os.Environ())
	}

	if s.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("settings: generate random secret: %w", err)
		}
		s.Secret = secret
	}

	return s, nil
}

// applyEnv re-scans env (a slice of "KEY=VALUE" strings, as returned by
// os.Environ) for variables named PREFIX_<key> and assigns them directly
// onto the already-parsed struct, overriding whatever the flags set.
func (s *Settings) applyEnv(prefix string, env []string) {
	prefixed := strings.ToUpper(prefix) + "_"

	setters := s.envSetters()

	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(key), prefixed) {
			continue
		}

		transformed := transformKey(strings.ToUpper(key), prefixed)
		if setter, ok := setters[transformed]; ok {
			setter(value)
		}
	}
}

// transformKey lowercases and strips the prefix, matching the original
// EnvironmentConfig::transform_key: nested keys for the cookie/provider
// groups use an underscore after the group name (e.g. cookie_access_token_name).
func transformKey(key, prefixed string) string {
	rest := strings.TrimPrefix(key, prefixed)
	return strings.ToLower(rest)
}

func (s *Settings) envSetters() map[string]func(string) {
	return map[string]func(string){
		"listen":     func(v string) { s.Listen = v },
		"secret":     func(v string) { s.Secret = v },
		"jwt_secret": func(v string) { s.JWTSecret = v },
		"data":       func(v string) { s.Data = v },

		"api_id_token_endpoint": func(v string) { s.API.IDTokenEndpoint = v },
		"api_logout_endpoint":   func(v string) { s.API.LogoutEndpoint = v },

		"cookie_access_token_name":  func(v string) { s.Cookie.AccessTokenName = v },
		"cookie_refresh_token_name": func(v string) { s.Cookie.RefreshTokenName = v },

		"provider":                     func(v string) { s.Provider.Provider = v },
		"provider_client_id":          func(v string) { s.Provider.ClientID = v },
		"provider_client_secret":      func(v string) { s.Provider.ClientSecret = v },
		"provider_auth_url":           func(v string) { s.Provider.AuthURL = v },
		"provider_token_url":          func(v string) { s.Provider.TokenURL = v },
		"provider_userinfo_url":       func(v string) { s.Provider.UserinfoURL = v },
		"provider_end_session_url":    func(v string) { s.Provider.EndSessionURL = v },
		"provider_callback_url":       func(v string) { s.Provider.CallbackURL = v },
		"provider_logout_redirect_url": func(v string) { s.Provider.LogoutRedirectURL = v },
		"provider_scope":              func(v string) { s.Provider.Scope = v },
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
