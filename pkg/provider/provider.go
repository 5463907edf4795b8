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

// Package provider talks to the upstream identity provider: it builds the
// authorization and logout redirect URLs, runs the three token-endpoint
// grants, and fetches userinfo. Keycloak and FusionAuth are modelled as
// the same OIDC client with userinfo obtained by decoding the access
// token as an unverified JWT instead of calling a userinfo endpoint.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"

	"github.com/rhangai/auth-gatekeeper/pkg/httpclient"
)

// Flavor selects how userinfo is obtained.
type Flavor string

const (
	FlavorOIDC       Flavor = "oidc"
	FlavorKeycloak   Flavor = "keycloak"
	FlavorFusionAuth Flavor = "fusionauth"

	defaultScope = "openid email profile offline_access"
)

// Config is the static, immutable configuration of a Provider.
type Config struct {
	Flavor Flavor

	ClientID     string
	ClientSecret string

	AuthURL           string
	TokenURL          string
	UserinfoURL       string
	EndSessionURL     string
	CallbackURL       string
	LogoutRedirectURL string
	Scope             string
}

// TokenSet is what a provider grant returns.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	// IDToken holds structured claims when the wire id_token decoded as a
	// JWT, or the raw string otherwise.
	IDToken interface{}
}

// Userinfo is the identity claims about the authenticated subject.
type Userinfo struct {
	Data      map[string]interface{}
	ExpiresAt *time.Time
}

// Provider issues OIDC grants and resolves userinfo for one configured flavour.
type Provider struct {
	cfg                     Config
	userinfoFromAccessToken bool
	client                  *http.Client
}

// New builds a Provider for the given configuration. Keycloak and
// FusionAuth both resolve userinfo from the unverified access token; plain
// oidc calls the userinfo endpoint.
func New(cfg Config) (*Provider, error) {
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}

	client, err := httpclient.New(httpclient.Config{TimeoutSeconds: 30})
	if err != nil {
		return nil, fmt.Errorf("provider: build http client: %w", err)
	}

	var userinfoFromAccessToken bool
	switch cfg.Flavor {
	case FlavorKeycloak, FlavorFusionAuth:
		userinfoFromAccessToken = true
	case FlavorOIDC, "":
		userinfoFromAccessToken = false
	default:
		return nil, fmt.Errorf("provider: unknown flavor %q", cfg.Flavor)
	}

	return &Provider{cfg: cfg, userinfoFromAccessToken: userinfoFromAccessToken, client: client}, nil
}

// AuthorizationURL builds the redirect target for the authorization_code
// flow's first leg. state is omitted from the query when empty.
func (p *Provider) AuthorizationURL(state string) string {
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("scope", p.cfg.Scope)
	values.Set("client_id", p.cfg.ClientID)
	values.Set("redirect_uri", p.cfg.CallbackURL)
	if state != "" {
		values.Set("state", state)
	}
	return appendQuery(p.cfg.AuthURL, values)
}

// LogoutURL builds the redirect target for ending the provider session.
func (p *Provider) LogoutURL() string {
	if p.cfg.EndSessionURL == "" {
		return p.cfg.LogoutRedirectURL
	}
	values := url.Values{}
	values.Set("client_id", p.cfg.ClientID)
	values.Set("redirect_uri", p.cfg.LogoutRedirectURL)
	return appendQuery(p.cfg.EndSessionURL, values)
}

// Userinfo resolves identity claims for an access token. It returns a nil
// Userinfo (with no error) whenever the caller should fall back to the
// refresh path rather than fail the request outright.
func (p *Provider) Userinfo(ctx context.Context, accessToken string) (*Userinfo, error) {
	if p.userinfoFromAccessToken {
		return p.userinfoFromToken(accessToken)
	}
	return p.userinfoFromEndpoint(ctx, accessToken)
}

func (p *Provider) userinfoFromEndpoint(ctx context.Context, accessToken string) (*Userinfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider: userinfo request failed with status %d", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("provider: decode userinfo response: %w", err)
	}

	return &Userinfo{Data: data}, nil
}

func (p *Provider) userinfoFromToken(accessToken string) (*Userinfo, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(accessToken, claims)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to decode access token as JWT for userinfo")
		return nil, nil
	}

	if exp, ok := claims["exp"]; ok {
		expiresAt, ok := toUnixTime(exp)
		if ok && !expiresAt.After(time.Now()) {
			return nil, nil
		}
	}

	return &Userinfo{Data: map[string]interface{}(claims)}, nil
}

// GrantAuthorizationCode exchanges an authorization code for a TokenSet.
func (p *Provider) GrantAuthorizationCode(ctx context.Context, code string) (*TokenSet, error) {
	return p.grant(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"redirect_uri": {p.cfg.CallbackURL},
		"code":         {code},
	})
}

// GrantPassword exchanges end-user credentials for a TokenSet.
func (p *Provider) GrantPassword(ctx context.Context, username, password string) (*TokenSet, error) {
	return p.grant(ctx, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"scope":      {p.cfg.Scope},
	})
}

// GrantRefreshToken exchanges a refresh token for a fresh TokenSet.
func (p *Provider) GrantRefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return p.grant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (p *Provider) grant(ctx context.Context, values url.Values) (*TokenSet, error) {
	values.Set("client_id", p.cfg.ClientID)
	values.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("provider: build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: grant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider: grant request failed with status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		ExpiresIn    int64       `json:"expires_in"`
		IDToken      interface{} `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("provider: decode grant response: %w", err)
	}

	if body.AccessToken == "" || body.RefreshToken == "" {
		return nil, nil
	}

	tokenSet := &TokenSet{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresIn:    body.ExpiresIn,
	}

	if idToken, ok := body.IDToken.(string); ok && idToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
			tokenSet.IDToken = map[string]interface{}(claims)
		} else {
			tokenSet.IDToken = idToken
		}
	} else if body.IDToken != nil {
		tokenSet.IDToken = body.IDToken
	}

	return tokenSet, nil
}

func appendQuery(base string, values url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + values.Encode()
}

func toUnixTime(v interface{}) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(int64(f), 0), true
	case int64:
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}
