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

// Package gateway wires the seven session-lifecycle HTTP routes onto a
// chi router, on top of the session engine in pkg/session.
package gateway

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rhangai/auth-gatekeeper/pkg/apiclient"
	"github.com/rhangai/auth-gatekeeper/pkg/crypto"
	"github.com/rhangai/auth-gatekeeper/pkg/jwtsigner"
	"github.com/rhangai/auth-gatekeeper/pkg/provider"
	"github.com/rhangai/auth-gatekeeper/pkg/session"
	"github.com/rhangai/auth-gatekeeper/pkg/settings"
)

// Gateway holds the shared session.Data and exposes the chi router for
// the gateway's HTTP surface.
type Gateway struct {
	data *session.Data
}

// New builds a Gateway from merged Settings, constructing the Crypto, JWT
// signer, API client and Provider that make up session.Data.
func New(s *settings.Settings) (*Gateway, error) {
	p, err := provider.New(provider.Config{
		Flavor:            provider.Flavor(s.Provider.Provider),
		ClientID:          s.Provider.ClientID,
		ClientSecret:      s.Provider.ClientSecret,
		AuthURL:           s.Provider.AuthURL,
		TokenURL:          s.Provider.TokenURL,
		UserinfoURL:       s.Provider.UserinfoURL,
		EndSessionURL:     s.Provider.EndSessionURL,
		CallbackURL:       s.Provider.CallbackURL,
		LogoutRedirectURL: s.Provider.LogoutRedirectURL,
		Scope:             s.Provider.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: build provider: %w", err)
	}

	api, err := apiclient.New(apiclient.Config{
		IDTokenEndpoint: s.API.IDTokenEndpoint,
		LogoutEndpoint:  s.API.LogoutEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: build api client: %w", err)
	}

	data := &session.Data{
		CookieAccessTokenName:  s.Cookie.AccessTokenName,
		CookieRefreshTokenName: s.Cookie.RefreshTokenName,
		XAuthData:              s.Data,
		Crypto:                 crypto.New(s.Secret),
		JWT:                    jwtsigner.New(s.JWTSecret),
		API:                    api,
		Provider:               p,
	}

	return &Gateway{data: data}, nil
}

// Router builds the chi router exposing the seven auth routes plus the
// /_live and /_ready liveness/readiness probes any reverse-proxy
// deployment needs.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/_live", probeHandler)
	r.Get("/_ready", probeHandler)

	r.Get("/login", g.handleLoginGet)
	r.Post("/login", g.handleLoginPost)
	r.Get("/logout", g.handleLogout)
	r.Get("/auth/callback", g.handleAuthCallback)
	r.Get("/auth/refresh", g.handleAuthRefresh)
	r.Get("/auth/validate", g.handleAuthValidate)
	r.Get("/auth/forward-auth", g.handleForwardAuth)

	return r
}

func probeHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
