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

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/rhangai/auth-gatekeeper/pkg/session"
	"github.com/rhangai/auth-gatekeeper/pkg/statetoken"
)

// handleLoginGet builds (or reuses) a state token and redirects to the
// provider's authorization endpoint.
func (g *Gateway) handleLoginGet(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		var urlPtr *string
		if u := r.URL.Query().Get("url"); u != "" {
			urlPtr = &u
		}
		encoded, err := statetoken.Serialize(g.data.Crypto, urlPtr)
		if err != nil {
			g.internalError(w, "serialize state token", err)
			return
		}
		state = encoded
	}

	http.Redirect(w, r, g.data.Provider.AuthorizationURL(state), http.StatusFound)
}

// handleLoginPost authenticates with the resource-owner password grant.
// The `url` query is used unsigned, per the documented open-redirect
// trade-off of the original gatekeeper (spec §9).
func (g *Gateway) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	tokenSet, err := g.data.Provider.GrantPassword(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		g.internalError(w, "grant_password", err)
		return
	}
	if tokenSet == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s := session.New(g.data, tokenSet)
	if err := s.Response(r.Context(), w, r, session.FlagCookies); err != nil {
		g.internalError(w, "build login response", err)
		return
	}

	redirectURL := r.URL.Query().Get("url")
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	s := session.Logout(g.data)
	if err := s.Response(r.Context(), w, r, session.FlagCookies); err != nil {
		g.internalError(w, "build logout response", err)
		return
	}

	http.Redirect(w, r, g.data.Provider.LogoutURL(), http.StatusFound)
}

func (g *Gateway) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	tokenSet, err := g.data.Provider.GrantAuthorizationCode(r.Context(), code)
	if err != nil {
		g.internalError(w, "grant_authorization_code", err)
		return
	}
	if tokenSet == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	redirectURL := "/"
	if rawState := r.URL.Query().Get("state"); rawState != "" {
		if data, err := statetoken.Deserialize(g.data.Crypto, rawState); err == nil && data.URL != nil && *data.URL != "" {
			redirectURL = *data.URL
		}
	}

	s := session.New(g.data, tokenSet)
	if err := s.Response(r.Context(), w, r, session.FlagCookies); err != nil {
		g.internalError(w, "build callback response", err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (g *Gateway) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(g.data, r)
	if err := s.Validate(r.Context(), true); err != nil {
		g.internalError(w, "validate", err)
		return
	}

	if err := s.Response(r.Context(), w, r, session.FlagCookies); err != nil {
		g.internalError(w, "build refresh response", err)
		return
	}

	if s.Userinfo == nil {
		return
	}

	body, err := json.Marshal(userinfoProjection(s.Userinfo.Data))
	if err != nil {
		g.internalError(w, "marshal userinfo projection", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (g *Gateway) handleAuthValidate(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(g.data, r)
	if err := s.Validate(r.Context(), true); err != nil {
		g.internalError(w, "validate", err)
		return
	}

	if err := s.Response(r.Context(), w, r, session.FlagXAuthHeaders); err != nil {
		g.internalError(w, "build validate response", err)
	}
}

func (g *Gateway) handleForwardAuth(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(g.data, r)
	if err := s.Validate(r.Context(), true); err != nil {
		g.internalError(w, "validate", err)
		return
	}

	flags := session.FlagForwardAuth
	if r.URL.Query().Get("redirect") != "" {
		flags |= session.FlagForwardAuthRedirect
	}

	if err := s.Response(r.Context(), w, r, flags); err != nil {
		g.internalError(w, "build forward-auth response", err)
	}
}

func (g *Gateway) internalError(w http.ResponseWriter, op string, err error) {
	log.Error().Err(err).Str("op", op).Msg("Request failed")
	w.WriteHeader(http.StatusInternalServerError)
}

// userinfoProjection keeps only the keys the refresh endpoint is
// contractually allowed to expose, dropping everything else (exp,
// arbitrary custom claims) from the claims map.
func userinfoProjection(data map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, key := range []string{"sub", "email", "name"} {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	if realmAccess, ok := data["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"]; ok {
			out["roles"] = roles
		}
	}
	return out
}
