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

package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhangai/auth-gatekeeper/pkg/apiclient"
	"github.com/rhangai/auth-gatekeeper/pkg/crypto"
	"github.com/rhangai/auth-gatekeeper/pkg/jwtsigner"
	"github.com/rhangai/auth-gatekeeper/pkg/provider"
	"github.com/rhangai/auth-gatekeeper/pkg/session"
)

func newData(t *testing.T, userinfo map[string]interface{}) (*session.Data, *httptest.Server) {
	t.Helper()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer valid-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(userinfo)
	}))

	p, err := provider.New(provider.Config{Flavor: provider.FlavorOIDC, UserinfoURL: srv.URL})
	require.NoError(t, err)

	api, err := apiclient.New(apiclient.Config{})
	require.NoError(t, err)

	return &session.Data{
		CookieAccessTokenName:  "sat",
		CookieRefreshTokenName: "srt",
		Crypto:                 crypto.New("top secret"),
		JWT:                    jwtsigner.New(""),
		API:                    api,
		Provider:               p,
	}, srv
}

func TestFromRequestCookies(t *testing.T) {
	data, srv := newData(t, map[string]interface{}{"sub": "u1"})
	defer srv.Close()

	accessEnc, err := data.Crypto.Encrypt("valid-access")
	require.NoError(t, err)
	refreshEnc, err := data.Crypto.Encrypt("valid-refresh")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
	req.AddCookie(&http.Cookie{Name: "sat", Value: accessEnc})
	req.AddCookie(&http.Cookie{Name: "srt", Value: refreshEnc})

	s := session.FromRequest(data, req)
	require.True(t, s.HasSession)
	require.NotNil(t, s.TokenSet.AccessToken)
	assert.Equal(t, "valid-access", *s.TokenSet.AccessToken)
	require.NotNil(t, s.TokenSet.RefreshToken)
	assert.Equal(t, "valid-refresh", *s.TokenSet.RefreshToken)
}

func TestFromRequestBearerFallback(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
	req.Header.Set("Authorization", "Bearer valid-access|valid-refresh")

	s := session.FromRequest(data, req)
	require.True(t, s.HasSession)
	assert.Equal(t, "valid-access", *s.TokenSet.AccessToken)
	assert.Equal(t, "valid-refresh", *s.TokenSet.RefreshToken)
}

func TestFromRequestNoSession(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
	s := session.FromRequest(data, req)
	assert.False(t, s.HasSession)
	assert.Nil(t, s.TokenSet.AccessToken)
	assert.Nil(t, s.TokenSet.RefreshToken)
}

func TestValidateLogged(t *testing.T) {
	data, srv := newData(t, map[string]interface{}{"sub": "u1"})
	defer srv.Close()

	access := "valid-access"
	s := &session.Session{Data: data, Status: session.StatusInvalid, HasSession: true,
		TokenSet: session.SessionTokenSet{AccessToken: &access}}

	err := s.Validate(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, session.StatusLogged, s.Status)
	require.NotNil(t, s.Userinfo)
	assert.Equal(t, "u1", s.Userinfo.Data["sub"])
}

func TestValidateStaysInvalidWithoutRefresh(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	access := "expired-access"
	s := &session.Session{Data: data, Status: session.StatusInvalid, HasSession: true,
		TokenSet: session.SessionTokenSet{AccessToken: &access}}

	err := s.Validate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, session.StatusInvalid, s.Status)
}

func TestResponseIdempotentOnLogged(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	s := &session.Session{
		Data:     data,
		Status:   session.StatusLogged,
		Userinfo: &provider.Userinfo{Data: map[string]interface{}{"sub": "u1"}},
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)

	w1 := httptest.NewRecorder()
	require.NoError(t, s.Response(context.Background(), w1, req, session.FlagXAuthHeaders))

	w2 := httptest.NewRecorder()
	require.NoError(t, s.Response(context.Background(), w2, req, session.FlagXAuthHeaders))

	assert.Equal(t, w1.Header().Get("x-auth-userinfo"), w2.Header().Get("x-auth-userinfo"))
	assert.Equal(t, w1.Code, w2.Code)
}

func TestResponseNoLeakOfRawTokens(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	access, refresh := "raw-access-value", "raw-refresh-value"
	s := &session.Session{
		Data:     data,
		Status:   session.StatusNew,
		TokenSet: session.SessionTokenSet{AccessToken: &access, RefreshToken: &refresh},
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	w := httptest.NewRecorder()
	require.NoError(t, s.Response(context.Background(), w, req, session.FlagCookies))

	for _, setCookie := range w.Header().Values("Set-Cookie") {
		assert.False(t, strings.Contains(setCookie, access))
		assert.False(t, strings.Contains(setCookie, refresh))
	}
}

func TestResponseForwardAuthRedirectFormula(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	s := session.FromRequest(data, httptest.NewRequest(http.MethodGet, "/auth/forward-auth", nil))

	req := httptest.NewRequest(http.MethodGet, "/auth/forward-auth", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "app.example")
	req.Header.Set("X-Forwarded-Uri", "/secret?a=1")

	w := httptest.NewRecorder()
	require.NoError(t, s.Response(context.Background(), w, req, session.FlagForwardAuth|session.FlagForwardAuthRedirect))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app.example/login?url=/secret?a=1", w.Header().Get("Location"))
}

func TestResponseInvalidWithoutForwardAuthIs401(t *testing.T) {
	data, srv := newData(t, nil)
	defer srv.Close()

	s := session.FromRequest(data, httptest.NewRequest(http.MethodGet, "/auth/validate", nil))
	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)

	w := httptest.NewRecorder()
	require.NoError(t, s.Response(context.Background(), w, req, session.FlagXAuthHeaders))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
