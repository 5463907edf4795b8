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

// Package session implements the session lifecycle engine: it binds a
// browser session to an upstream provider token set, refreshes it
// transparently, and shapes the HTTP response (cookies, x-auth headers,
// ForwardAuth redirects) from the resulting status. Validate is the only
// writer of Status; Response is a pure projection of (status, has_session,
// flags) onto headers and cookies.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhangai/auth-gatekeeper/pkg/apiclient"
	"github.com/rhangai/auth-gatekeeper/pkg/crypto"
	"github.com/rhangai/auth-gatekeeper/pkg/jwtsigner"
	"github.com/rhangai/auth-gatekeeper/pkg/provider"
)

// Status is the session's lifecycle state. Only Validate transitions a
// session away from StatusInvalid; New and Logout sessions are produced
// directly by their constructors and never revisited.
type Status int

const (
	StatusInvalid Status = iota
	StatusNew
	StatusLogged
	StatusLogout
)

// Flags controls which parts of the response Response emits.
type Flags uint8

const (
	FlagXAuthHeaders Flags = 1 << iota
	FlagCookies
	FlagForwardAuth
	FlagForwardAuthRedirect
)

// Has reports whether flag is set in f.
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// SessionTokenSet is the cookie/Bearer-derived form of a token pair: each
// half is independently optional.
type SessionTokenSet struct {
	AccessToken  *string
	RefreshToken *string
}

// Data is the process-wide, read-only state shared by every Session: the
// configured cookie names, the master Crypto, the optional JWT signer,
// the business API client and the upstream Provider. It is built once at
// server start.
type Data struct {
	CookieAccessTokenName  string
	CookieRefreshTokenName string
	// XAuthData is the configured passthrough string emitted verbatim as
	// the x-auth-data header alongside x-auth-userinfo.
	XAuthData string

	Crypto   *crypto.Cipher
	JWT      *jwtsigner.Signer
	API      *apiclient.Client
	Provider *provider.Provider
}

// Session is a transient, per-request object. It is never shared across
// requests.
type Session struct {
	Data       *Data
	Status     Status
	Userinfo   *provider.Userinfo
	HasSession bool
	TokenSet   SessionTokenSet
	IDToken    interface{}
}

// New builds a fresh session right after a successful provider grant.
func New(data *Data, tokenSet *provider.TokenSet) *Session {
	access := tokenSet.AccessToken
	refresh := tokenSet.RefreshToken
	return &Session{
		Data:       data,
		Status:     StatusNew,
		HasSession: false,
		TokenSet:   SessionTokenSet{AccessToken: &access, RefreshToken: &refresh},
		IDToken:    tokenSet.IDToken,
	}
}

// Logout builds a session that clears whatever the browser currently holds.
func Logout(data *Data) *Session {
	return &Session{Data: data, Status: StatusLogout, HasSession: true}
}

// FromRequest extracts a SessionTokenSet from req's cookies, falling back
// to the Authorization: Bearer header, per the algorithm in §4.6.2.
func FromRequest(data *Data, req *http.Request) *Session {
	tokenSet := extract(data, req)
	hasSession := tokenSet.AccessToken != nil || tokenSet.RefreshToken != nil
	return &Session{Data: data, Status: StatusInvalid, HasSession: hasSession, TokenSet: tokenSet}
}

func extract(data *Data, req *http.Request) SessionTokenSet {
	var access, refresh *string
	var foundAccess, foundRefresh bool

	for _, cookie := range req.Cookies() {
		switch {
		case !foundAccess && cookie.Name == data.CookieAccessTokenName:
			foundAccess = true
			if value, err := data.Crypto.Decrypt(cookie.Value); err == nil {
				access = &value
			}
		case !foundRefresh && cookie.Name == data.CookieRefreshTokenName:
			foundRefresh = true
			if value, err := data.Crypto.Decrypt(cookie.Value); err == nil {
				refresh = &value
			}
		}
		if foundAccess && foundRefresh {
			break
		}
	}

	if access != nil || refresh != nil {
		return SessionTokenSet{AccessToken: access, RefreshToken: refresh}
	}

	if bearerAccess, bearerRefresh, ok := extractBearer(req); ok {
		return SessionTokenSet{AccessToken: bearerAccess, RefreshToken: bearerRefresh}
	}
	return SessionTokenSet{}
}

func extractBearer(req *http.Request) (access, refresh *string, ok bool) {
	header := req.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return nil, nil, false
	}

	parts := strings.SplitN(header[7:], "|", 2)
	a := parts[0]
	access = &a
	if len(parts) == 2 {
		r := parts[1]
		refresh = &r
	}
	return access, refresh, true
}

// Validate is the only writer of Status. Starting from StatusInvalid, it
// resolves userinfo for the current access token, falling back to a
// refresh_token grant (and a second userinfo call) when refresh is true
// and the access token is absent or rejected.
func (s *Session) Validate(ctx context.Context, refresh bool) error {
	if s.Status != StatusInvalid {
		return nil
	}
	if s.TokenSet.AccessToken == nil && s.TokenSet.RefreshToken == nil {
		return nil
	}

	if s.TokenSet.AccessToken != nil {
		info, err := s.Data.Provider.Userinfo(ctx, *s.TokenSet.AccessToken)
		if err != nil {
			return fmt.Errorf("session: userinfo: %w", err)
		}
		if info != nil {
			s.Status = StatusLogged
			s.Userinfo = info
			return nil
		}
		if !refresh {
			return nil
		}
	}

	if refresh && s.TokenSet.RefreshToken != nil {
		newTokenSet, err := s.Data.Provider.GrantRefreshToken(ctx, *s.TokenSet.RefreshToken)
		if err != nil {
			return fmt.Errorf("session: refresh grant: %w", err)
		}
		if newTokenSet != nil {
			info, err := s.Data.Provider.Userinfo(ctx, newTokenSet.AccessToken)
			if err != nil {
				return fmt.Errorf("session: userinfo after refresh: %w", err)
			}
			if info != nil {
				s.Status = StatusNew
				s.Userinfo = info
				access := newTokenSet.AccessToken
				newRefresh := newTokenSet.RefreshToken
				s.TokenSet = SessionTokenSet{AccessToken: &access, RefreshToken: &newRefresh}
				s.IDToken = newTokenSet.IDToken
				return nil
			}
		}
	}

	return nil
}

// Response shapes the HTTP response from the session's status, has_session
// flag and the requested Flags. It never writes Status.
func (s *Session) Response(ctx context.Context, w http.ResponseWriter, req *http.Request, flags Flags) error {
	var cookies []*http.Cookie
	statusCode := http.StatusUnauthorized
	location := ""
	// writeStatus is true only for StatusInvalid: New/Logged/Logout leave
	// the final status code (redirect or implicit 200) to the route
	// handler, which runs its own logic (e.g. 302 to a post-login URL)
	// after cookies and headers have been attached here.
	writeStatus := false

	switch s.Status {
	case StatusInvalid:
		writeStatus = true
		if s.HasSession {
			cookies = append(cookies, s.clearingCookies()...)
			if err := s.Data.API.OnLogout(ctx, &cookies); err != nil {
				return fmt.Errorf("session: on_logout: %w", err)
			}
		}

		if flags.Has(FlagForwardAuth) {
			flags |= FlagCookies
			if flags.Has(FlagForwardAuthRedirect) {
				proto := headerOrDefault(req, "X-Forwarded-Proto", "http")
				host := req.Header.Get("X-Forwarded-Host")
				uri := headerOrDefault(req, "X-Forwarded-Uri", "/")
				location = fmt.Sprintf("%s://%s/login?url=%s", proto, host, uri)
				statusCode = http.StatusFound
			}
		}

	case StatusLogout:
		cookies = append(cookies, s.clearingCookies()...)
		if err := s.Data.API.OnLogout(ctx, &cookies); err != nil {
			return fmt.Errorf("session: on_logout: %w", err)
		}

	case StatusNew:
		if flags.Has(FlagForwardAuth) {
			flags |= FlagXAuthHeaders
		}
		fresh, err := s.freshCookies()
		if err != nil {
			return fmt.Errorf("session: encrypt fresh cookies: %w", err)
		}
		cookies = append(cookies, fresh...)
		if s.IDToken != nil {
			if err := s.Data.API.OnIDToken(ctx, &cookies, s.IDToken); err != nil {
				return fmt.Errorf("session: on_id_token: %w", err)
			}
		}

	case StatusLogged:
		if flags.Has(FlagForwardAuth) {
			flags |= FlagXAuthHeaders
		}
	}

	if flags.Has(FlagXAuthHeaders) && s.Userinfo != nil {
		encoded, err := s.Data.JWT.EncodeStr(s.Userinfo.Data)
		if err != nil {
			return fmt.Errorf("session: encode userinfo: %w", err)
		}
		w.Header().Set("x-auth-userinfo", encoded)
		if s.Data.XAuthData != "" {
			w.Header().Set("x-auth-data", s.Data.XAuthData)
		}
	}

	for i, cookie := range cookies {
		if flags.Has(FlagXAuthHeaders) {
			w.Header().Set(fmt.Sprintf("x-auth-set-cookie-%d", i+1), cookie.String())
		}
		if flags.Has(FlagCookies) {
			http.SetCookie(w, cookie)
		}
	}

	if location != "" {
		w.Header().Set("Location", location)
	}
	if writeStatus {
		w.WriteHeader(statusCode)
	}
	return nil
}

func (s *Session) freshCookies() ([]*http.Cookie, error) {
	var cookies []*http.Cookie

	if s.TokenSet.AccessToken != nil {
		encrypted, err := s.Data.Crypto.Encrypt(*s.TokenSet.AccessToken)
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, s.newCookie(s.Data.CookieAccessTokenName, encrypted, false))
	}
	if s.TokenSet.RefreshToken != nil {
		encrypted, err := s.Data.Crypto.Encrypt(*s.TokenSet.RefreshToken)
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, s.newCookie(s.Data.CookieRefreshTokenName, encrypted, false))
	}

	return cookies, nil
}

func (s *Session) clearingCookies() []*http.Cookie {
	return []*http.Cookie{
		s.newCookie(s.Data.CookieAccessTokenName, "", true),
		s.newCookie(s.Data.CookieRefreshTokenName, "", true),
	}
}

func (s *Session) newCookie(name, value string, clearing bool) *http.Cookie {
	cookie := &http.Cookie{Name: name, Value: value, Path: "/", HttpOnly: true}
	if clearing {
		cookie.Expires = time.Unix(1, 0).UTC()
	}
	return cookie
}

func headerOrDefault(req *http.Request, name, def string) string {
	if v := req.Header.Get(name); v != "" {
		return v
	}
	return def
}
