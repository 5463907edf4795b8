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

// Package apiclient notifies an external business API whenever a new
// identity token is minted or a user logs out, and forwards back any
// cookies that API sets so they can reach the browser alongside the
// gateway's own session cookies.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhangai/auth-gatekeeper/pkg/httpclient"
)

// Config is the static configuration of a Client. Either endpoint may be
// empty, in which case the matching notification is a no-op.
type Config struct {
	IDTokenEndpoint string
	LogoutEndpoint  string
}

// Client posts side-channel notifications to the business API.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	client, err := httpclient.New(httpclient.Config{TimeoutSeconds: 30})
	if err != nil {
		return nil, fmt.Errorf("apiclient: build http client: %w", err)
	}
	return &Client{cfg: cfg, client: client}, nil
}

// Error is returned when the business API responds with a non-2xx status.
type Error struct {
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("apiclient: non-2xx response: %d", e.StatusCode)
}

// OnIDToken notifies the business API that a new id_token was minted. Any
// Set-Cookie headers in the response are appended to cookiesOut. A non-2xx
// response is an error and MUST block the caller's login flow.
func (c *Client) OnIDToken(ctx context.Context, cookiesOut *[]*http.Cookie, idToken interface{}) error {
	if c.cfg.IDTokenEndpoint == "" {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{"id_token": idToken})
	if err != nil {
		return fmt.Errorf("apiclient: marshal id_token body: %w", err)
	}

	return c.notify(ctx, c.cfg.IDTokenEndpoint, body, cookiesOut)
}

// OnLogout notifies the business API that a user logged out.
func (c *Client) OnLogout(ctx context.Context, cookiesOut *[]*http.Cookie) error {
	if c.cfg.LogoutEndpoint == "" {
		return nil
	}
	return c.notify(ctx, c.cfg.LogoutEndpoint, nil, cookiesOut)
}

func (c *Client) notify(ctx context.Context, endpoint string, body []byte, cookiesOut *[]*http.Cookie) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: request: %w", err)
	}
	defer resp.Body.Close()

	*cookiesOut = append(*cookiesOut, resp.Cookies()...)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode}
	}
	return nil
}
