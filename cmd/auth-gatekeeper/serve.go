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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/rhangai/auth-gatekeeper/pkg/gateway"
	"github.com/rhangai/auth-gatekeeper/pkg/settings"
)

func newServeCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the auth gateway HTTP server",
		Flags: settings.Flags(),
		Action: func(c *cli.Context) error {
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cli.Context) error {
	s, err := settings.Load(c)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	gw, err := gateway.New(s)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	listeners, err := parseListeners(s.Listen)
	if err != nil {
		return fmt.Errorf("parse listen addresses: %w", err)
	}

	handler := gw.Router()

	var wg sync.WaitGroup
	errs := make(chan error, len(listeners))
	servers := make([]*http.Server, len(listeners))

	for i, ln := range listeners {
		server := &http.Server{Handler: handler}
		servers[i] = server

		wg.Add(1)
		go func(ln net.Listener, server *http.Server) {
			defer wg.Done()
			log.Info().Str("addr", ln.Addr().String()).Msg("Listening")
			if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
				errs <- err
			}
		}(ln, server)
	}

	select {
	case <-ctx.Done():
	case err := <-errs:
		log.Error().Err(err).Msg("Listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed, closing")
			_ = server.Close()
		}
	}

	wg.Wait()
	return nil
}

// parseListeners builds one net.Listener per comma-separated address.
// Each address is either "unix:/path/to.sock" or an "http://host:port"
// URL (scheme is ignored beyond distinguishing it from "unix:").
func parseListeners(raw string) ([]net.Listener, error) {
	var listeners []net.Listener

	for _, addr := range strings.Split(raw, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		if path, ok := strings.CutPrefix(addr, "unix:"); ok {
			ln, err := net.Listen("unix", path)
			if err != nil {
				return nil, fmt.Errorf("listen on unix socket %q: %w", path, err)
			}
			listeners = append(listeners, ln)
			continue
		}

		parsed, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("parse listen address %q: %w", addr, err)
		}

		ln, err := net.Listen("tcp", parsed.Host)
		if err != nil {
			return nil, fmt.Errorf("listen on %q: %w", parsed.Host, err)
		}
		listeners = append(listeners, ln)
	}

	if len(listeners) == 0 {
		return nil, fmt.Errorf("no listen address configured")
	}

	return listeners, nil
}
