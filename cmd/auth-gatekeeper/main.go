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
	"os"
	"os/signal"
	"syscall"

	"github.com/ettle/strcase"
	"github.com/urfave/cli/v2"

	"github.com/rhangai/auth-gatekeeper/pkg/logger"
	"github.com/rhangai/auth-gatekeeper/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "auth-gatekeeper",
		Usage: "HTTP authentication gateway in front of an OIDC identity provider",
		Flags: globalFlags(),
		Before: func(c *cli.Context) error {
			logger.Setup(c.String("log-level"), c.String("log-format"))
			version.Log()
			return nil
		},
		Commands: []*cli.Command{
			newServeCommand(ctx),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{strcase.ToSNAKE("log-level")},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "json",
			Usage:   "Log format (json, console)",
			EnvVars: []string{strcase.ToSNAKE("log-format")},
		},
	}
}
