// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/antgroup/dogma/pkg/version"
	"github.com/sirupsen/logrus"
)

type App struct {
	Globals
	Serve Serve `cmd:"serve" help:"start dogma configuration service"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("dogma-serve"),
		kong.Description("Dogma - A replicated, version-controlled configuration service"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.GetVersionString(),
		},
	)
	if app.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if err := ctx.Run(&app.Globals); err != nil {
		os.Exit(1)
	}
}
