// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"

	"github.com/antgroup/dogma/pkg/serve"
	"github.com/antgroup/dogma/pkg/serve/httpserver"
	"github.com/sirupsen/logrus"
)

type Serve struct {
	Config string `short:"c" name:"config" help:"Location of server config file" default:"~/config/dogma-serve.toml" type:"path"`
}

func (c *Serve) Run(globals *Globals) error {
	sc, err := serve.NewServerConfig(c.Config, globals.ExpandEnv)
	if err != nil {
		logrus.Errorf("dogma-serve load server config error: %v", err)
		return err
	}
	srv, err := httpserver.NewServer(sc)
	if err != nil {
		logrus.Errorf("dogma-serve new http server error: %v", err)
		return err
	}
	closer := newCloser()
	go closer.listenSignal(context.Background(), srv)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("dogma-serve listen server error: %v", err)
		return err
	}
	<-closer.ch
	logrus.Infof("dogma-serve exited")
	return nil
}
