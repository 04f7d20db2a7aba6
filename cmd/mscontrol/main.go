// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/mscontrol/pkg/config"
	"github.com/livekit/mscontrol/pkg/errors"
	"github.com/livekit/mscontrol/pkg/mscontrol"
	"github.com/livekit/mscontrol/pkg/service"
	"github.com/livekit/mscontrol/pkg/stats"
	"github.com/livekit/mscontrol/version"
)

func main() {
	cmd := &cli.Command{
		Name:        "mscontrol",
		Usage:       "LiveKit media session control",
		Version:     version.Version,
		Description: "Drives per-call media sessions on a media gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("MSCONTROL_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("MSCONTROL_CONFIG_BODY"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "graph",
				Usage:  "print the media session state graph in Graphviz format",
				Action: printGraph,
			},
		},
		Action: runService,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
	}
}

func runService(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c, true)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGTERM, syscall.SIGQUIT)

	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, syscall.SIGINT)

	mon := stats.NewMonitor(conf)
	svc, err := service.NewService(conf, log, mon)
	if err != nil {
		return err
	}

	go func() {
		select {
		case sig := <-stopChan:
			log.Infow("exit requested, closing all media sessions then shutting down", "signal", sig)
			svc.Stop(false)
		case sig := <-killChan:
			log.Infow("exit requested, abandoning media sessions and shutting down", "signal", sig)
			svc.Stop(true)
		}
	}()

	return svc.Run(ctx)
}

func printGraph(_ context.Context, _ *cli.Command) error {
	g, err := mscontrol.Visualize()
	if err != nil {
		return err
	}
	fmt.Println(g)
	return nil
}

func getConfig(c *cli.Command, initialize bool) (*config.Config, error) {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" {
		if configFile == "" {
			return nil, errors.ErrNoConfig
		}
		content, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		configBody = string(content)
	}

	conf, err := config.NewConfig(configBody)
	if err != nil {
		return nil, err
	}

	if initialize {
		err = conf.Init()
		if err != nil {
			return nil, err
		}
	}

	return conf, nil
}
