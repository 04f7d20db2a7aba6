// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/mscontrol/pkg/config"
	"github.com/livekit/mscontrol/pkg/mgcp"
	"github.com/livekit/mscontrol/pkg/mscontrol"
	"github.com/livekit/mscontrol/pkg/signaling"
	"github.com/livekit/mscontrol/pkg/stats"
	"github.com/livekit/mscontrol/version"
)

const drainTimeout = 30 * time.Second

type Service struct {
	conf *config.Config
	log  logger.Logger
	mon  *stats.Monitor

	gw    *mgcp.Loopback
	fe    *mgcp.FrontEnd
	calls *mscontrol.Manager
	sip   *signaling.Server
	prom  *http.Server

	kill     core.Fuse
	shutdown core.Fuse
}

func NewService(conf *config.Config, log logger.Logger, mon *stats.Monitor) (*Service, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	gw := mgcp.NewLoopback(mgcp.LoopbackConfig{
		Name:         conf.Gateway.Name,
		MediaAddress: conf.Gateway.MediaAddress,
		RTPPortStart: conf.Gateway.RTPPortStart,
	}, log.WithValues("component", "gateway"))
	fe, err := mgcp.NewFrontEnd(mgcp.FrontEndConfig{
		TransactionTTL:  conf.Gateway.TransactionTTL,
		HandleCacheSize: conf.Gateway.HandleCacheSize,
	}, gw, mon, log)
	if err != nil {
		return nil, err
	}
	calls := mscontrol.NewManager(mscontrol.ManagerConfig{
		RequestTimeout: conf.Gateway.RequestTimeout,
		HistorySize:    conf.HistorySize,
	}, fe, mon, log)

	s := &Service{
		conf:  conf,
		log:   log,
		mon:   mon,
		gw:    gw,
		fe:    fe,
		calls: calls,
	}
	if conf.SIP.Enabled {
		s.sip = signaling.NewServer(conf.SIP, calls, log)
	}
	return s, nil
}

// Manager gives access to the media session controllers.
func (s *Service) Manager() *mscontrol.Manager {
	return s.calls
}

func (s *Service) Run(ctx context.Context) error {
	s.log.Debugw("starting service", "version", version.Version)

	if err := s.mon.Start(); err != nil {
		return err
	}
	if s.conf.PrometheusPort > 0 {
		s.prom = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.conf.PrometheusPort),
			Handler: promhttp.Handler(),
		}
		go func() {
			if err := s.prom.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Errorw("metrics server failed", err)
			}
		}()
	}
	if s.sip != nil {
		if err := s.sip.Start(ctx); err != nil {
			return err
		}
	}

	s.log.Infow("service ready")
	<-s.shutdown.Watch()
	s.log.Infow("shutting down")

	if s.sip != nil {
		s.sip.Stop()
	}
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	s.calls.Stop(dctx, s.kill.IsBroken())
	s.fe.Close()
	if s.prom != nil {
		_ = s.prom.Close()
	}
	s.mon.Stop()
	return nil
}

// Stop ends the service. Without kill, media sessions are closed on the gateway first.
func (s *Service) Stop(kill bool) {
	s.mon.Shutdown()
	if kill {
		s.kill.Break()
	}
	s.shutdown.Break()
}

func (s *Service) CanAccept() bool {
	return s.mon.CanAccept()
}
