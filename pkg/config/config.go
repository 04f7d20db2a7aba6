// Copyright 2023 LiveKit, Inc.
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

package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"
	"github.com/livekit/psrpc"

	"github.com/livekit/mscontrol/pkg/errors"
)

const (
	DefaultRequestTimeout  = 5 * time.Second
	DefaultTransactionTTL  = 30 * time.Second
	DefaultHandleCacheSize = 100_000
	DefaultHistorySize     = 32
	DefaultSIPPort         = 5060
)

type Config struct {
	Logging        logger.Config `yaml:"logging"`
	PrometheusPort int           `yaml:"prometheus_port"`
	MaxActiveCalls int           `yaml:"max_active_calls"` // 0 means unlimited
	HistorySize    int           `yaml:"history_size"`     // transitions kept per call for diagnostics

	Gateway GatewayConfig `yaml:"gateway"`
	SIP     SIPConfig     `yaml:"sip"`

	// internal
	ServiceName string `yaml:"-"`
	NodeID      string // Do not provide, will be overwritten
}

type GatewayConfig struct {
	Name            string        `yaml:"name"`
	MediaAddress    string        `yaml:"media_address"` // env MSCONTROL_MEDIA_ADDRESS
	RTPPortStart    int           `yaml:"rtp_port_start"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TransactionTTL  time.Duration `yaml:"transaction_ttl"`
	HandleCacheSize int           `yaml:"handle_cache_size"`
}

type SIPConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Port          int           `yaml:"port"`
	Transport     string        `yaml:"transport"`
	Hostname      string        `yaml:"hostname"`
	AnswerTimeout time.Duration `yaml:"answer_timeout"`
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		ServiceName: "mscontrol",
		HistorySize: DefaultHistorySize,
		Gateway: GatewayConfig{
			Name:            "loopback",
			MediaAddress:    os.Getenv("MSCONTROL_MEDIA_ADDRESS"),
			RTPPortStart:    10000,
			RequestTimeout:  DefaultRequestTimeout,
			TransactionTTL:  DefaultTransactionTTL,
			HandleCacheSize: DefaultHandleCacheSize,
		},
		SIP: SIPConfig{
			Port:          DefaultSIPPort,
			Transport:     "udp",
			AnswerTimeout: 10 * time.Second,
		},
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}
	if conf.Gateway.MediaAddress == "" {
		conf.Gateway.MediaAddress = "127.0.0.1"
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (conf *Config) validate() error {
	if conf.MaxActiveCalls < 0 {
		return psrpc.NewErrorf(psrpc.InvalidArgument, "max_active_calls must not be negative")
	}
	if conf.Gateway.RequestTimeout < 0 {
		return psrpc.NewErrorf(psrpc.InvalidArgument, "gateway.request_timeout must not be negative")
	}
	if conf.Gateway.HandleCacheSize <= 0 {
		return psrpc.NewErrorf(psrpc.InvalidArgument, "gateway.handle_cache_size must be positive")
	}
	if conf.Gateway.TransactionTTL <= 0 {
		return psrpc.NewErrorf(psrpc.InvalidArgument, "gateway.transaction_ttl must be positive")
	}
	if conf.SIP.Enabled {
		switch conf.SIP.Transport {
		case "udp", "tcp":
		default:
			return psrpc.NewErrorf(psrpc.InvalidArgument, "unsupported sip transport %q", conf.SIP.Transport)
		}
	}
	return nil
}

func (conf *Config) Init() error {
	conf.NodeID = guid.New("NE_")

	if err := conf.InitLogger(); err != nil {
		return err
	}

	return nil
}

func (c *Config) InitLogger(values ...interface{}) error {
	zl, err := logger.NewZapLogger(&c.Logging)
	if err != nil {
		return err
	}

	values = append(c.GetLoggerValues(), values...)
	l := zl.WithValues(values...)
	logger.SetLogger(l, c.ServiceName)

	return nil
}

// To use with zap logger
func (c *Config) GetLoggerValues() []interface{} {
	return []interface{}{"nodeID", c.NodeID}
}
