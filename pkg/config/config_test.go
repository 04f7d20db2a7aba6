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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("MSCONTROL_MEDIA_ADDRESS", "")
	conf, err := NewConfig("")
	require.NoError(t, err)
	require.Equal(t, "mscontrol", conf.ServiceName)
	require.Equal(t, DefaultHistorySize, conf.HistorySize)
	require.Equal(t, "127.0.0.1", conf.Gateway.MediaAddress)
	require.Equal(t, DefaultRequestTimeout, conf.Gateway.RequestTimeout)
	require.Equal(t, DefaultTransactionTTL, conf.Gateway.TransactionTTL)
	require.Equal(t, DefaultHandleCacheSize, conf.Gateway.HandleCacheSize)
	require.False(t, conf.SIP.Enabled)
	require.Equal(t, DefaultSIPPort, conf.SIP.Port)
	require.Equal(t, "udp", conf.SIP.Transport)
}

func TestNewConfigOverrides(t *testing.T) {
	t.Setenv("MSCONTROL_MEDIA_ADDRESS", "")
	conf, err := NewConfig(`
max_active_calls: 10
history_size: 8
gateway:
  name: gw-test
  media_address: 10.1.2.3
  request_timeout: 250ms
sip:
  enabled: true
  port: 5070
  transport: tcp
  answer_timeout: 2s
`)
	require.NoError(t, err)
	require.Equal(t, 10, conf.MaxActiveCalls)
	require.Equal(t, 8, conf.HistorySize)
	require.Equal(t, "gw-test", conf.Gateway.Name)
	require.Equal(t, "10.1.2.3", conf.Gateway.MediaAddress)
	require.Equal(t, 250*time.Millisecond, conf.Gateway.RequestTimeout)
	require.Equal(t, DefaultTransactionTTL, conf.Gateway.TransactionTTL)
	require.True(t, conf.SIP.Enabled)
	require.Equal(t, 5070, conf.SIP.Port)
	require.Equal(t, "tcp", conf.SIP.Transport)
	require.Equal(t, 2*time.Second, conf.SIP.AnswerTimeout)
}

func TestNewConfigMediaAddressEnv(t *testing.T) {
	t.Setenv("MSCONTROL_MEDIA_ADDRESS", "192.168.0.5")
	conf, err := NewConfig("")
	require.NoError(t, err)
	require.Equal(t, "192.168.0.5", conf.Gateway.MediaAddress)

	conf, err = NewConfig("gateway:\n  media_address: 10.0.0.9\n")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9", conf.Gateway.MediaAddress)
}

func TestNewConfigInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"parse":             "max_active_calls: [",
		"negative calls":    "max_active_calls: -1",
		"negative timeout":  "gateway:\n  request_timeout: -1s\n",
		"empty cache":       "gateway:\n  handle_cache_size: 0\n",
		"zero ttl":          "gateway:\n  transaction_ttl: 0s\n",
		"bad sip transport": "sip:\n  enabled: true\n  transport: sctp\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfig(body)
			require.Error(t, err)
		})
	}

	// transport is only checked when sip is enabled
	_, err := NewConfig("sip:\n  transport: sctp\n")
	require.NoError(t, err)
}
