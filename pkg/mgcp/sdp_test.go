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

package mgcp

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"
)

func TestLocalDescription(t *testing.T) {
	cases := []struct {
		name    string
		offer   string
		mode    ConnectionMode
		formats []string
		err     error
	}{
		{name: "no offer", formats: []string{"0", "8", "101"}},
		{name: "offer", offer: testOffer, mode: ModeRecvOnly, formats: []string{"0", "101"}},
		{
			name:    "offer order",
			offer:   "v=0\r\no=- 7 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 9 8 0\r\n",
			formats: []string{"8", "0"},
		},
		{
			name:  "no common codec",
			offer: "v=0\r\no=- 7 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 9\r\n",
			err:   ErrNoCommonCodec,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var offer []byte
			if c.offer != "" {
				offer = []byte(c.offer)
			}
			data, err := localDescription(offer, "10.1.1.1", 30000, c.mode)
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)

			var desc sdp.SessionDescription
			require.NoError(t, desc.Unmarshal(data))
			require.Equal(t, "10.1.1.1", desc.ConnectionInformation.Address.Address)
			require.Len(t, desc.MediaDescriptions, 1)
			md := desc.MediaDescriptions[0]
			require.Equal(t, 30000, md.MediaName.Port.Value)
			require.Equal(t, c.formats, md.MediaName.Formats)

			mode := c.mode
			if mode == "" {
				mode = ModeSendRecv
			}
			_, ok := md.Attribute(string(mode))
			require.True(t, ok)
		})
	}
}

func TestLocalDescriptionInvalidOffer(t *testing.T) {
	_, err := localDescription([]byte("not sdp"), "10.1.1.1", 30000, ModeSendRecv)
	require.Error(t, err)
}
