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
	"slices"
	"time"

	"github.com/pion/sdp/v3"
)

var defaultFormats = []string{"0", "8", "101"}

var rtpmaps = map[string]string{
	"0":   "0 PCMU/8000",
	"8":   "8 PCMA/8000",
	"101": "101 telephone-event/8000",
}

// localDescription builds the media server side of a connection. When an offer
// is given the answer keeps only formats both sides support, in offer order.
func localDescription(offer []byte, addr string, port int, mode ConnectionMode) ([]byte, error) {
	sessID := uint64(time.Now().UnixNano())
	formats := defaultFormats
	if len(offer) != 0 {
		var parsed sdp.SessionDescription
		if err := parsed.Unmarshal(offer); err != nil {
			return nil, err
		}
		sessID = parsed.Origin.SessionID
		formats = nil
		for _, md := range parsed.MediaDescriptions {
			if md.MediaName.Media != "audio" {
				continue
			}
			for _, f := range md.MediaName.Formats {
				if _, ok := rtpmaps[f]; ok && !slices.Contains(formats, f) {
					formats = append(formats, f)
				}
			}
		}
		if len(formats) == 0 {
			return nil, ErrNoCommonCodec
		}
	}
	if mode == "" {
		mode = ModeSendRecv
	}

	attrs := make([]sdp.Attribute, 0, len(formats)+4)
	for _, f := range formats {
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: rtpmaps[f]})
	}
	if slices.Contains(formats, "101") {
		attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: "101 0-16"})
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: string(mode)},
	)

	desc := sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessID,
			SessionVersion: sessID + 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "LiveKit",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
	return desc.Marshal()
}
