package signaling_sipgo

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// unmarshalSDP разбирает сырое тело SDP
func unmarshalSDP(body []byte) (*sdp.SessionDescription, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("разбор SDP: %w", err)
	}
	return sd, nil
}
