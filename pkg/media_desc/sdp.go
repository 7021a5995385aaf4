package media_desc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ToSDP сериализует описание в pion SDP структуру.
// Отклоненные потоки сериализуются с портом 0 и без атрибутов кодеков,
// кроме самих форматов — количество и порядок m-line обязаны сохраняться.
func (md *MediaDescription) ToSDP() *sdp.SessionDescription {
	username := md.Username
	if username == "" {
		username = "-"
	}
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       username,
			SessionID:      md.SessionID,
			SessionVersion: md.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: md.Addr,
		},
		SessionName: "Talk",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: md.Addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	if md.Bandwidth > 0 {
		sd.Bandwidth = []sdp.Bandwidth{{Type: "AS", Bandwidth: uint64(md.Bandwidth)}}
	}
	if md.ICELite {
		sd.Attributes = append(sd.Attributes, sdp.Attribute{Key: "ice-lite"})
	}
	if md.RTCPXR.Signaled {
		sd.Attributes = append(sd.Attributes, sdp.Attribute{Key: "rtcp-xr", Value: rtcpXRValue(md.RTCPXR)})
	}

	for i := range md.Streams {
		sd.MediaDescriptions = append(sd.MediaDescriptions, md.Streams[i].toSDP())
	}
	return sd
}

func (s *StreamDescription) toSDP() *sdp.MediaDescription {
	m := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  s.TypeString(),
			Port:   sdp.RangedPort{Value: s.RTPPort},
			Protos: strings.Split(s.ProtoString(), "/"),
		},
	}

	for _, pt := range s.Payloads {
		m.MediaName.Formats = append(m.MediaName.Formats, strconv.Itoa(pt.Number))
	}
	// m-line без форматов синтаксически некорректна
	if len(m.MediaName.Formats) == 0 {
		m.MediaName.Formats = []string{"0"}
	}

	if s.Addr != "" {
		m.ConnectionInformation = &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: s.Addr},
		}
	}
	if s.Bandwidth > 0 {
		m.Bandwidth = []sdp.Bandwidth{{Type: "AS", Bandwidth: uint64(s.Bandwidth)}}
	}
	if !s.Enabled() {
		// Отклоненный поток: только m-line с портом 0
		return m
	}

	if s.RTCPPort != 0 && s.RTCPPort != s.RTPPort+1 {
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "rtcp", Value: strconv.Itoa(s.RTCPPort)})
	}
	for _, pt := range s.Payloads {
		rtpmap := fmt.Sprintf("%d %s/%d", pt.Number, pt.MimeType, pt.ClockRate)
		if pt.ChannelCount() > 1 {
			rtpmap += "/" + strconv.Itoa(pt.ChannelCount())
		}
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "rtpmap", Value: rtpmap})
		if pt.SendFmtp != "" {
			m.Attributes = append(m.Attributes, sdp.Attribute{
				Key:   "fmtp",
				Value: fmt.Sprintf("%d %s", pt.Number, pt.SendFmtp),
			})
		}
		if pt.AVPFEnabled {
			m.Attributes = append(m.Attributes, sdp.Attribute{
				Key:   "rtcp-fb",
				Value: fmt.Sprintf("%d nack", pt.Number),
			})
		}
	}
	for _, c := range s.Crypto {
		m.Attributes = append(m.Attributes, sdp.Attribute{
			Key:   "crypto",
			Value: fmt.Sprintf("%d %s inline:%s", c.Tag, c.Algo, c.MasterKey),
		})
	}
	if s.Ptime > 0 {
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "ptime", Value: strconv.Itoa(s.Ptime)})
	}
	if s.ICEUfrag != "" {
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "ice-ufrag", Value: s.ICEUfrag})
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "ice-pwd", Value: s.ICEPwd})
	}
	for _, cand := range s.ICECandidates {
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "candidate", Value: cand})
	}
	if s.ICEMismatch {
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "ice-mismatch"})
	}
	if s.RTCPXR.Signaled {
		m.Attributes = append(m.Attributes, sdp.Attribute{Key: "rtcp-xr", Value: rtcpXRValue(s.RTCPXR)})
	}
	m.Attributes = append(m.Attributes, sdp.Attribute{Key: s.Direction.String()})
	return m
}

func rtcpXRValue(xr RTCPXRConfig) string {
	if !xr.Enabled {
		return ""
	}
	var parts []string
	if xr.StatSummary {
		parts = append(parts, "stat-summary=loss,dup,jitt")
	}
	if xr.VoIPMetrics {
		parts = append(parts, "voip-metrics")
	}
	return strings.Join(parts, " ")
}

// FromSDP разбирает pion SDP структуру в описание сессии.
// Нераспознанные типы и профили сохраняются дословно, чтобы answer мог
// отклонить такой поток с теми же строками в m-line.
func FromSDP(sd *sdp.SessionDescription) (*MediaDescription, error) {
	if sd == nil {
		return nil, fmt.Errorf("nil session description")
	}
	md := &MediaDescription{
		Username:       sd.Origin.Username,
		SessionID:      sd.Origin.SessionID,
		SessionVersion: sd.Origin.SessionVersion,
	}
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		md.Addr = sd.ConnectionInformation.Address.Address
	} else {
		md.Addr = sd.Origin.UnicastAddress
	}
	for _, b := range sd.Bandwidth {
		if b.Type == "AS" {
			md.Bandwidth = int(b.Bandwidth)
		}
	}
	for _, attr := range sd.Attributes {
		switch attr.Key {
		case "ice-lite":
			md.ICELite = true
		case "rtcp-xr":
			md.RTCPXR = parseRTCPXR(attr.Value)
		}
	}

	for _, m := range sd.MediaDescriptions {
		stream, err := streamFromSDP(m)
		if err != nil {
			return nil, err
		}
		md.Streams = append(md.Streams, stream)
	}
	return md, nil
}

func streamFromSDP(m *sdp.MediaDescription) (StreamDescription, error) {
	s := StreamDescription{
		Type:      ParseMediaType(m.MediaName.Media),
		TypeName:  m.MediaName.Media,
		ProtoName: strings.Join(m.MediaName.Protos, "/"),
		RTPPort:   m.MediaName.Port.Value,
		Direction: DirectionSendRecv,
	}
	s.Proto = ParseTransportProto(s.ProtoName)
	if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
		s.Addr = m.ConnectionInformation.Address.Address
	}
	for _, b := range m.Bandwidth {
		if b.Type == "AS" {
			s.Bandwidth = int(b.Bandwidth)
		}
	}

	// Кодеки в порядке списка форматов; rtpmap/fmtp уточняются ниже
	byNumber := map[int]*PayloadType{}
	for _, f := range m.MediaName.Formats {
		num, err := strconv.Atoi(f)
		if err != nil {
			return s, fmt.Errorf("bad format %q in m-line: %w", f, err)
		}
		s.Payloads = append(s.Payloads, PayloadType{Number: num, CanSend: true, CanRecv: true})
	}
	for i := range s.Payloads {
		byNumber[s.Payloads[i].Number] = &s.Payloads[i]
	}
	// Статические номера без rtpmap (RFC 3551)
	for _, pt := range s.Payloads {
		if name, rate, ok := staticPayload(pt.Number); ok {
			p := byNumber[pt.Number]
			p.MimeType, p.ClockRate, p.Channels = name, rate, 1
		}
	}

	for _, attr := range m.Attributes {
		switch attr.Key {
		case "rtpmap":
			num, name, rate, channels, err := parseRtpmap(attr.Value)
			if err != nil {
				return s, err
			}
			if p, ok := byNumber[num]; ok {
				p.MimeType, p.ClockRate, p.Channels = name, rate, channels
			}
		case "fmtp":
			num, params := splitNumbered(attr.Value)
			if p, ok := byNumber[num]; ok {
				p.SendFmtp = params
			}
		case "rtcp-fb":
			num, _ := splitNumbered(attr.Value)
			if p, ok := byNumber[num]; ok {
				p.AVPFEnabled = true
			}
		case "crypto":
			c, err := parseCrypto(attr.Value)
			if err != nil {
				return s, err
			}
			s.Crypto = append(s.Crypto, c)
		case "ptime":
			s.Ptime, _ = strconv.Atoi(attr.Value)
		case "rtcp":
			s.RTCPPort, _ = strconv.Atoi(strings.Fields(attr.Value)[0])
		case "ice-ufrag":
			s.ICEUfrag = attr.Value
		case "ice-pwd":
			s.ICEPwd = attr.Value
		case "candidate":
			s.ICECandidates = append(s.ICECandidates, attr.Value)
		case "ice-mismatch":
			s.ICEMismatch = true
		case "rtcp-xr":
			s.RTCPXR = parseRTCPXR(attr.Value)
		case "sendrecv":
			s.Direction = DirectionSendRecv
		case "sendonly":
			s.Direction = DirectionSendOnly
		case "recvonly":
			s.Direction = DirectionRecvOnly
		case "inactive":
			s.Direction = DirectionInactive
		}
	}
	return s, nil
}

// parseRtpmap разбирает значение вида "111 opus/48000/2"
func parseRtpmap(v string) (num int, name string, rate, channels int, err error) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", 0, 0, fmt.Errorf("bad rtpmap %q", v)
	}
	num, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", 0, 0, fmt.Errorf("bad rtpmap number %q", fields[0])
	}
	parts := strings.Split(fields[1], "/")
	name = parts[0]
	if len(parts) > 1 {
		rate, _ = strconv.Atoi(parts[1])
	}
	channels = 1
	if len(parts) > 2 {
		channels, _ = strconv.Atoi(parts[2])
	}
	return num, name, rate, channels, nil
}

// splitNumbered разбирает значение вида "<номер> <остальное>"
func splitNumbered(v string) (int, string) {
	fields := strings.SplitN(v, " ", 2)
	num, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1, ""
	}
	if len(fields) < 2 {
		return num, ""
	}
	return num, fields[1]
}

// parseCrypto разбирает значение вида "1 AES_CM_128_HMAC_SHA1_80 inline:<key>"
func parseCrypto(v string) (CryptoSuiteProposal, error) {
	fields := strings.Fields(v)
	if len(fields) < 3 || !strings.HasPrefix(fields[2], "inline:") {
		return CryptoSuiteProposal{}, fmt.Errorf("bad crypto attribute %q", v)
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return CryptoSuiteProposal{}, fmt.Errorf("bad crypto tag %q", fields[0])
	}
	return CryptoSuiteProposal{
		Tag:       tag,
		Algo:      fields[1],
		MasterKey: strings.TrimPrefix(fields[2], "inline:"),
	}, nil
}

func parseRTCPXR(v string) RTCPXRConfig {
	xr := RTCPXRConfig{Signaled: true}
	if v == "" {
		return xr
	}
	xr.Enabled = true
	for _, f := range strings.Fields(v) {
		switch {
		case strings.HasPrefix(f, "stat-summary"):
			xr.StatSummary = true
		case f == "voip-metrics":
			xr.VoIPMetrics = true
		}
	}
	return xr
}

// staticPayload возвращает имя и частоту для статических номеров RFC 3551
func staticPayload(num int) (string, int, bool) {
	switch num {
	case 0:
		return "PCMU", 8000, true
	case 3:
		return "GSM", 8000, true
	case 8:
		return "PCMA", 8000, true
	case 9:
		return "G722", 8000, true
	case 18:
		return "G729", 8000, true
	default:
		return "", 0, false
	}
}
