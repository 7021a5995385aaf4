package call

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/arzzra/soft_call/pkg/media_desc"
)

// MediaParams локальные пожелания к медиа параметрам вызова
type MediaParams struct {
	// AudioEnabled / VideoEnabled наличие соответствующих потоков в offer
	AudioEnabled bool
	VideoEnabled bool

	// SRTPEnabled предлагать SRTP (SDES)
	SRTPEnabled bool
	// EncryptionMandatory запрет на вызов без шифрования: несовместимый
	// результат прерывает вызов вместо отката к RTP
	EncryptionMandatory bool

	// AVPFEnabled предлагать профиль с RTCP feedback
	AVPFEnabled bool

	// RealEarlyMedia приложение запросило настоящее early media: потоки
	// раннего медиа запускаются без заглушения
	RealEarlyMedia bool

	// OneMatchingCodec оставлять в answer единственный реальный кодек
	OneMatchingCodec bool

	// DeferUpdates не отвечать на reINVITE автоматически, а отдавать
	// решение приложению через состояние UpdatedByRemote
	DeferUpdates bool

	// Bandwidth ограничение полосы в кбит/с (0 — не задано)
	Bandwidth int

	// AudioCodecs / VideoCodecs список локальных возможностей
	AudioCodecs []media_desc.PayloadType
	VideoCodecs []media_desc.PayloadType

	// CryptoSuites предлагаемые алгоритмы SDES в порядке предпочтения
	CryptoSuites []string
}

// DefaultMediaParams возвращает параметры по умолчанию: аудио с PCMU/PCMA/opus
// и DTMF, без видео и без шифрования
func DefaultMediaParams() MediaParams {
	return MediaParams{
		AudioEnabled: true,
		AudioCodecs: []media_desc.PayloadType{
			{MimeType: "opus", ClockRate: 48000, Channels: 2, Number: 96, CanSend: true, CanRecv: true},
			{MimeType: "PCMU", ClockRate: 8000, Channels: 1, Number: 0, CanSend: true, CanRecv: true},
			{MimeType: "PCMA", ClockRate: 8000, Channels: 1, Number: 8, CanSend: true, CanRecv: true},
			{MimeType: "telephone-event", ClockRate: 8000, Channels: 1, Number: 101, SendFmtp: "0-15", CanSend: true, CanRecv: true},
		},
		VideoCodecs: []media_desc.PayloadType{
			{MimeType: "H264", ClockRate: 90000, Channels: 1, Number: 97, SendFmtp: "packetization-mode=1", CanSend: true, CanRecv: true},
			{MimeType: "VP8", ClockRate: 90000, Channels: 1, Number: 98, CanSend: true, CanRecv: true},
		},
		CryptoSuites: []string{"AES_CM_128_HMAC_SHA1_80", "AES_CM_128_HMAC_SHA1_32"},
	}
}

// transportProto возвращает профиль, соответствующий параметрам
func (p MediaParams) transportProto() media_desc.TransportProto {
	switch {
	case p.SRTPEnabled && p.AVPFEnabled:
		return media_desc.ProtoRTPSAVPF
	case p.SRTPEnabled:
		return media_desc.ProtoRTPSAVP
	case p.AVPFEnabled:
		return media_desc.ProtoRTPAVPF
	default:
		return media_desc.ProtoRTPAVP
	}
}

// StreamPorts выделенные локальные порты одного потока
type StreamPorts struct {
	RTP  int
	RTCP int
}

// BuildLocalDescription строит локальное описание сессии из параметров.
// ports задает локальные порты потоков в порядке audio, video.
func BuildLocalDescription(params MediaParams, username, addr string, ports []StreamPorts) *media_desc.MediaDescription {
	md := &media_desc.MediaDescription{
		Username:       username,
		Addr:           addr,
		Bandwidth:      params.Bandwidth,
		SessionID:      uint64(uuid.New().ID()),
		SessionVersion: 1,
	}
	next := 0
	takePorts := func() StreamPorts {
		if next < len(ports) {
			p := ports[next]
			next++
			return p
		}
		return StreamPorts{}
	}
	if params.AudioEnabled {
		md.Streams = append(md.Streams, buildStream(params, media_desc.MediaTypeAudio, params.AudioCodecs, takePorts()))
	}
	if params.VideoEnabled {
		md.Streams = append(md.Streams, buildStream(params, media_desc.MediaTypeVideo, params.VideoCodecs, takePorts()))
	}
	return md
}

func buildStream(params MediaParams, typ media_desc.MediaType, codecs []media_desc.PayloadType, ports StreamPorts) media_desc.StreamDescription {
	proto := params.transportProto()
	s := media_desc.StreamDescription{
		Type:      typ,
		TypeName:  typ.String(),
		Proto:     proto,
		ProtoName: proto.String(),
		RTPPort:   ports.RTP,
		RTCPPort:  ports.RTCP,
		Direction: media_desc.DirectionSendRecv,
	}
	s.Payloads = make([]media_desc.PayloadType, len(codecs))
	copy(s.Payloads, codecs)
	if params.AVPFEnabled {
		for i := range s.Payloads {
			s.Payloads[i].AVPFEnabled = true
		}
	}
	if params.SRTPEnabled {
		for i, algo := range params.CryptoSuites {
			s.Crypto = append(s.Crypto, media_desc.CryptoSuiteProposal{
				Tag:       i + 1,
				Algo:      algo,
				MasterKey: newMasterKey(),
			})
		}
	}
	return s
}

// newMasterKey генерирует мастер-ключ SDES: 30 байт (16 ключ + 14 соль для
// AES_CM_128) в base64
func newMasterKey() string {
	key := make([]byte, 30)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand не отказывает на поддерживаемых платформах
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(key)
}
