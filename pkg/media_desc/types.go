// Package media_desc содержит модель описания медиа сессии (RFC 4566 / RFC 3264):
// MediaDescription описывает сессию целиком, StreamDescription — один медиа поток
// (m-line), PayloadType — один кодек, CryptoSuiteProposal — предложение SDES
// крипто-набора для SRTP.
//
// Пакет является чистой моделью данных: никакого I/O, никакой логики переговоров.
// Согласование offer/answer выполняет пакет offer_answer, сериализацию в SDP —
// функции ToSDP/FromSDP этого пакета.
package media_desc

import "strings"

// MediaType тип медиа потока
type MediaType int

const (
	MediaTypeAudio MediaType = iota
	MediaTypeVideo
	// MediaTypeOther означает нераспознанный тип m-line. Строковое значение
	// сохраняется в StreamDescription.TypeName и должно передаваться в answer
	// дословно.
	MediaTypeOther
)

// String возвращает строковое представление типа медиа
func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "other"
	}
}

// ParseMediaType разбирает тип медиа из строки m-line
func ParseMediaType(s string) MediaType {
	switch strings.ToLower(s) {
	case "audio":
		return MediaTypeAudio
	case "video":
		return MediaTypeVideo
	default:
		return MediaTypeOther
	}
}

// TransportProto транспортный профиль медиа потока
type TransportProto int

const (
	ProtoRTPAVP TransportProto = iota
	ProtoRTPAVPF
	ProtoRTPSAVP
	ProtoRTPSAVPF
	// ProtoOther означает нераспознанный профиль. Строковое значение
	// сохраняется в StreamDescription.ProtoName.
	ProtoOther
)

// String возвращает каноническое имя профиля
func (p TransportProto) String() string {
	switch p {
	case ProtoRTPAVP:
		return "RTP/AVP"
	case ProtoRTPAVPF:
		return "RTP/AVPF"
	case ProtoRTPSAVP:
		return "RTP/SAVP"
	case ProtoRTPSAVPF:
		return "RTP/SAVPF"
	default:
		return "OTHER"
	}
}

// ParseTransportProto разбирает профиль из строки m-line
func ParseTransportProto(s string) TransportProto {
	switch s {
	case "RTP/AVP":
		return ProtoRTPAVP
	case "RTP/AVPF":
		return ProtoRTPAVPF
	case "RTP/SAVP":
		return ProtoRTPSAVP
	case "RTP/SAVPF":
		return ProtoRTPSAVPF
	default:
		return ProtoOther
	}
}

// IsSecure возвращает true для SRTP профилей
func (p TransportProto) IsSecure() bool {
	return p == ProtoRTPSAVP || p == ProtoRTPSAVPF
}

// HasAVPF возвращает true для профилей с RTCP feedback
func (p TransportProto) HasAVPF() bool {
	return p == ProtoRTPAVPF || p == ProtoRTPSAVPF
}

// Direction направление медиа потока
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

// String возвращает SDP атрибут направления
func (d Direction) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// PayloadType описывает один кодек в списке потока.
// Номер (Number) — это RTP payload number из rtpmap; для динамических кодеков
// он может отличаться между сторонами, правила перенумерации при согласовании
// описаны в пакете offer_answer.
type PayloadType struct {
	// MimeType имя кодека без префикса "audio/" ("PCMU", "opus", "H264", ...)
	MimeType string
	// ClockRate частота дискретизации в Гц
	ClockRate int
	// Channels количество каналов (0 трактуется как 1)
	Channels int
	// Number RTP payload number
	Number int
	// SendFmtp параметры fmtp, которые мы отправляем
	SendFmtp string
	// RecvFmtp параметры fmtp, которые прислала удаленная сторона
	RecvFmtp string
	// CanSend/CanRecv флаги использования кодека по направлениям
	CanSend bool
	CanRecv bool
	// AVPFEnabled удаленная сторона объявила RTCP feedback для этого кодека
	AVPFEnabled bool
	// AVPFRRInterval интервал regular RTCP отчетов в мс (берется больший из двух)
	AVPFRRInterval uint16
}

// Clone возвращает глубокую копию кодека
func (pt PayloadType) Clone() PayloadType {
	// Все поля значимые, достаточно копии по значению
	return pt
}

// ChannelCount возвращает количество каналов, трактуя 0 как 1
func (pt PayloadType) ChannelCount() int {
	if pt.Channels == 0 {
		return 1
	}
	return pt.Channels
}

// IsTelephoneEvent возвращает true для DTMF-over-RTP (RFC 4733)
func (pt PayloadType) IsTelephoneEvent() bool {
	return strings.EqualFold(pt.MimeType, "telephone-event")
}

// SameMime сравнивает имя кодека без учета регистра
func (pt PayloadType) SameMime(name string) bool {
	return strings.EqualFold(pt.MimeType, name)
}

// FmtpValue извлекает значение параметра из строки fmtp вида
// "packetization-mode=1;profile-level-id=42801F". Возвращает пустую строку,
// если параметр отсутствует.
func FmtpValue(fmtp, param string) string {
	for _, kv := range strings.Split(fmtp, ";") {
		kv = strings.TrimSpace(kv)
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			if strings.EqualFold(kv[:eq], param) {
				return kv[eq+1:]
			}
		}
	}
	return ""
}

// CryptoSuiteProposal предложение SDES крипто-набора (RFC 4568, a=crypto)
type CryptoSuiteProposal struct {
	// Tag локальная нумерация предложения в рамках потока
	Tag int
	// Algo идентификатор набора ("AES_CM_128_HMAC_SHA1_80" и т.п.)
	Algo string
	// MasterKey мастер-ключ в base64
	MasterKey string
}

// RTCPXRConfig конфигурация расширенных RTCP отчетов (RFC 3611).
// Signaled означает, что атрибут rtcp-xr присутствует в описании (даже если
// ни один отчет не сконфигурирован) — answer обязан ответить атрибутом на
// атрибут, а не молчанием.
type RTCPXRConfig struct {
	Signaled    bool
	Enabled     bool
	StatSummary bool
	VoIPMetrics bool
}
