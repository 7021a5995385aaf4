package offer_answer

import (
	"log/slog"

	"github.com/arzzra/soft_call/pkg/media_desc"
)

// InitiateOutgoing строит итоговое описание сессии после получения answer на
// наш offer.
//
// Для каждого локального потока (в порядке следования) ищется поток answer с
// теми же профилем и типом, включая отклоненные (answer обязан сохранять
// m-line, отклоняя поток портом 0). Поток без пары в answer итогового потока
// не порождает.
func InitiateOutgoing(localOffer, remoteAnswer *media_desc.MediaDescription, log *slog.Logger) *media_desc.MediaDescription {
	if log == nil {
		log = slog.Default()
	}
	result := &media_desc.MediaDescription{
		Username:       localOffer.Username,
		SessionID:      localOffer.SessionID,
		SessionVersion: localOffer.SessionVersion,
		Addr:           remoteAnswer.Addr,
		Bandwidth:      remoteAnswer.Bandwidth,
	}
	// rtcp-xr действует на сессию, только если предложение подтверждено answer
	if localOffer.RTCPXR.Enabled && remoteAnswer.RTCPXR.Signaled {
		result.RTCPXR = localOffer.RTCPXR
	}

	for li := range localOffer.Streams {
		ls := &localOffer.Streams[li]
		rs := findAnswerStream(remoteAnswer, ls.Proto, ls.Type)
		if rs == nil {
			log.Warn("нет потока answer для потока offer",
				slog.Int("index", li),
				slog.String("type", ls.TypeString()),
				slog.String("proto", ls.ProtoString()))
			continue
		}
		result.Streams = append(result.Streams, negotiateOutgoingStream(ls, rs, remoteAnswer, log))
	}
	return result
}

func negotiateOutgoingStream(ls, rs *media_desc.StreamDescription, remote *media_desc.MediaDescription, log *slog.Logger) media_desc.StreamDescription {
	out := media_desc.StreamDescription{
		Type:      ls.Type,
		TypeName:  ls.TypeName,
		Proto:     ls.Proto,
		ProtoName: ls.ProtoName,
		Name:      ls.Name,
	}
	out.Payloads = MatchPayloads(ls.Payloads, rs.Payloads, true, false)
	out.Direction = ResolveOutgoingDirection(ls.Direction, rs.Direction)

	if rs.RTPPort == 0 || !hasSendableMedia(out.Payloads) {
		// Чисто DTMF "медиа" реальным медиа не считается
		out.Decline()
		return out
	}

	out.Addr = rs.Addr
	if out.Addr == "" {
		out.Addr = remote.Addr
	}
	out.RTPPort = rs.RTPPort
	out.RTCPPort = rs.RTCPPort
	out.Bandwidth = rs.Bandwidth
	out.Ptime = rs.Ptime
	out.RTCPXR = rs.RTCPXR

	if ls.Proto.IsSecure() {
		selected, localTag, ok := MatchCryptoSuite(ls.Crypto, rs.Crypto, false)
		if !ok {
			log.Warn("нет общего крипто-набора, поток отклонен",
				slog.String("type", ls.TypeString()))
			out.Decline()
			return out
		}
		out.Crypto = []media_desc.CryptoSuiteProposal{selected}
		out.CryptoLocalTag = localTag
	}
	return out
}

// hasSendableMedia проверяет наличие действительно согласованного кодека:
// добавленные "на всякий случай" кодеки только на прием согласованными не
// считаются
func hasSendableMedia(payloads []media_desc.PayloadType) bool {
	for i := range payloads {
		if payloads[i].CanSend && !payloads[i].IsTelephoneEvent() {
			return true
		}
	}
	return false
}

// findAnswerStream ищет поток answer с заданными профилем и типом, включая
// отклоненные потоки (в отличие от MediaDescription.FindStream)
func findAnswerStream(md *media_desc.MediaDescription, proto media_desc.TransportProto, typ media_desc.MediaType) *media_desc.StreamDescription {
	for i := range md.Streams {
		s := &md.Streams[i]
		if s.Proto == proto && s.Type == typ {
			return s
		}
	}
	return nil
}

// InitiateIncoming строит answer на полученный offer из локальных
// возможностей.
//
// Answer обязан содержать ровно столько потоков, сколько в offer, с теми же
// типами на тех же индексах (соответствие m-line). Поток offer, для которого
// не нашлось совместимого локального потока, получает отклоненную заглушку с
// дословно повторенными строками типа и профиля.
func InitiateIncoming(localCaps, remoteOffer *media_desc.MediaDescription, oneMatchingCodec bool, log *slog.Logger) *media_desc.MediaDescription {
	if log == nil {
		log = slog.Default()
	}
	answer := &media_desc.MediaDescription{
		Username:       localCaps.Username,
		Addr:           localCaps.Addr,
		Bandwidth:      localCaps.Bandwidth,
		SessionID:      localCaps.SessionID,
		SessionVersion: localCaps.SessionVersion,
		ICELite:        localCaps.ICELite,
		ICECompleted:   localCaps.ICECompleted,
	}
	answer.RTCPXR = answerXR(remoteOffer.RTCPXR, localCaps.RTCPXR, true)

	used := make([]bool, len(localCaps.Streams))
	for ri := range remoteOffer.Streams {
		rs := &remoteOffer.Streams[ri]
		if !rs.Enabled() {
			// Отклоненный поток offer не должен занимать локальную возможность
			answer.Streams = append(answer.Streams, declinedPlaceholder(rs))
			continue
		}
		ls := pickLocalStream(localCaps, used, rs)
		if ls == nil {
			log.Info("несовместимый поток offer отклонен",
				slog.Int("index", ri),
				slog.String("type", rs.TypeName),
				slog.String("proto", rs.ProtoName))
			answer.Streams = append(answer.Streams, declinedPlaceholder(rs))
			continue
		}
		answer.Streams = append(answer.Streams, negotiateIncomingStream(ls, rs, localCaps, oneMatchingCodec, log))
	}
	return answer
}

// pickLocalStream ищет еще не использованный в этом answer локальный поток
// подходящего типа с совместимым профилем. Совместимость: точное совпадение
// либо понижение более защищенного локального профиля до предложенного
// (SAVP→AVP, SAVPF→AVPF, SAVPF→AVP).
func pickLocalStream(local *media_desc.MediaDescription, used []bool, rs *media_desc.StreamDescription) *media_desc.StreamDescription {
	if rs.Type == media_desc.MediaTypeOther || rs.Proto == media_desc.ProtoOther {
		return nil
	}
	for i := range local.Streams {
		if used[i] {
			continue
		}
		ls := &local.Streams[i]
		if !ls.Enabled() || ls.Type != rs.Type {
			continue
		}
		if protoCompatible(ls.Proto, rs.Proto) {
			used[i] = true
			return ls
		}
	}
	return nil
}

func protoCompatible(local, offered media_desc.TransportProto) bool {
	if local == offered {
		return true
	}
	switch local {
	case media_desc.ProtoRTPSAVP:
		return offered == media_desc.ProtoRTPAVP
	case media_desc.ProtoRTPSAVPF:
		return offered == media_desc.ProtoRTPAVPF || offered == media_desc.ProtoRTPAVP
	}
	return false
}

// declinedPlaceholder возвращает отклоненный поток answer, повторяющий тип и
// профиль offer, чтобы answer остался синтаксически корректным
func declinedPlaceholder(rs *media_desc.StreamDescription) media_desc.StreamDescription {
	out := media_desc.StreamDescription{
		Type:      rs.Type,
		TypeName:  rs.TypeName,
		Proto:     rs.Proto,
		ProtoName: rs.ProtoName,
		Direction: media_desc.DirectionInactive,
	}
	// Форматы эхом, иначе m-line с пустым списком не сериализуется
	out.Payloads = append(out.Payloads, rs.Payloads...)
	out.RTPPort = 0
	return out
}

func negotiateIncomingStream(ls, rs *media_desc.StreamDescription, local *media_desc.MediaDescription, oneMatchingCodec bool, log *slog.Logger) media_desc.StreamDescription {
	out := media_desc.StreamDescription{
		Type:      rs.Type,
		TypeName:  rs.TypeName,
		Proto:     rs.Proto,
		ProtoName: rs.ProtoName,
		Name:      ls.Name,
		Addr:      ls.Addr,
		RTPPort:   ls.RTPPort,
		RTCPPort:  ls.RTCPPort,
		Bandwidth: ls.Bandwidth,
		Ptime:     ls.Ptime,
	}
	// ICE согласуется вне ядра, данные передаются из локальных возможностей
	out.ICEUfrag = ls.ICEUfrag
	out.ICEPwd = ls.ICEPwd
	out.ICECandidates = append([]string(nil), ls.ICECandidates...)
	out.ICEMismatch = ls.ICEMismatch
	out.ICECompleted = ls.ICECompleted

	out.Payloads = MatchPayloads(ls.Payloads, rs.Payloads, false, oneMatchingCodec)
	out.Direction = ResolveIncomingDirection(ls.Direction, rs.Direction)
	out.RTCPXR = answerXR(rs.RTCPXR, streamXR(ls, local), ls.Direction == media_desc.DirectionSendRecv)

	if rs.RTPPort == 0 || OnlyTelephoneEvent(out.Payloads) {
		out.Decline()
		return out
	}

	if rs.Proto.IsSecure() {
		selected, localTag, ok := MatchCryptoSuite(ls.Crypto, rs.Crypto, true)
		if !ok {
			log.Warn("нет общего крипто-набора, поток offer отклонен",
				slog.String("type", rs.TypeName))
			out.Decline()
			return out
		}
		out.Crypto = []media_desc.CryptoSuiteProposal{selected}
		out.CryptoLocalTag = localTag
	}
	return out
}

// streamXR возвращает действующую для потока конфигурацию rtcp-xr: потоковую
// либо, если потоковая не задана, сессионную
func streamXR(ls *media_desc.StreamDescription, local *media_desc.MediaDescription) media_desc.RTCPXRConfig {
	if ls.RTCPXR.Enabled {
		return ls.RTCPXR
	}
	return local.RTCPXR
}

// answerXR вычисляет конфигурацию rtcp-xr для answer: отчеты включаются,
// только если удаленная сторона их предложила и локальная конфигурация их
// разрешает; на предложение без согласия отвечаем присутствующим, но пустым
// атрибутом, а не молчанием
func answerXR(offered, localCfg media_desc.RTCPXRConfig, dirAllows bool) media_desc.RTCPXRConfig {
	if !offered.Signaled {
		return media_desc.RTCPXRConfig{}
	}
	if localCfg.Enabled && dirAllows {
		out := localCfg
		out.Signaled = true
		return out
	}
	return media_desc.RTCPXRConfig{Signaled: true}
}
