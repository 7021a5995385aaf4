// Package offer_answer реализует согласование медиа параметров по модели
// offer/answer (RFC 3264): подбор кодеков, выбор SDES крипто-набора,
// вычисление направлений потоков и построение итогового описания сессии.
//
// Все функции пакета чистые: без скрытого состояния и без I/O. Это позволяет
// вызывать их повторно при ре-согласовании (reINVITE/UPDATE) и проверять
// свойствами в тестах.
package offer_answer

import "github.com/arzzra/soft_call/pkg/media_desc"

// MatchPayloads строит согласованный список кодеков из локального списка
// возможностей и списка, полученного от удаленной стороны.
//
// readingResponse == true означает, что remote — это answer на наш offer;
// в этом режиме действует двойная нумерация (см. ниже) и в конец добавляются
// локальные кодеки без пары, помеченные только на прием, на случай
// некорректной удаленной стороны, отвечающей неожиданным номером.
//
// oneMatchingCodec оставляет только первый согласованный кодек, не являющийся
// telephone-event; DTMF-over-RTP сохраняется всегда.
func MatchPayloads(local, remote []media_desc.PayloadType, readingResponse, oneMatchingCodec bool) []media_desc.PayloadType {
	var result []media_desc.PayloadType
	singleCodecChosen := false

	for _, ref := range remote {
		matched, ok := findBestMatch(local, ref)
		if !ok {
			continue
		}
		if oneMatchingCodec && !matched.IsTelephoneEvent() {
			if singleCodecChosen {
				continue
			}
			singleCodecChosen = true
		}

		newp := matched.Clone()
		newp.RecvFmtp = ref.SendFmtp
		newp.CanSend = true
		newp.CanRecv = true
		if ref.AVPFEnabled {
			newp.AVPFEnabled = true
			if ref.AVPFRRInterval > newp.AVPFRRInterval {
				newp.AVPFRRInterval = ref.AVPFRRInterval
			}
		}
		// Согласованный кодек нумеруется номером удаленной стороны, чтобы
		// наши исходящие пакеты несли номер, который она распознает
		localNumber := newp.Number
		newp.Number = ref.Number
		result = append(result, newp)

		// В ответе на наш offer удаленная сторона могла сменить номер.
		// Держим клон со своим исходным номером, чтобы декодировать пакеты,
		// пришедшие с любой из двух нумераций.
		if readingResponse && ref.Number != localNumber {
			alias := matched.Clone()
			alias.Number = localNumber
			alias.CanSend = false
			alias.CanRecv = true
			result = append(result, alias)
		}
	}

	if readingResponse {
		// Локальные кодеки без пары добавляются только на прием — на случай
		// удаленной стороны, отвечающей пакетами с номером вне answer
		for _, lp := range local {
			if containsPayload(result, lp) {
				continue
			}
			extra := lp.Clone()
			extra.CanSend = false
			extra.CanRecv = true
			result = append(result, extra)
		}
	}
	return result
}

// findBestMatch ищет лучший локальный кодек для кодека удаленной стороны.
// Совпадать должны mime (без учета регистра), частота и количество каналов.
// Исключения:
//   - G729A и G729 считаются совпадающими в обе стороны;
//   - opus совпадает независимо от количества каналов удаленной стороны,
//     итоговый кодек несет локальное количество каналов;
//   - для H264 предпочитается кандидат с точно совпадающим packetization-mode,
//     иначе берется первый подошедший.
func findBestMatch(local []media_desc.PayloadType, ref media_desc.PayloadType) (media_desc.PayloadType, bool) {
	var candidate *media_desc.PayloadType
	for i := range local {
		lp := &local[i]
		if !mimesMatch(lp.MimeType, ref.MimeType) || lp.ClockRate != ref.ClockRate {
			continue
		}
		opus := lp.SameMime("opus")
		if !opus && lp.ChannelCount() != ref.ChannelCount() {
			continue
		}
		if ref.SameMime("H264") {
			localPM := media_desc.FmtpValue(lp.SendFmtp, "packetization-mode")
			refPM := media_desc.FmtpValue(ref.SendFmtp, "packetization-mode")
			if localPM == refPM {
				return *lp, true
			}
			if candidate == nil {
				candidate = lp
			}
			continue
		}
		return *lp, true
	}
	if candidate != nil {
		return *candidate, true
	}
	return media_desc.PayloadType{}, false
}

// mimesMatch сравнивает имена кодеков с учетом пары G729A/G729
func mimesMatch(a, b string) bool {
	if equalFold(a, b) {
		return true
	}
	return (equalFold(a, "G729") && equalFold(b, "G729A")) ||
		(equalFold(a, "G729A") && equalFold(b, "G729"))
}

func equalFold(a, b string) bool {
	pt := media_desc.PayloadType{MimeType: a}
	return pt.SameMime(b)
}

// containsPayload проверяет наличие кодека в списке по mime/частоте/каналам
func containsPayload(list []media_desc.PayloadType, pt media_desc.PayloadType) bool {
	for i := range list {
		if list[i].SameMime(pt.MimeType) &&
			list[i].ClockRate == pt.ClockRate &&
			list[i].ChannelCount() == pt.ChannelCount() {
			return true
		}
	}
	return false
}

// OnlyTelephoneEvent возвращает true, если список пуст или содержит только
// telephone-event. Поток с таким результатом согласования реальным медиа не
// считается и должен быть отклонен.
func OnlyTelephoneEvent(list []media_desc.PayloadType) bool {
	for i := range list {
		if !list[i].IsTelephoneEvent() {
			return false
		}
	}
	return true
}
