// Package signaling определяет контракт между ядром вызовов и транспортным
// уровнем SIP: интерфейс Operation (дескриптор сигнальной операции),
// структурированные причины отказов и проверяемую привязку операции к
// владеющему объекту.
//
// Сам транспорт (парсинг и отправка SIP сообщений, аутентификация, ретраи
// транзакций) находится за пределами ядра; адаптер поверх sipgo живет в
// пакете signaling_sipgo.
package signaling

import "github.com/emiago/sipgo/sip"

// Reason классифицированная причина отказа сигнального уровня
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDeclined
	ReasonBusy
	ReasonNotFound
	ReasonTemporarilyUnavailable
	ReasonNotAcceptable
	ReasonUnsupportedContent
	ReasonRequestPending
	ReasonRedirect
	ReasonTimeout
	ReasonIOError
	ReasonServiceUnavailable
	ReasonForbidden
	ReasonUnknown
)

// String возвращает человекочитаемое описание причины
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDeclined:
		return "declined"
	case ReasonBusy:
		return "busy"
	case ReasonNotFound:
		return "not found"
	case ReasonTemporarilyUnavailable:
		return "temporarily unavailable"
	case ReasonNotAcceptable:
		return "not acceptable"
	case ReasonUnsupportedContent:
		return "unsupported content"
	case ReasonRequestPending:
		return "request pending"
	case ReasonRedirect:
		return "redirect"
	case ReasonTimeout:
		return "timeout"
	case ReasonIOError:
		return "io error"
	case ReasonServiceUnavailable:
		return "service unavailable"
	case ReasonForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Failure структурированный отказ: классифицированная причина, код протокола
// и человекочитаемый текст. Передается через событие CallFailure, а не как
// голая строка.
type Failure struct {
	Reason Reason
	Code   int
	Text   string
}

// ReasonFromStatus классифицирует SIP код ответа
func ReasonFromStatus(code int) Reason {
	switch code {
	case sip.StatusBusyHere, sip.StatusGlobalBusyEverywhere:
		return ReasonBusy
	case sip.StatusGlobalDecline:
		return ReasonDeclined
	case sip.StatusNotFound, sip.StatusGlobalDoesNotExistAnywhere:
		return ReasonNotFound
	case sip.StatusTemporarilyUnavailable:
		return ReasonTemporarilyUnavailable
	case sip.StatusNotAcceptableHere, sip.StatusNotAcceptable, sip.StatusGlobalNotAcceptable:
		return ReasonNotAcceptable
	case sip.StatusUnsupportedMediaType:
		return ReasonUnsupportedContent
	case 491:
		return ReasonRequestPending
	case sip.StatusMovedPermanently, sip.StatusMovedTemporarily, sip.StatusUseProxy:
		return ReasonRedirect
	case sip.StatusRequestTimeout, sip.StatusGatewayTimeout:
		return ReasonTimeout
	case sip.StatusServiceUnavailable:
		return ReasonServiceUnavailable
	case sip.StatusForbidden:
		return ReasonForbidden
	default:
		return ReasonUnknown
	}
}

// StatusFromReason возвращает SIP код для причины отклонения вызова
func StatusFromReason(r Reason) int {
	switch r {
	case ReasonBusy:
		return sip.StatusBusyHere
	case ReasonDeclined:
		return sip.StatusGlobalDecline
	case ReasonNotFound:
		return sip.StatusNotFound
	case ReasonTemporarilyUnavailable:
		return sip.StatusTemporarilyUnavailable
	case ReasonNotAcceptable:
		return sip.StatusNotAcceptableHere
	case ReasonUnsupportedContent:
		return sip.StatusUnsupportedMediaType
	case ReasonRedirect:
		return sip.StatusMovedTemporarily
	case ReasonForbidden:
		return sip.StatusForbidden
	default:
		return sip.StatusInternalServerError
	}
}
