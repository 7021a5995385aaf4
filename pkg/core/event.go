package core

import (
	"time"

	"github.com/arzzra/soft_call/pkg/signaling"
)

// Event сигнальное событие транспортного уровня. Закрытое объединение:
// каждый вид события — отдельный тип, диспетчеризация происходит одним
// switch в Core.HandleEvent, так что забытый вид события виден компилятору.
//
// Каждое событие несет сигнальную операцию, по привязке которой ядро находит
// владельца (вызов, регистрацию или подписку). Событие для операции без
// владельца информационное и никогда не приводит к падению.
type Event interface {
	Operation() signaling.Operation
	isEvent()
}

// Base общая часть события: сигнальная операция
type Base struct {
	Op signaling.Operation
}

func (e Base) Operation() signaling.Operation { return e.Op }
func (e Base) isEvent()                       {}

// CallReceived входящий вызов: операция уже несет offer удаленной стороны
type CallReceived struct{ Base }

// CallRinging предварительный ответ на наш вызов, возможно с ранним медиа
type CallRinging struct{ Base }

// CallAccepted финальный положительный ответ на наш INVITE или re-INVITE
type CallAccepted struct{ Base }

// CallAck получен ACK; значим, когда answer ожидался в ACK
type CallAck struct{ Base }

// CallUpdating входящий re-INVITE/UPDATE с новым offer
type CallUpdating struct{ Base }

// CallTerminated удаленная сторона завершила вызов
type CallTerminated struct{ Base }

// CallFailure отказ сигнального уровня со структурированной причиной
type CallFailure struct {
	Base
	Failure signaling.Failure
}

// CallReleased сигнальная операция освобождена транспортом; только после
// этого события вызов достигает терминального состояния
type CallReleased struct{ Base }

// ReferReceived получен запрос перевода вызова (REFER)
type ReferReceived struct {
	Base
	Target string
}

// NotifyReceived уведомление по подписке (в том числе прогресс перевода)
type NotifyReceived struct {
	Base
	EventName string
	Body      []byte
}

// SubscribeReceived входящая подписка
type SubscribeReceived struct {
	Base
	EventName string
	Expires   time.Duration
}

// SubscribeClosed подписка закрыта удаленной стороной
type SubscribeClosed struct{ Base }

// RegisterSuccess регистрация на прокси подтверждена
type RegisterSuccess struct{ Base }

// RegisterFailure регистрация отвергнута или не удалась
type RegisterFailure struct {
	Base
	Failure signaling.Failure
}

// AuthRequested транспорт запрашивает учетные данные для realm;
// приходит и когда ранее выданные данные отвергнуты
type AuthRequested struct {
	Base
	Realm    string
	Username string
}

// TextReceived входящее текстовое сообщение вне вызова
type TextReceived struct {
	Base
	From string
	Text string
}

// InfoReceived получен INFO внутри вызова
type InfoReceived struct {
	Base
	ContentType string
	Body        []byte
}

// PingReply ответ на keepalive
type PingReply struct {
	Base
	RTT time.Duration
}
