// Package call реализует вызов и его машину состояний: авторитетный набор
// состояний, допустимые переходы, реакции на сигнальные события и действия
// пользователя, автоматические ретраи с понижением возможностей и перевод
// вызова.
//
// Вызов владеет снимками описаний медиа (локальное, удаленное, результат,
// максимальное) и мутирует их только на сигнальном потоке; медиа домену
// передаются только команды и копии.
package call

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arzzra/soft_call/pkg/media_desc"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// CallDirection направление вызова
type CallDirection int

const (
	DirectionOutgoing CallDirection = iota
	DirectionIncoming
)

// String возвращает строковое представление направления
func (d CallDirection) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// Call один вызов. Создается ядром на исходящий вызов или на входящий INVITE;
// уничтожается только после достижения Released.
//
// Все методы вызываются с сигнального потока ядра, упорядоченность смен
// состояний одного вызова гарантируется этим потоком.
type Call struct {
	id  string
	dir CallDirection
	op  signaling.Operation

	deps Deps
	log  *slog.Logger

	state     State
	prevState State
	validator *stateValidator

	params MediaParams

	// Снимки описаний медиа. biggest отслеживает максимум потоков,
	// виденный за все ре-согласования.
	localDesc  *media_desc.MediaDescription
	resultDesc *media_desc.MediaDescription
	remoteDesc *media_desc.MediaDescription
	biggest    *media_desc.MediaDescription

	// expectMediaInAck ответ offer/answer придет только в ACK
	expectMediaInAck bool
	// allMuted потоки запущены заглушенными
	allMuted bool
	// mediaStarted потоки сейчас запущены
	mediaStarted bool
	// ringback локальный ringback проигрывается
	ringback bool

	// Перевод вызова
	transferTarget string
	// referer вызов, породивший этот вызов переводом
	referer *Call
	// transferee новый вызов, порожденный нашим Refered
	transferee *Call

	// lastFailure последний отказ сигнального уровня
	lastFailure signaling.Failure

	// everConnected вызов хотя бы раз достигал Connected
	everConnected bool

	released bool
}

// wasConnected возвращает true, если вызов хотя бы раз был соединен
func (c *Call) wasConnected() bool { return c.everConnected }

// New создает вызов поверх сигнальной операции и привязывает его к ней
func New(dir CallDirection, op signaling.Operation, params MediaParams, localDesc *media_desc.MediaDescription, deps Deps, log *slog.Logger) *Call {
	if log == nil {
		log = slog.Default()
	}
	c := &Call{
		id:        uuid.NewString(),
		dir:       dir,
		op:        op,
		deps:      deps,
		params:    params,
		localDesc: localDesc,
		state:     StateIdle,
		prevState: StateIdle,
		validator: newStateValidator(),
	}
	c.log = log.With(slog.String("call_id", c.id), slog.String("direction", dir.String()))
	op.Binding().Attach(signaling.OwnerCall, c)
	c.updateBiggest(localDesc)
	return c
}

// ID возвращает идентификатор вызова
func (c *Call) ID() string { return c.id }

// Direction возвращает направление вызова
func (c *Call) Direction() CallDirection { return c.dir }

// State возвращает текущее состояние
func (c *Call) State() State { return c.state }

// PreviousState возвращает состояние до последнего перехода
func (c *Call) PreviousState() State { return c.prevState }

// Operation возвращает сигнальную операцию вызова
func (c *Call) Operation() signaling.Operation { return c.op }

// Params возвращает текущие локальные медиа параметры
func (c *Call) Params() MediaParams { return c.params }

// LocalDescription возвращает локальное описание медиа
func (c *Call) LocalDescription() *media_desc.MediaDescription { return c.localDesc }

// ResultDescription возвращает результат последнего согласования, либо nil
func (c *Call) ResultDescription() *media_desc.MediaDescription { return c.resultDesc }

// RemoteDescription возвращает последнее описание удаленной стороны, либо nil
func (c *Call) RemoteDescription() *media_desc.MediaDescription { return c.remoteDesc }

// BiggestDescription возвращает описание с максимальным числом потоков,
// виденное за время вызова
func (c *Call) BiggestDescription() *media_desc.MediaDescription { return c.biggest }

// LastFailure возвращает последний отказ сигнального уровня
func (c *Call) LastFailure() signaling.Failure { return c.lastFailure }

// TransferTarget возвращает цель перевода, если вызов в состоянии Refered
func (c *Call) TransferTarget() string { return c.transferTarget }

// Referer возвращает вызов, переводом которого создан этот вызов, либо nil
func (c *Call) Referer() *Call { return c.referer }

// setState выполняет валидированный переход состояния и уведомляет приложение
func (c *Call) setState(next State, message string) {
	if err := c.validator.validate(c.state, next); err != nil {
		// Нарушение контракта: событие логируется, вызов остается в текущем
		// состоянии
		c.log.Error("отвергнут переход состояния",
			slog.String("from", c.state.String()),
			slog.String("to", next.String()),
			slog.String("error", err.Error()))
		return
	}
	if c.state == next {
		return
	}
	c.prevState = c.state
	c.state = next
	if next == StateConnected {
		c.everConnected = true
	}
	c.log.Info("смена состояния вызова",
		slog.String("from", c.prevState.String()),
		slog.String("to", next.String()),
		slog.String("message", message))
	if c.deps.Notify != nil {
		c.deps.Notify.CallStateChanged(c, next, message)
	}
	if c.referer != nil && c.deps.Notify != nil {
		c.deps.Notify.TransferStateChanged(c.referer, next)
	}
	// Прогресс вызова-перевода управляет судьбой переведенного вызова
	if c.referer != nil {
		c.referer.transfereeStateChanged(c, next)
	}
}

// restorePreviousState откатывает вызов в состояние до начала неуспешного
// ре-согласования
func (c *Call) restorePreviousState(message string) {
	prev := c.prevState
	c.log.Info("откат состояния вызова",
		slog.String("from", c.state.String()),
		slog.String("to", prev.String()),
		slog.String("message", message))
	c.state = prev
	if c.deps.Notify != nil {
		c.deps.Notify.CallStateChanged(c, prev, message)
	}
}

// updateBiggest обновляет максимум потоков, виденный вызовом
func (c *Call) updateBiggest(md *media_desc.MediaDescription) {
	if md == nil {
		return
	}
	if c.biggest == nil || len(md.Streams) > len(c.biggest.Streams) {
		c.biggest = md.Clone()
	}
}

// StartOutgoing запускает исходящий вызов: публикует offer и переводит вызов
// в OutgoingInit/OutgoingProgress
func (c *Call) StartOutgoing() error {
	if c.state != StateIdle {
		return newStateError(c, "START_BAD_STATE", "исходящий вызов можно начать только из Idle")
	}
	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		return fmt.Errorf("публикация локального описания: %w", err)
	}
	if err := c.op.Start(); err != nil {
		return fmt.Errorf("отправка вызова: %w", err)
	}
	c.setState(StateOutgoingInit, "Начало исходящего вызова")
	if err := c.deps.Media.InitStreams(c); err != nil {
		c.log.Warn("инициализация медиа потоков не удалась", slog.String("error", err.Error()))
	}
	c.setState(StateOutgoingProgress, "Вызов выполняется")
	return nil
}

// StartIncoming переводит вызов, созданный по входящему INVITE, в
// IncomingReceived
func (c *Call) StartIncoming() error {
	if c.state != StateIdle {
		return newStateError(c, "START_BAD_STATE", "входящий вызов можно начать только из Idle")
	}
	c.remoteDesc = c.op.RemoteMediaDescription()
	c.updateBiggest(c.remoteDesc)
	c.setState(StateIncomingReceived, "Входящий вызов")
	return nil
}

// Accept отвечает на входящий вызов
func (c *Call) Accept() error {
	switch c.state {
	case StateIncomingReceived, StateIncomingEarlyMedia:
	default:
		return newStateError(c, "ACCEPT_BAD_STATE", "ответить можно только на входящий вызов в состоянии ожидания")
	}
	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		return fmt.Errorf("публикация локального описания: %w", err)
	}
	if err := c.op.Accept(); err != nil {
		return fmt.Errorf("подтверждение вызова: %w", err)
	}
	c.setState(StateConnected, "Соединено")
	md := c.op.FinalMediaDescription()
	if md == nil {
		// Answer придет в ACK
		c.expectMediaInAck = true
		return nil
	}
	c.applyNegotiated(md, true)
	return nil
}

// Decline отклоняет входящий вызов
func (c *Call) Decline(reason signaling.Reason, redirectAddr string) error {
	switch c.state {
	case StateIncomingReceived, StateIncomingEarlyMedia:
	default:
		return newStateError(c, "DECLINE_BAD_STATE", "отклонить можно только входящий вызов в состоянии ожидания")
	}
	if err := c.op.Decline(reason, redirectAddr); err != nil {
		return fmt.Errorf("отклонение вызова: %w", err)
	}
	c.stopMedia()
	c.setState(StateEnd, "Вызов отклонен")
	return nil
}

// Terminate завершает вызов по инициативе пользователя
func (c *Call) Terminate() error {
	switch c.state {
	case StateEnd, StateError, StateReleased:
		return newStateError(c, "TERMINATE_BAD_STATE", "вызов уже завершен")
	}
	if err := c.op.Terminate(); err != nil {
		return fmt.Errorf("завершение вызова: %w", err)
	}
	c.stopMedia()
	c.setState(StateEnd, "Вызов завершен")
	return nil
}

// Pause ставит вызов на удержание: re-offer с направлением sendonly
func (c *Call) Pause() error {
	switch c.state {
	case StateStreamsRunning, StatePausedByRemote, StateRefered:
	default:
		return newStateError(c, "PAUSE_BAD_STATE", "на удержание можно поставить только активный вызов")
	}
	for i := range c.localDesc.Streams {
		s := &c.localDesc.Streams[i]
		if s.Direction == media_desc.DirectionRecvOnly {
			s.Direction = media_desc.DirectionInactive
		} else {
			s.Direction = media_desc.DirectionSendOnly
		}
	}
	c.localDesc.BumpVersion()
	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		return fmt.Errorf("публикация локального описания: %w", err)
	}
	if err := c.op.Update("Call on hold"); err != nil {
		return fmt.Errorf("отправка запроса удержания: %w", err)
	}
	c.setState(StatePausing, "Постановка на удержание")
	return nil
}

// Resume снимает вызов с удержания
func (c *Call) Resume() error {
	if c.state != StatePaused {
		return newStateError(c, "RESUME_BAD_STATE", "снять с удержания можно только удерживаемый вызов")
	}
	for i := range c.localDesc.Streams {
		c.localDesc.Streams[i].Direction = media_desc.DirectionSendRecv
	}
	c.localDesc.BumpVersion()
	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		return fmt.Errorf("публикация локального описания: %w", err)
	}
	if err := c.op.Update("Call resumed"); err != nil {
		return fmt.Errorf("отправка запроса возобновления: %w", err)
	}
	c.setState(StateResuming, "Снятие с удержания")
	return nil
}

// Update запускает ре-согласование с новыми параметрами (смена кодеков,
// включение видео и т.п.)
func (c *Call) Update(params MediaParams, localDesc *media_desc.MediaDescription) error {
	switch c.state {
	case StateStreamsRunning, StatePausedByRemote:
	default:
		return newStateError(c, "UPDATE_BAD_STATE", "ре-согласование возможно только в установленном вызове")
	}
	c.params = params
	localDesc.SessionID = c.localDesc.SessionID
	localDesc.SessionVersion = c.localDesc.SessionVersion
	c.localDesc = localDesc
	c.localDesc.BumpVersion()
	c.updateBiggest(c.localDesc)
	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		return fmt.Errorf("публикация локального описания: %w", err)
	}
	if err := c.op.Update("Media update"); err != nil {
		return fmt.Errorf("отправка ре-согласования: %w", err)
	}
	c.setState(StateUpdating, "Обновление параметров вызова")
	return nil
}

// AcceptUpdate отвечает на отложенный reINVITE (вызов в UpdatedByRemote)
func (c *Call) AcceptUpdate() error {
	if c.state != StateUpdatedByRemote {
		return newStateError(c, "ACCEPT_UPDATE_BAD_STATE", "нет отложенного запроса обновления")
	}
	return c.acceptRemoteUpdate()
}

// Transfer переводит вызов на target (отправка REFER — обязанность операции)
func (c *Call) Transfer(target string) error {
	switch c.state {
	case StateStreamsRunning, StatePaused:
	default:
		return newStateError(c, "TRANSFER_BAD_STATE", "перевод возможен только в установленном вызове")
	}
	c.transferTarget = target
	c.setState(StateRefered, "Перевод вызова")
	return nil
}

// stopMedia останавливает потоки и ringback, если они активны
func (c *Call) stopMedia() {
	if c.ringback {
		c.deps.Media.StopRingback(c)
		c.ringback = false
	}
	if c.mediaStarted {
		c.deps.Media.StopStreams(c)
		c.mediaStarted = false
	}
}

// release освобождает ресурсы вызова. Повторное освобождение — ошибка
// программирования: продолжение привело бы к двойному освобождению общих
// ресурсов, поэтому падаем сразу.
func (c *Call) release() {
	if c.released {
		panic(fmt.Sprintf("call %s: двойное освобождение", c.id))
	}
	c.released = true
	c.stopMedia()
	c.op.Binding().Detach()
	c.op.Release()
	c.setState(StateReleased, "Вызов освобожден")
}
