package call

import (
	"log/slog"

	"github.com/arzzra/soft_call/pkg/media_desc"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// Обработчики сигнальных событий. Вызываются диспетчером ядра строго по
// одному, на сигнальном потоке.

// RemoteRinging обрабатывает предварительный ответ удаленной стороны.
// Без SDP это обычный звонок с локальным ringback; с SDP — раннее медиа,
// потоки запускаются немедленно. Повторный ранний ответ с другой ветви
// ветвления не перезапускает потоки, а добавляет дополнительный адрес
// назначения уже идущей RTP сессии (форк раннего медиа).
func (c *Call) RemoteRinging() {
	switch c.state {
	case StateOutgoingInit, StateOutgoingProgress, StateOutgoingRinging, StateOutgoingEarlyMedia:
	default:
		c.log.Warn("ringing в неожиданном состоянии", slog.String("state", c.state.String()))
		return
	}

	md := c.op.RemoteMediaDescription()
	if md == nil {
		if !c.ringback {
			c.deps.Media.StartRingback(c)
			c.ringback = true
		}
		c.setState(StateOutgoingRinging, "Звонок у удаленной стороны")
		return
	}

	c.remoteDesc = md
	c.updateBiggest(md)
	final := c.op.FinalMediaDescription()
	if final == nil || final.Empty() {
		// SDP есть, но пригодного медиа нет: ведем себя как обычный звонок
		c.setState(StateOutgoingRinging, "Звонок у удаленной стороны")
		return
	}

	if c.mediaStarted && c.state == StateOutgoingEarlyMedia {
		c.addForkDestinations(final)
		return
	}

	// Раннее медиа запускается заглушенным, если приложение не запросило
	// настоящее early media
	c.allMuted = !c.params.RealEarlyMedia
	c.resultDesc = final
	c.setState(StateOutgoingEarlyMedia, "Раннее медиа")
	c.startStreams(false)
}

// addForkDestinations добавляет адреса новой ветви к запущенным потокам.
// Потоки сопоставляются по типу и по совпадению первого кодека.
func (c *Call) addForkDestinations(newMD *media_desc.MediaDescription) {
	for ni := range newMD.Streams {
		ns := &newMD.Streams[ni]
		if !ns.Enabled() {
			continue
		}
		lead, ok := ns.LeadingPayload()
		if !ok {
			continue
		}
		for ri := range c.resultDesc.Streams {
			rs := &c.resultDesc.Streams[ri]
			if !rs.Enabled() || rs.Type != ns.Type {
				continue
			}
			rlead, rok := rs.LeadingPayload()
			if !rok || !rlead.SameMime(lead.MimeType) || rlead.ClockRate != lead.ClockRate {
				continue
			}
			addr := ns.Addr
			if addr == "" {
				addr = newMD.Addr
			}
			if addr != c.resultDesc.StreamAddr(ri) || ns.RTPPort != rs.RTPPort {
				c.log.Info("добавлена ветвь раннего медиа",
					slog.Int("stream", ri),
					slog.String("addr", addr),
					slog.Int("port", ns.RTPPort))
				c.deps.Media.AddForkDestination(c, ri, addr, ns.RTPPort)
			}
			break
		}
	}
}

// RemoteAccepted обрабатывает финальный положительный ответ: на наш INVITE
// либо на наше ре-согласование (hold/resume/update)
func (c *Call) RemoteAccepted() {
	if c.ringback {
		c.deps.Media.StopRingback(c)
		c.ringback = false
	}

	switch {
	case c.state.isPreConnectOutgoing():
		c.remoteDesc = c.op.RemoteMediaDescription()
		c.updateBiggest(c.remoteDesc)
		c.setState(StateConnected, "Соединено")
		md := c.op.FinalMediaDescription()
		if md == nil {
			// Offer был в 200, answer придет в ACK
			c.expectMediaInAck = true
			return
		}
		c.applyNegotiated(md, true)

	case c.state == StatePausing:
		if md := c.op.FinalMediaDescription(); md != nil {
			c.resultDesc = md
		}
		c.startStreams(false)
		c.setState(StatePaused, "Вызов на удержании")

	case c.state == StateResuming || c.state == StateUpdating:
		md := c.op.FinalMediaDescription()
		if md == nil {
			c.restorePreviousState("Ре-согласование без медиа параметров отменено")
			return
		}
		if c.state == StateUpdating {
			flags := media_desc.Changed(c.resultDesc, md)
			if c.mediaStarted && flags.NetworkChangedOnly() {
				c.log.Info("изменилась только сеть, потоки не перезапускаются")
				if err := c.deps.Media.UpdateDestinations(c, c.resultDesc, md); err != nil {
					c.log.Warn("обновление адресов назначения не удалось", slog.String("error", err.Error()))
				}
				c.resultDesc = md
				c.restorePreviousState("Параметры сети обновлены")
				return
			}
		}
		c.applyNegotiated(md, false)

	case c.state == StateEarlyUpdating:
		if md := c.op.FinalMediaDescription(); md != nil {
			c.resultDesc = md
		}
		c.restorePreviousState("Раннее медиа обновлено")

	case c.state == StateConnected || c.state == StateStreamsRunning:
		// Ретрансмиссия 200, игнорируется

	default:
		c.log.Warn("accepted в неожиданном состоянии", slog.String("state", c.state.String()))
	}
}

// AckReceived обрабатывает ACK. Значим только когда answer ожидался в ACK
// (offer был в нашем 200); иначе событие информационное.
func (c *Call) AckReceived() {
	if !c.expectMediaInAck {
		return
	}
	c.expectMediaInAck = false
	md := c.op.FinalMediaDescription()
	if md == nil {
		c.log.Warn("ACK без ожидаемого SDP answer")
		if err := c.op.Terminate(); err != nil {
			c.log.Warn("завершение вызова не удалось", slog.String("error", err.Error()))
		}
		c.stopMedia()
		c.setState(StateError, "Не получены медиа параметры")
		return
	}
	c.applyNegotiated(md, true)
}

// RemoteUpdating обрабатывает входящий reINVITE/UPDATE
func (c *Call) RemoteUpdating() {
	c.remoteDesc = c.op.RemoteMediaDescription()
	c.updateBiggest(c.remoteDesc)

	switch c.state {
	case StateOutgoingRinging, StateOutgoingEarlyMedia, StateIncomingEarlyMedia:
		c.setState(StateEarlyUpdatedByRemote, "Обновление раннего медиа")
		if err := c.acceptRemoteUpdate(); err != nil {
			c.log.Warn("ответ на раннее обновление не удался", slog.String("error", err.Error()))
		}
		return
	}

	if c.params.DeferUpdates {
		c.setState(StateUpdatedByRemote, "Запрошено обновление вызова")
		return
	}
	if err := c.acceptRemoteUpdate(); err != nil {
		c.log.Warn("ответ на обновление не удался", slog.String("error", err.Error()))
	}
}

// acceptRemoteUpdate отвечает на полученный offer текущими локальными
// возможностями и применяет результат
func (c *Call) acceptRemoteUpdate() error {
	oldResult := c.resultDesc

	// Удержание удаленной стороной распознается по направлению ее offer.
	// Версия локального описания поднимается, чтобы наш последующий re-offer
	// распознавался как содержательно новый.
	remoteHolds := c.remoteDesc != nil &&
		(c.remoteDesc.HasDir(media_desc.DirectionSendOnly) || c.remoteDesc.HasDir(media_desc.DirectionInactive))

	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		return err
	}
	if err := c.op.Accept(); err != nil {
		return err
	}
	md := c.op.FinalMediaDescription()
	if md == nil {
		c.log.Warn("обновление принято, но согласованное описание отсутствует")
		return nil
	}

	if c.state == StateEarlyUpdatedByRemote {
		c.resultDesc = md
		c.restorePreviousState("Раннее медиа обновлено")
		return nil
	}

	if remoteHolds {
		c.localDesc.BumpVersion()
		c.resultDesc = md
		c.updateBiggest(md)
		c.startStreams(false)
		c.setState(StatePausedByRemote, "Вызов удержан удаленной стороной")
		return nil
	}

	flags := media_desc.Changed(oldResult, md)
	if c.mediaStarted && flags.NetworkChangedOnly() {
		c.log.Info("изменилась только сеть, потоки не перезапускаются")
		if err := c.deps.Media.UpdateDestinations(c, oldResult, md); err != nil {
			c.log.Warn("обновление адресов назначения не удалось", slog.String("error", err.Error()))
		}
		c.resultDesc = md
		if c.state == StateUpdatedByRemote {
			c.restorePreviousState("Параметры сети обновлены")
		}
		return nil
	}

	c.applyNegotiated(md, false)
	return nil
}

// applyNegotiated применяет результат согласования: решает итоговое состояние
// и командует медиа движком.
//
// accepting == true на первичном установлении вызова (ответ на начальный
// offer с любой стороны), false при ре-согласовании.
func (c *Call) applyNegotiated(md *media_desc.MediaDescription, accepting bool) {
	c.updateBiggest(md)

	if md.Empty() || (c.params.EncryptionMandatory && !md.AllStreamsSecure()) {
		if c.state.isRollbackable() {
			// Провал ре-согласования не убивает установленный вызов
			c.restorePreviousState("Несовместимые параметры медиа, изменения отменены")
			return
		}
		if !accepting && c.wasConnected() {
			// Несовместимый чужой re-offer: answer ушел с отклоненными
			// потоками, вызов остается на прежних параметрах
			if c.state == StateUpdatedByRemote {
				c.restorePreviousState("Несовместимые параметры медиа, изменения отменены")
			} else if c.deps.Notify != nil {
				c.deps.Notify.CallStateChanged(c, c.state, "Несовместимые параметры медиа, изменения отменены")
			}
			return
		}
		// Первичный offer: деградированное медиа не принимается
		if err := c.op.Terminate(); err != nil {
			c.log.Warn("завершение вызова не удалось", slog.String("error", err.Error()))
		}
		c.stopMedia()
		c.setState(StateError, "Несовместимые параметры медиа")
		return
	}

	c.resultDesc = md

	if md.HasDir(media_desc.DirectionSendOnly) || md.HasDir(media_desc.DirectionInactive) {
		c.localDesc.BumpVersion()
		c.startStreams(false)
		c.setState(StatePausedByRemote, "Вызов удержан удаленной стороной")
		return
	}
	if accepting && md.HasDir(media_desc.DirectionRecvOnly) {
		// Удержание в момент ответа
		c.startStreams(false)
		c.setState(StatePausedByRemote, "Вызов удержан удаленной стороной")
		return
	}

	message := "Потоки запущены"
	if c.state == StateResuming {
		message = "Вызов возобновлен"
	}
	c.allMuted = false
	c.startStreams(false)
	c.setState(StateStreamsRunning, message)
}

// startStreams перезапускает потоки по текущему результирующему описанию
func (c *Call) startStreams(sendRingback bool) {
	if c.ringback {
		c.deps.Media.StopRingback(c)
		c.ringback = false
	}
	if c.mediaStarted {
		c.deps.Media.StopStreams(c)
		c.mediaStarted = false
	}
	if err := c.deps.Media.InitStreams(c); err != nil {
		c.log.Warn("инициализация медиа потоков не удалась", slog.String("error", err.Error()))
		return
	}
	if err := c.deps.Media.StartStreams(c, c.allMuted, sendRingback); err != nil {
		c.log.Warn("запуск медиа потоков не удался", slog.String("error", err.Error()))
		return
	}
	c.mediaStarted = true
}

// RemoteTerminated обрабатывает завершение вызова удаленной стороной
func (c *Call) RemoteTerminated() {
	c.stopMedia()
	c.setState(StateEnd, "Вызов завершен удаленной стороной")
}

// Released обрабатывает подтверждение освобождения сигнальной операции.
// Только после него вызов достигает терминального состояния.
func (c *Call) Released() {
	c.release()
}

// SignalingFailure обрабатывает структурированный отказ сигнального уровня
func (c *Call) SignalingFailure(f signaling.Failure) {
	c.lastFailure = f

	switch f.Reason {
	case signaling.ReasonRequestPending:
		// Вовсе не отказ: состояние вызова не меняется, запрос нужно
		// повторить позже
		c.log.Info("запрос отложен удаленной стороной (request pending)")
		if c.state.isRollbackable() {
			c.restorePreviousState("Запрос выполняется, повторите позже")
		}
		return

	case signaling.ReasonNotAcceptable, signaling.ReasonUnsupportedContent:
		if c.state.isPreConnectOutgoing() && c.retryWithDowngrade() {
			return
		}
	}

	if c.state.isRollbackable() {
		// Провал ре-согласования не отменяет установленный вызов
		c.restorePreviousState(failureMessage(f))
		return
	}

	c.stopMedia()
	c.setState(StateError, failureMessage(f))
}

// retryWithDowngrade выполняет автоматический повтор вызова с понижением
// возможностей: сначала без AVPF, затем (если шифрование не обязательно) без
// SRTP. Понижение применяется к первому потоку, которому требуется изменение;
// остальные потоки исправляются последующими повторами.
func (c *Call) retryWithDowngrade() bool {
	for i := range c.localDesc.Streams {
		s := &c.localDesc.Streams[i]
		if !s.Enabled() || !s.Proto.HasAVPF() {
			continue
		}
		if s.Proto == media_desc.ProtoRTPSAVPF {
			s.Proto = media_desc.ProtoRTPSAVP
		} else {
			s.Proto = media_desc.ProtoRTPAVP
		}
		s.ProtoName = s.Proto.String()
		for j := range s.Payloads {
			s.Payloads[j].AVPFEnabled = false
		}
		return c.resubmitDowngraded("Повтор вызова без AVPF")
	}

	if !c.params.EncryptionMandatory {
		for i := range c.localDesc.Streams {
			s := &c.localDesc.Streams[i]
			if !s.Enabled() || !s.Proto.IsSecure() {
				continue
			}
			if s.Proto == media_desc.ProtoRTPSAVPF {
				s.Proto = media_desc.ProtoRTPAVPF
			} else {
				s.Proto = media_desc.ProtoRTPAVP
			}
			s.ProtoName = s.Proto.String()
			s.Crypto = nil
			return c.resubmitDowngraded("Повтор вызова без шифрования")
		}
	}
	return false
}

func (c *Call) resubmitDowngraded(message string) bool {
	c.localDesc.BumpVersion()
	if err := c.op.SetLocalMediaDescription(c.localDesc); err != nil {
		c.log.Warn("публикация пониженного описания не удалась", slog.String("error", err.Error()))
		return false
	}
	if err := c.op.Update(message); err != nil {
		c.log.Warn("повтор вызова не удался", slog.String("error", err.Error()))
		return false
	}
	c.log.Info("автоматический повтор вызова", slog.String("message", message))
	if c.state != StateOutgoingProgress {
		c.setState(StateOutgoingProgress, message)
	} else if c.deps.Notify != nil {
		// Состояние не изменилось, но приложение должно увидеть статус
		c.deps.Notify.CallStateChanged(c, c.state, message)
	}
	return true
}

// TransferRequested обрабатывает полученный REFER: вызов переходит в Refered,
// ядро немедленно размещает новый вызов на цель перевода, а исходный
// автоматически ставится на удержание
func (c *Call) TransferRequested(target string) {
	c.transferTarget = target
	c.setState(StateRefered, "Запрошен перевод вызова")

	if c.transferee != nil || c.deps.Placer == nil {
		return
	}
	newCall, err := c.deps.Placer.PlaceTransferCall(c, target)
	if err != nil {
		c.log.Warn("не удалось разместить вызов перевода", slog.String("error", err.Error()))
		return
	}
	newCall.referer = c
	c.transferee = newCall
	if err := newCall.StartOutgoing(); err != nil {
		c.log.Warn("не удалось начать вызов перевода", slog.String("error", err.Error()))
		c.transferee = nil
		return
	}
	if err := c.Pause(); err != nil {
		c.log.Warn("не удалось удержать переводимый вызов", slog.String("error", err.Error()))
	}
}

// transfereeStateChanged реагирует на прогресс вызова, порожденного нашим
// переводом: его соединение завершает исходный вызов, его провал возобновляет
// удержанный исходный вызов, как только сигнальная операция освободится
func (c *Call) transfereeStateChanged(nc *Call, st State) {
	switch st {
	case StateConnected:
		c.log.Info("перевод удался, исходный вызов завершается")
		if err := c.Terminate(); err != nil {
			c.log.Warn("завершение исходного вызова не удалось", slog.String("error", err.Error()))
		}
	case StateError, StateEnd:
		if nc.wasConnected() {
			return
		}
		c.log.Info("перевод не удался, исходный вызов будет возобновлен")
		c.transferee = nil
		if c.deps.Defer != nil {
			// Повторная проверка из насоса Iterate, пока операция занята
			c.deps.Defer(
				func() bool { return !c.op.Busy() },
				func() {
					if c.state == StatePaused {
						if err := c.Resume(); err != nil {
							c.log.Warn("возобновление после неудачного перевода не удалось",
								slog.String("error", err.Error()))
						}
					}
				},
			)
		}
	}
}

// failureMessage возвращает человекочитаемый статус отказа
func failureMessage(f signaling.Failure) string {
	switch f.Reason {
	case signaling.ReasonBusy:
		return "Занято"
	case signaling.ReasonDeclined:
		return "Вызов отклонен"
	case signaling.ReasonNotFound:
		return "Абонент не найден"
	case signaling.ReasonTemporarilyUnavailable:
		return "Абонент временно недоступен"
	case signaling.ReasonNotAcceptable:
		return "Несовместимые параметры медиа"
	case signaling.ReasonUnsupportedContent:
		return "Неподдерживаемый тип содержимого"
	case signaling.ReasonTimeout:
		return "Истекло время ожидания ответа"
	case signaling.ReasonRedirect:
		return "Вызов перенаправлен"
	case signaling.ReasonIOError:
		return "Ошибка ввода-вывода"
	case signaling.ReasonServiceUnavailable:
		return "Сервис недоступен"
	case signaling.ReasonForbidden:
		return "Доступ запрещен"
	default:
		if f.Text != "" {
			return f.Text
		}
		return "Ошибка вызова"
	}
}
