package core

import (
	"log/slog"

	"github.com/arzzra/soft_call/pkg/call"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// HandleEvent диспетчеризует одно сигнальное событие. Вызывается транспортом
// строго последовательно: переходы состояний одного вызова упорядочены этим
// вызовом.
//
// Событие для операции без владельца информационное: логируется и
// игнорируется. Ряд событий легитимно приходит после разрушения владельца,
// например уведомление об освобождении операции, отклоненной до создания
// вызова.
func (c *Core) HandleEvent(ev Event) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.met.event(eventKind(ev))

	switch e := ev.(type) {
	case CallReceived:
		c.handleCallReceived(e)

	case CallRinging:
		if cl, ok := c.callFor(e.Op); ok {
			cl.RemoteRinging()
		}
	case CallAccepted:
		if cl, ok := c.callFor(e.Op); ok {
			cl.RemoteAccepted()
		}
	case CallAck:
		if cl, ok := c.callFor(e.Op); ok {
			cl.AckReceived()
		}
	case CallUpdating:
		if cl, ok := c.callFor(e.Op); ok {
			cl.RemoteUpdating()
		}
	case CallTerminated:
		if cl, ok := c.callFor(e.Op); ok {
			cl.RemoteTerminated()
		}
	case CallFailure:
		c.met.failure(e.Failure.Reason.String())
		if cl, ok := c.callFor(e.Op); ok {
			cl.SignalingFailure(e.Failure)
		}
	case CallReleased:
		if cl, ok := c.callFor(e.Op); ok {
			cl.Released()
		}
	case ReferReceived:
		if cl, ok := c.callFor(e.Op); ok {
			cl.TransferRequested(e.Target)
		}
	case NotifyReceived:
		c.log.Debug("получен NOTIFY",
			slog.String("event", e.EventName),
			slog.Int("body_len", len(e.Body)))
	case SubscribeReceived:
		c.log.Debug("получена подписка", slog.String("event", e.EventName))
	case SubscribeClosed:
		c.log.Debug("подписка закрыта")

	case RegisterSuccess:
		if r, ok := c.registrationFor(e.Op); ok {
			if r.handleSuccess() {
				c.met.registrationUp(true)
			}
			c.notifyRegistration(r, "Регистрация подтверждена")
		}
	case RegisterFailure:
		if r, ok := c.registrationFor(e.Op); ok {
			if r.handleFailure(e.Failure) && r.State() == RegStateFailed {
				c.met.registrationUp(false)
			}
			c.notifyRegistration(r, failureText(e.Failure))
		}
	case AuthRequested:
		if r, ok := c.registrationFor(e.Op); ok {
			if r.handleAuthRejected() && c.deps.Callbacks.OnAuthRequested != nil {
				c.deps.Callbacks.OnAuthRequested(e.Realm, e.Username)
			}
			return
		}
		if c.deps.Callbacks.OnAuthRequested != nil {
			c.deps.Callbacks.OnAuthRequested(e.Realm, e.Username)
		}

	case TextReceived:
		if c.deps.Callbacks.OnTextReceived != nil {
			c.deps.Callbacks.OnTextReceived(e.From, e.Text)
		}
	case InfoReceived:
		if cl, ok := c.callFor(e.Op); ok && c.deps.Callbacks.OnInfoReceived != nil {
			c.deps.Callbacks.OnInfoReceived(cl, e.ContentType, e.Body)
		}
	case PingReply:
		c.log.Debug("ответ на keepalive", slog.Duration("rtt", e.RTT))

	default:
		c.log.Warn("неизвестный вид сигнального события")
	}
}

// handleCallReceived создает вызов по входящему INVITE
func (c *Core) handleCallReceived(e CallReceived) {
	if _, _, attached := e.Op.Binding().Owner(); attached {
		c.log.Warn("входящий вызов по уже занятой операции")
		return
	}
	params := c.cfg.MediaParams
	params.RealEarlyMedia = params.RealEarlyMedia || c.cfg.RealEarlyMedia
	ports, err := c.allocateStreamPorts(params)
	if err != nil {
		c.log.Warn("входящий вызов отклонен: нет свободных портов", slog.String("error", err.Error()))
		_ = e.Op.Decline(signaling.ReasonTemporarilyUnavailable, "")
		e.Op.Release()
		return
	}
	localDesc := call.BuildLocalDescription(params, c.cfg.Username, c.cfg.LocalAddr, ports)
	cl := call.New(call.DirectionIncoming, e.Op, params, localDesc, c.callDeps(), c.log)
	c.calls[cl.ID()] = cl
	c.met.callStarted(cl.Direction().String())
	if err := cl.StartIncoming(); err != nil {
		c.log.Warn("не удалось принять входящий вызов", slog.String("error", err.Error()))
		delete(c.calls, cl.ID())
		c.met.callReleased()
		return
	}
	if c.deps.Callbacks.OnIncomingCall != nil {
		c.deps.Callbacks.OnIncomingCall(cl)
	}
}

// callFor находит вызов, привязанный к операции
func (c *Core) callFor(op signaling.Operation) (*call.Call, bool) {
	kind, owner, ok := op.Binding().Owner()
	if !ok {
		c.log.Debug("событие для неотслеживаемой операции",
			slog.String("from", op.From()),
			slog.String("to", op.To()))
		return nil, false
	}
	if kind != signaling.OwnerCall {
		c.log.Debug("событие вызова для операции другого владельца")
		return nil, false
	}
	cl, ok := owner.(*call.Call)
	return cl, ok
}

// registrationFor находит регистрацию, привязанную к операции
func (c *Core) registrationFor(op signaling.Operation) (*Registration, bool) {
	kind, owner, ok := op.Binding().Owner()
	if !ok || kind != signaling.OwnerRegistration {
		c.log.Debug("событие регистрации для неотслеживаемой операции")
		return nil, false
	}
	r, ok := owner.(*Registration)
	return r, ok
}

// eventKind возвращает метку вида события для метрик
func eventKind(ev Event) string {
	switch ev.(type) {
	case CallReceived:
		return "call_received"
	case CallRinging:
		return "call_ringing"
	case CallAccepted:
		return "call_accepted"
	case CallAck:
		return "call_ack"
	case CallUpdating:
		return "call_updating"
	case CallTerminated:
		return "call_terminated"
	case CallFailure:
		return "call_failure"
	case CallReleased:
		return "call_released"
	case ReferReceived:
		return "refer_received"
	case NotifyReceived:
		return "notify"
	case SubscribeReceived:
		return "subscribe"
	case SubscribeClosed:
		return "subscribe_closed"
	case RegisterSuccess:
		return "register_success"
	case RegisterFailure:
		return "register_failure"
	case AuthRequested:
		return "auth_requested"
	case TextReceived:
		return "text"
	case InfoReceived:
		return "info"
	case PingReply:
		return "ping_reply"
	default:
		return "unknown"
	}
}

// failureText возвращает статус отказа регистрации
func failureText(f signaling.Failure) string {
	if f.Text != "" {
		return f.Text
	}
	return f.Reason.String()
}
