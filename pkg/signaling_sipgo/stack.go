// Package signaling_sipgo реализует сигнальный транспорт поверх sipgo:
// операции вызова и регистрации, разбор SDP тел и доставка событий
// диспетчеру ядра.
//
// Стек переводит SIP запросы и ответы в события ядра; согласование
// offer/answer выполняется движком пакета offer_answer в момент, когда
// известны обе стороны обмена.
package signaling_sipgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/soft_call/pkg/core"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// Config конфигурация SIP стека
type Config struct {
	// UserAgent значение заголовка User-Agent
	UserAgent string
	// Username локальное имя пользователя
	Username string
	// Host локальный адрес для Contact и прослушивания
	Host string
	// Port локальный порт
	Port int
	// Transport протокол: udp или tcp
	Transport string
	// OneMatchingCodec оставлять единственный кодек в answer
	OneMatchingCodec bool
	// Logger структурный логгер
	Logger *slog.Logger
}

// Stack SIP стек. Реализует core.Provider; события доставляет в Handler.
type Stack struct {
	cfg    Config
	log    *slog.Logger
	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	contact sip.ContactHeader

	// Handler приемник событий; обычно core.Core.HandleEvent
	Handler func(ev core.Event)

	mu  sync.Mutex
	ops map[string]*operation // Call-ID -> операция

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStack создает SIP стек
func NewStack(cfg Config) (*Stack, error) {
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("создание user agent: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("создание SIP сервера: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("создание SIP клиента: %w", err)
	}

	s := &Stack{
		cfg:    cfg,
		log:    log.With(slog.String("component", "sip_stack")),
		ua:     ua,
		server: server,
		client: client,
		ops:    make(map[string]*operation),
		contact: sip.ContactHeader{
			Address: sip.Uri{
				User: cfg.Username,
				Host: cfg.Host,
				Port: cfg.Port,
			},
		},
	}
	s.registerHandlers()
	return s, nil
}

// Serve запускает прослушивание; блокирует до отмены контекста
func (s *Stack) Serve(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	return s.server.ListenAndServe(s.ctx, s.cfg.Transport, addr)
}

// Shutdown останавливает стек и освобождает ресурсы
func (s *Stack) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.server.Close()
	_ = s.client.Close()
}

// NewCallOperation реализует core.Provider: операция исходящего вызова
func (s *Stack) NewCallOperation(target string) (signaling.Operation, error) {
	var uri sip.Uri
	if err := sip.ParseUri(target, &uri); err != nil {
		return nil, fmt.Errorf("разбор адреса %q: %w", target, err)
	}
	op := &operation{
		stack:    s,
		callID:   uuid.NewString(),
		localTag: uuid.NewString()[:8],
		target:   uri,
		offerer:  true,
		log:      s.log.With(slog.String("target", target)),
	}
	s.mu.Lock()
	s.ops[op.callID] = op
	s.mu.Unlock()
	return op, nil
}

// NewRegisterOperation реализует core.Provider: операция регистрации
func (s *Stack) NewRegisterOperation(account, registrar string) (signaling.Operation, error) {
	var uri sip.Uri
	if err := sip.ParseUri(registrar, &uri); err != nil {
		return nil, fmt.Errorf("разбор адреса регистратора %q: %w", registrar, err)
	}
	op := &operation{
		stack:    s,
		callID:   uuid.NewString(),
		localTag: uuid.NewString()[:8],
		target:   uri,
		register: true,
		account:  account,
		log:      s.log.With(slog.String("account", account)),
	}
	s.mu.Lock()
	s.ops[op.callID] = op
	s.mu.Unlock()
	return op, nil
}

// emit доставляет событие диспетчеру ядра
func (s *Stack) emit(ev core.Event) {
	if s.Handler != nil {
		s.Handler(ev)
	}
}

// opByCallID находит операцию по Call-ID запроса
func (s *Stack) opByCallID(req *sip.Request) (*operation, bool) {
	cid := req.CallID()
	if cid == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[cid.Value()]
	return op, ok
}

// forget удаляет операцию из таблицы стека
func (s *Stack) forget(callID string) {
	s.mu.Lock()
	delete(s.ops, callID)
	s.mu.Unlock()
}

// registerHandlers настраивает маршрутизацию входящих запросов
func (s *Stack) registerHandlers() {
	s.server.OnInvite(s.onInvite)
	s.server.OnAck(s.onAck)
	s.server.OnBye(s.onBye)
	s.server.OnCancel(s.onCancel)
	s.server.OnRefer(s.onRefer)
	s.server.OnNotify(s.onNotify)
	s.server.OnInfo(s.onInfo)
	s.server.OnMessage(s.onMessage)
}

func (s *Stack) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	if op, ok := s.opByCallID(req); ok {
		// re-INVITE существующей операции
		op.handleReinvite(req, tx)
		s.emit(core.CallUpdating{Base: core.Base{Op: op}})
		return
	}

	op := &operation{
		stack:    s,
		callID:   req.CallID().Value(),
		localTag: uuid.NewString()[:8],
		offerer:  false,
		log:      s.log.With(slog.String("call_id", req.CallID().Value())),
	}
	op.acceptIncoming(req, tx)
	s.mu.Lock()
	s.ops[op.callID] = op
	s.mu.Unlock()

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)); err != nil {
		op.log.Warn("отправка 180 Ringing", slog.String("error", err.Error()))
	}
	s.emit(core.CallReceived{Base: core.Base{Op: op}})
}

func (s *Stack) onAck(req *sip.Request, tx sip.ServerTransaction) {
	op, ok := s.opByCallID(req)
	if !ok {
		s.log.Debug("ACK для неизвестной операции")
		return
	}
	op.handleAck(req)
	s.emit(core.CallAck{Base: core.Base{Op: op}})
}

func (s *Stack) onBye(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		s.log.Warn("ответ на BYE", slog.String("error", err.Error()))
	}
	op, ok := s.opByCallID(req)
	if !ok {
		return
	}
	s.emit(core.CallTerminated{Base: core.Base{Op: op}})
	s.emit(core.CallReleased{Base: core.Base{Op: op}})
}

func (s *Stack) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		s.log.Warn("ответ на CANCEL", slog.String("error", err.Error()))
	}
	op, ok := s.opByCallID(req)
	if !ok {
		return
	}
	s.emit(core.CallTerminated{Base: core.Base{Op: op}})
	s.emit(core.CallReleased{Base: core.Base{Op: op}})
}

func (s *Stack) onRefer(req *sip.Request, tx sip.ServerTransaction) {
	op, ok := s.opByCallID(req)
	if !ok {
		resp := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return
	}
	referTo := req.GetHeader("Refer-To")
	if referTo == nil {
		resp := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Bad Request", nil)
		_ = tx.Respond(resp)
		return
	}
	resp := sip.NewResponseFromRequest(req, sip.StatusAccepted, "Accepted", nil)
	if err := tx.Respond(resp); err != nil {
		s.log.Warn("ответ на REFER", slog.String("error", err.Error()))
	}
	s.emit(core.ReferReceived{Base: core.Base{Op: op}, Target: referTo.Value()})
}

func (s *Stack) onNotify(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		s.log.Warn("ответ на NOTIFY", slog.String("error", err.Error()))
	}
	op, ok := s.opByCallID(req)
	if !ok {
		return
	}
	eventName := ""
	if h := req.GetHeader("Event"); h != nil {
		eventName = h.Value()
	}
	s.emit(core.NotifyReceived{Base: core.Base{Op: op}, EventName: eventName, Body: req.Body()})
}

func (s *Stack) onInfo(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		s.log.Warn("ответ на INFO", slog.String("error", err.Error()))
	}
	op, ok := s.opByCallID(req)
	if !ok {
		return
	}
	ct := ""
	if h := req.ContentType(); h != nil {
		ct = h.Value()
	}
	s.emit(core.InfoReceived{Base: core.Base{Op: op}, ContentType: ct, Body: req.Body()})
}

func (s *Stack) onMessage(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		s.log.Warn("ответ на MESSAGE", slog.String("error", err.Error()))
	}
	from := ""
	if h := req.From(); h != nil {
		from = h.Address.String()
	}
	s.emit(core.TextReceived{From: from, Text: string(req.Body())})
}
