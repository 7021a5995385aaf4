package signaling_sipgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/soft_call/pkg/core"
	"github.com/arzzra/soft_call/pkg/media_desc"
	"github.com/arzzra/soft_call/pkg/offer_answer"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// operation сигнальная операция поверх sipgo. Реализует signaling.Operation.
//
// Согласование offer/answer выполняется в момент, когда известны обе стороны
// обмена: для нашего offer — при получении ответа с SDP, для чужого offer —
// при отправке нашего answer в Accept.
type operation struct {
	stack *Stack
	log   *slog.Logger

	callID    string
	localTag  string
	remoteTag string
	target    sip.Uri
	register  bool
	account   string
	offerer   bool

	mu       sync.Mutex
	binding  signaling.Binding
	localMD  *media_desc.MediaDescription
	remoteMD *media_desc.MediaDescription
	finalMD  *media_desc.MediaDescription
	busy     bool
	released bool
	accepted bool

	cseq      uint32
	inviteReq *sip.Request
	serverReq *sip.Request
	serverTx  sip.ServerTransaction
	fromAddr  string
	toAddr    string
}

func (o *operation) RemoteMediaDescription() *media_desc.MediaDescription {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remoteMD
}

func (o *operation) FinalMediaDescription() *media_desc.MediaDescription {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalMD
}

func (o *operation) SetLocalMediaDescription(md *media_desc.MediaDescription) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.localMD = md
	return nil
}

func (o *operation) IsOfferer() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offerer
}

func (o *operation) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

func (o *operation) Binding() *signaling.Binding { return &o.binding }

func (o *operation) From() string { return o.fromAddr }
func (o *operation) To() string   { return o.toAddr }

// Start отправляет INVITE с текущим локальным offer либо REGISTER
func (o *operation) Start() error {
	if o.register {
		return o.sendRegister()
	}
	return o.sendInvite()
}

// sdpBody сериализует описание в тело SDP
func sdpBody(md *media_desc.MediaDescription) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	return md.ToSDP().Marshal()
}

// newRequest собирает запрос в рамках операции: Call-ID, From/To, CSeq
func (o *operation) newRequest(method sip.RequestMethod) *sip.Request {
	req := sip.NewRequest(method, o.target)
	req.AppendHeader(sip.NewHeader("Call-ID", o.callID))
	req.AppendHeader(&sip.FromHeader{
		Address: o.stack.contact.Address,
		Params:  sip.HeaderParams{"tag": o.localTag},
	})
	toParams := sip.HeaderParams{}
	if o.remoteTag != "" {
		toParams["tag"] = o.remoteTag
	}
	req.AppendHeader(&sip.ToHeader{Address: o.target, Params: toParams})
	o.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: o.cseq, MethodName: method})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(&o.stack.contact)
	if o.stack.cfg.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", o.stack.cfg.UserAgent))
	}
	return req
}

func (o *operation) sendInvite() error {
	o.mu.Lock()
	body, err := sdpBody(o.localMD)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("сериализация SDP offer: %w", err)
	}
	req := o.newRequest(sip.INVITE)
	if body != nil {
		req.SetBody(body)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	o.inviteReq = req
	o.busy = true
	o.fromAddr = o.stack.contact.Address.String()
	o.toAddr = o.target.String()
	o.mu.Unlock()

	tx, err := o.stack.client.TransactionRequest(context.Background(), req)
	if err != nil {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
		return fmt.Errorf("отправка INVITE: %w", err)
	}
	go o.consumeInviteResponses(tx, true)
	return nil
}

// consumeInviteResponses читает ответы транзакции INVITE и переводит их в
// события ядра. initial == false для re-INVITE.
func (o *operation) consumeInviteResponses(tx sip.ClientTransaction, initial bool) {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return
			}
			o.handleInviteResponse(res, initial)
			if res.StatusCode >= 200 {
				return
			}
		case <-tx.Done():
			if initial {
				o.stack.emit(core.CallFailure{
					Base:    core.Base{Op: o},
					Failure: signaling.Failure{Reason: signaling.ReasonTimeout, Text: "Request Timeout"},
				})
				o.stack.emit(core.CallReleased{Base: core.Base{Op: o}})
			}
			return
		}
	}
}

func (o *operation) handleInviteResponse(res *sip.Response, initial bool) {
	if to := res.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			o.remoteTag = tag
		}
	}

	switch {
	case res.StatusCode < sip.StatusOK:
		if res.StatusCode == sip.StatusTrying {
			return
		}
		o.absorbAnswer(res.Body())
		o.stack.emit(core.CallRinging{Base: core.Base{Op: o}})

	case res.StatusCode < 300:
		o.absorbAnswer(res.Body())
		o.mu.Lock()
		o.busy = false
		o.accepted = true
		o.mu.Unlock()
		o.sendAck()
		o.stack.emit(core.CallAccepted{Base: core.Base{Op: o}})

	default:
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
		f := signaling.Failure{
			Reason: signaling.ReasonFromStatus(res.StatusCode),
			Code:   res.StatusCode,
			Text:   res.Reason,
		}
		o.stack.emit(core.CallFailure{Base: core.Base{Op: o}, Failure: f})
		if initial {
			// Первичный INVITE отвергнут: операция завершена. Ядро может
			// успеть отправить пониженный повтор; в этом случае операция
			// снова занята и освобождение не доставляется.
			o.mu.Lock()
			retrying := o.busy
			o.mu.Unlock()
			if !retrying {
				o.stack.emit(core.CallReleased{Base: core.Base{Op: o}})
			}
		}
	}
}

// absorbAnswer разбирает SDP answer и завершает offer/answer обмен
func (o *operation) absorbAnswer(body []byte) {
	if len(body) == 0 {
		return
	}
	md, err := parseSDP(body)
	if err != nil {
		o.log.Warn("разбор SDP ответа", slog.String("error", err.Error()))
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remoteMD = md
	if o.localMD != nil {
		o.finalMD = offer_answer.InitiateOutgoing(o.localMD, md, o.log)
	}
}

func (o *operation) sendAck() {
	o.mu.Lock()
	req := o.newRequest(sip.ACK)
	o.mu.Unlock()
	if err := o.stack.client.WriteRequest(req); err != nil {
		o.log.Warn("отправка ACK", slog.String("error", err.Error()))
	}
}

// acceptIncoming запоминает входящий INVITE и его offer
func (o *operation) acceptIncoming(req *sip.Request, tx sip.ServerTransaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.serverReq = req
	o.serverTx = tx
	if from := req.From(); from != nil {
		o.fromAddr = from.Address.String()
		if tag, ok := from.Params.Get("tag"); ok {
			o.remoteTag = tag
		}
	}
	if to := req.To(); to != nil {
		o.toAddr = to.Address.String()
		o.target = to.Address
	}
	if len(req.Body()) > 0 {
		md, err := parseSDP(req.Body())
		if err != nil {
			o.log.Warn("разбор SDP offer", slog.String("error", err.Error()))
		} else {
			o.remoteMD = md
		}
	} else {
		// INVITE без SDP: offer будет наш, в 200
		o.offerer = true
	}
	o.busy = true
}

// handleReinvite запоминает re-INVITE: начинается новый offer/answer обмен
func (o *operation) handleReinvite(req *sip.Request, tx sip.ServerTransaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.serverReq = req
	o.serverTx = tx
	o.finalMD = nil
	o.offerer = len(req.Body()) == 0
	if len(req.Body()) > 0 {
		md, err := parseSDP(req.Body())
		if err != nil {
			o.log.Warn("разбор SDP re-INVITE", slog.String("error", err.Error()))
		} else {
			o.remoteMD = md
		}
	}
	o.busy = true
}

// handleAck обрабатывает ACK; если offer был в нашем 200, ACK несет answer
func (o *operation) handleAck(req *sip.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
	if len(req.Body()) == 0 {
		return
	}
	md, err := parseSDP(req.Body())
	if err != nil {
		o.log.Warn("разбор SDP в ACK", slog.String("error", err.Error()))
		return
	}
	o.remoteMD = md
	if o.offerer && o.localMD != nil {
		o.finalMD = offer_answer.InitiateOutgoing(o.localMD, md, o.log)
	}
}

// Accept отвечает 200 OK. Если offer был удаленным, согласует answer движком
// offer/answer и кладет его в тело; если offer наш (INVITE без SDP), кладет
// локальное описание, answer придет в ACK.
func (o *operation) Accept() error {
	o.mu.Lock()
	if o.serverTx == nil || o.serverReq == nil {
		o.mu.Unlock()
		return fmt.Errorf("нет входящей транзакции для ответа")
	}
	var body *media_desc.MediaDescription
	if o.remoteMD != nil && !o.offerer {
		o.finalMD = offer_answer.InitiateIncoming(o.localMD, o.remoteMD, o.stack.cfg.OneMatchingCodec, o.log)
		body = o.finalMD
	} else {
		body = o.localMD
	}
	raw, err := sdpBody(body)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("сериализация SDP answer: %w", err)
	}
	res := sip.NewResponseFromRequest(o.serverReq, sip.StatusOK, "OK", raw)
	if raw != nil {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	res.AppendHeader(&o.stack.contact)
	tx := o.serverTx
	o.serverTx = nil
	o.accepted = true
	o.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		return fmt.Errorf("отправка 200 OK: %w", err)
	}
	return nil
}

// Decline отклоняет входящую операцию
func (o *operation) Decline(reason signaling.Reason, redirectAddr string) error {
	o.mu.Lock()
	if o.serverTx == nil || o.serverReq == nil {
		o.mu.Unlock()
		return fmt.Errorf("нет входящей транзакции для отклонения")
	}
	code := signaling.StatusFromReason(reason)
	res := sip.NewResponseFromRequest(o.serverReq, code, reasonPhrase(code), nil)
	if reason == signaling.ReasonRedirect && redirectAddr != "" {
		res.AppendHeader(sip.NewHeader("Contact", redirectAddr))
	}
	tx := o.serverTx
	o.serverTx = nil
	o.busy = false
	o.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		return fmt.Errorf("отправка отказа: %w", err)
	}
	// Освобождение доставляется событием, не синхронно
	go o.stack.emit(core.CallReleased{Base: core.Base{Op: o}})
	return nil
}

// Update отправляет re-INVITE с текущим локальным описанием
func (o *operation) Update(subject string) error {
	o.mu.Lock()
	body, err := sdpBody(o.localMD)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("сериализация SDP offer: %w", err)
	}
	req := o.newRequest(sip.INVITE)
	if body != nil {
		req.SetBody(body)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	if subject != "" {
		req.AppendHeader(sip.NewHeader("Subject", subject))
	}
	o.offerer = true
	o.finalMD = nil
	o.busy = true
	initial := !o.accepted
	o.mu.Unlock()

	tx, err := o.stack.client.TransactionRequest(context.Background(), req)
	if err != nil {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
		return fmt.Errorf("отправка re-INVITE: %w", err)
	}
	go o.consumeInviteResponses(tx, initial)
	return nil
}

// Terminate завершает операцию: BYE после соединения, CANCEL до него
func (o *operation) Terminate() error {
	o.mu.Lock()
	accepted := o.accepted
	serverTx := o.serverTx
	serverReq := o.serverReq
	o.serverTx = nil
	o.mu.Unlock()

	if serverTx != nil && serverReq != nil {
		// Входящий вызов, ответ еще не отправлен
		res := sip.NewResponseFromRequest(serverReq, sip.StatusGlobalDecline, "Decline", nil)
		if err := serverTx.Respond(res); err != nil {
			return fmt.Errorf("отклонение входящего вызова: %w", err)
		}
		go o.stack.emit(core.CallReleased{Base: core.Base{Op: o}})
		return nil
	}

	var req *sip.Request
	o.mu.Lock()
	if accepted {
		req = o.newRequest(sip.BYE)
	} else {
		req = o.newRequest(sip.CANCEL)
	}
	o.mu.Unlock()

	tx, err := o.stack.client.TransactionRequest(context.Background(), req)
	if err != nil {
		return fmt.Errorf("отправка завершения: %w", err)
	}
	go func() {
		select {
		case <-tx.Done():
		case res, ok := <-tx.Responses():
			_ = res
			_ = ok
		}
		o.stack.emit(core.CallReleased{Base: core.Base{Op: o}})
	}()
	return nil
}

// Release освобождает операцию. Повторное освобождение — ошибка
// программирования.
func (o *operation) Release() {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		panic(fmt.Sprintf("operation %s: двойное освобождение", o.callID))
	}
	o.released = true
	o.mu.Unlock()
	o.stack.forget(o.callID)
}

// sendRegister отправляет REGISTER и переводит ответы в события регистрации
func (o *operation) sendRegister() error {
	o.mu.Lock()
	req := o.newRequest(sip.REGISTER)
	o.busy = true
	o.fromAddr = o.account
	o.toAddr = o.target.String()
	o.mu.Unlock()

	tx, err := o.stack.client.TransactionRequest(context.Background(), req)
	if err != nil {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
		return fmt.Errorf("отправка REGISTER: %w", err)
	}
	go o.consumeRegisterResponses(tx)
	return nil
}

func (o *operation) consumeRegisterResponses(tx sip.ClientTransaction) {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return
			}
			if res.StatusCode < sip.StatusOK {
				continue
			}
			o.mu.Lock()
			o.busy = false
			o.mu.Unlock()
			switch {
			case res.StatusCode < 300:
				o.stack.emit(core.RegisterSuccess{Base: core.Base{Op: o}})
			case res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired:
				o.stack.emit(core.AuthRequested{
					Base:     core.Base{Op: o},
					Realm:    o.target.Host,
					Username: o.account,
				})
			default:
				o.stack.emit(core.RegisterFailure{
					Base: core.Base{Op: o},
					Failure: signaling.Failure{
						Reason: signaling.ReasonFromStatus(res.StatusCode),
						Code:   res.StatusCode,
						Text:   res.Reason,
					},
				})
			}
			return
		case <-tx.Done():
			o.mu.Lock()
			o.busy = false
			o.mu.Unlock()
			o.stack.emit(core.RegisterFailure{
				Base: core.Base{Op: o},
				Failure: signaling.Failure{
					Reason: signaling.ReasonIOError,
					Text:   "Request Timeout",
				},
			})
			return
		}
	}
}

// reasonPhrase возвращает стандартную фразу кода ответа
func reasonPhrase(code int) string {
	switch code {
	case sip.StatusBusyHere:
		return "Busy Here"
	case sip.StatusNotFound:
		return "Not Found"
	case sip.StatusTemporarilyUnavailable:
		return "Temporarily Unavailable"
	case sip.StatusNotAcceptableHere:
		return "Not Acceptable Here"
	case sip.StatusGlobalDecline:
		return "Decline"
	case sip.StatusForbidden:
		return "Forbidden"
	case sip.StatusMovedTemporarily:
		return "Moved Temporarily"
	default:
		return "Rejected"
	}
}

// parseSDP разбирает тело SDP в описание медиа
func parseSDP(body []byte) (*media_desc.MediaDescription, error) {
	sd, err := unmarshalSDP(body)
	if err != nil {
		return nil, err
	}
	return media_desc.FromSDP(sd)
}
