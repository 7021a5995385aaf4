// Package core реализует контекст ядра: список вызовов и регистраций,
// диспетчер сигнальных событий, очередь отложенных задач с насосом Iterate и
// уведомления приложения.
//
// Диспетчер обрабатывает события строго по одному; все переходы состояний и
// вычисления offer/answer происходят синхронно на одном логическом потоке
// управления. Медиа домен никогда не входит в ядро синхронно.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/soft_call/pkg/call"
	"github.com/arzzra/soft_call/pkg/signaling"
)

// Provider создает сигнальные операции поверх конкретного транспорта
type Provider interface {
	// NewCallOperation создает операцию исходящего вызова на target
	NewCallOperation(target string) (signaling.Operation, error)
	// NewRegisterOperation создает операцию регистрации account на registrar
	NewRegisterOperation(account, registrar string) (signaling.Operation, error)
}

// PortSource выделяет локальные порты для медиа потоков
type PortSource interface {
	// AllocatePair выделяет пару портов RTP/RTCP
	AllocatePair() (rtp, rtcp int, err error)
	// ReleasePair возвращает пару портов в пул
	ReleasePair(rtp, rtcp int)
}

// Callbacks таблица уведомлений приложения. Любое поле может быть nil.
// Уведомления доставляются синхронно и упорядоченно относительно породившего
// события; обработчик не должен синхронно входить обратно в ядро.
type Callbacks struct {
	// OnIncomingCall новый входящий вызов в состоянии IncomingReceived
	OnIncomingCall func(c *call.Call)
	// OnCallState смена состояния вызова с человекочитаемым статусом
	OnCallState func(c *call.Call, st call.State, message string)
	// OnTransferState прогресс перевода вызова
	OnTransferState func(original *call.Call, newCallState call.State)
	// OnRegistrationState смена состояния регистрации
	OnRegistrationState func(r *Registration, state, message string)
	// OnAuthRequested транспорт запрашивает учетные данные
	OnAuthRequested func(realm, username string)
	// OnTextReceived входящее текстовое сообщение
	OnTextReceived func(from, text string)
	// OnInfoReceived INFO внутри вызова
	OnInfoReceived func(c *call.Call, contentType string, body []byte)
}

// Deps внешние участники ядра
type Deps struct {
	Provider  Provider
	Media     call.MediaController
	Ports     PortSource
	Callbacks Callbacks
}

// deferredTask задача, ожидающая готовности; выполняется из Iterate
type deferredTask struct {
	ready func() bool
	task  func()
}

// Core контекст ядра. Владеет коллекциями вызовов и регистраций; все операции
// диспетчера и машин состояний принимают этот контекст явно.
type Core struct {
	cfg  Config
	log  *slog.Logger
	deps Deps
	met  *metrics

	// dispatchMu сериализует HandleEvent: диспетчер обрабатывает события
	// строго по одному
	dispatchMu sync.Mutex

	calls         map[string]*call.Call
	registrations map[string]*Registration

	deferredMu sync.Mutex
	deferred   []deferredTask
}

// New создает ядро
func New(deps Deps, opts ...Option) (*Core, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("core: провайдер сигнальных операций обязателен")
	}
	if deps.Media == nil {
		return nil, fmt.Errorf("core: медиа контроллер обязателен")
	}
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Core{
		cfg:           cfg,
		log:           log.With(slog.String("component", "core")),
		deps:          deps,
		met:           newMetrics(cfg.MetricsRegisterer, cfg.MetricsNamespace),
		calls:         make(map[string]*call.Call),
		registrations: make(map[string]*Registration),
	}
	return c, nil
}

// Calls возвращает снимок списка активных вызовов
func (c *Core) Calls() []*call.Call {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	out := make([]*call.Call, 0, len(c.calls))
	for _, cl := range c.calls {
		out = append(out, cl)
	}
	return out
}

// CallByID возвращает вызов по идентификатору
func (c *Core) CallByID(id string) (*call.Call, bool) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	cl, ok := c.calls[id]
	return cl, ok
}

// callDeps собирает зависимости для нового вызова
func (c *Core) callDeps() call.Deps {
	return call.Deps{
		Media:  c.deps.Media,
		Notify: &coreNotifier{core: c},
		Placer: c,
		Defer:  c.deferTask,
	}
}

// allocateStreamPorts выделяет порты под потоки описания из параметров
func (c *Core) allocateStreamPorts(params call.MediaParams) ([]call.StreamPorts, error) {
	n := 0
	if params.AudioEnabled {
		n++
	}
	if params.VideoEnabled {
		n++
	}
	ports := make([]call.StreamPorts, 0, n)
	for i := 0; i < n; i++ {
		if c.deps.Ports == nil {
			ports = append(ports, call.StreamPorts{})
			continue
		}
		rtp, rtcp, err := c.deps.Ports.AllocatePair()
		if err != nil {
			for _, p := range ports {
				c.deps.Ports.ReleasePair(p.RTP, p.RTCP)
			}
			return nil, fmt.Errorf("выделение медиа портов: %w", err)
		}
		ports = append(ports, call.StreamPorts{RTP: rtp, RTCP: rtcp})
	}
	return ports, nil
}

// Invite начинает исходящий вызов на target с параметрами params.
// Сериализуется с диспетчером: публичные методы и обработка событий делят
// один логический поток управления.
func (c *Core) Invite(target string, params call.MediaParams) (*call.Call, error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	params.RealEarlyMedia = params.RealEarlyMedia || c.cfg.RealEarlyMedia
	op, err := c.deps.Provider.NewCallOperation(target)
	if err != nil {
		return nil, fmt.Errorf("создание операции вызова: %w", err)
	}
	ports, err := c.allocateStreamPorts(params)
	if err != nil {
		op.Release()
		return nil, err
	}
	localDesc := call.BuildLocalDescription(params, c.cfg.Username, c.cfg.LocalAddr, ports)
	cl := call.New(call.DirectionOutgoing, op, params, localDesc, c.callDeps(), c.log)
	c.calls[cl.ID()] = cl
	c.met.callStarted(cl.Direction().String())
	if err := cl.StartOutgoing(); err != nil {
		delete(c.calls, cl.ID())
		c.met.callReleased()
		return nil, err
	}
	return cl, nil
}

// InviteDefault начинает исходящий вызов с параметрами из конфигурации
func (c *Core) InviteDefault(target string) (*call.Call, error) {
	return c.Invite(target, c.cfg.MediaParams)
}

// Register начинает регистрацию account на registrar
func (c *Core) Register(account, registrar, realm string) (*Registration, error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if _, exists := c.registrations[account]; exists {
		return nil, fmt.Errorf("регистрация %s уже существует", account)
	}
	op, err := c.deps.Provider.NewRegisterOperation(account, registrar)
	if err != nil {
		return nil, fmt.Errorf("создание операции регистрации: %w", err)
	}
	r := newRegistration(account, realm, op, c.log)
	if err := r.machine.Event(context.Background(), "register"); err != nil {
		op.Release()
		return nil, fmt.Errorf("запуск регистрации: %w", err)
	}
	if err := op.Start(); err != nil {
		op.Release()
		return nil, fmt.Errorf("отправка регистрации: %w", err)
	}
	c.registrations[account] = r
	c.notifyRegistration(r, "Регистрация выполняется")
	return r, nil
}

// Unregister удаляет регистрацию account
func (c *Core) Unregister(account string) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	r, ok := c.registrations[account]
	if !ok {
		return
	}
	if r.State() == RegStateOk {
		c.met.registrationUp(false)
	}
	r.Remove()
	delete(c.registrations, account)
	c.notifyRegistration(r, "Регистрация удалена")
}

// PlaceTransferCall реализует call.Placer: создает, но не запускает, вызов
// на цель перевода в тех же медиа параметрах, что и переводимый вызов.
// Вызывается обработчиком REFER уже на сигнальном потоке, под dispatchMu.
func (c *Core) PlaceTransferCall(original *call.Call, target string) (*call.Call, error) {
	op, err := c.deps.Provider.NewCallOperation(target)
	if err != nil {
		return nil, fmt.Errorf("создание операции перевода: %w", err)
	}
	params := original.Params()
	ports, err := c.allocateStreamPorts(params)
	if err != nil {
		op.Release()
		return nil, err
	}
	localDesc := call.BuildLocalDescription(params, c.cfg.Username, c.cfg.LocalAddr, ports)
	cl := call.New(call.DirectionOutgoing, op, params, localDesc, c.callDeps(), c.log)
	c.calls[cl.ID()] = cl
	c.met.callStarted(cl.Direction().String())
	return cl, nil
}

// deferTask ставит задачу в очередь отложенных задач; task выполнится из
// насоса Iterate, когда ready вернет true
func (c *Core) deferTask(ready func() bool, task func()) {
	c.deferredMu.Lock()
	defer c.deferredMu.Unlock()
	c.deferred = append(c.deferred, deferredTask{ready: ready, task: task})
}

// Iterate один проход насоса фоновых задач: выполняет готовые отложенные
// задачи, неготовые остаются в очереди до следующего прохода. Задачи трогают
// вызовы, поэтому выполняются под dispatchMu, как и события.
func (c *Core) Iterate() {
	c.deferredMu.Lock()
	pending := c.deferred
	c.deferred = nil
	c.deferredMu.Unlock()

	var kept []deferredTask
	c.dispatchMu.Lock()
	for _, t := range pending {
		if t.ready() {
			t.task()
			continue
		}
		kept = append(kept, t)
	}
	c.dispatchMu.Unlock()
	if len(kept) > 0 {
		c.deferredMu.Lock()
		c.deferred = append(kept, c.deferred...)
		c.deferredMu.Unlock()
	}
}

// Run периодически качает Iterate до отмены контекста
func (c *Core) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Iterate()
		}
	}
}

// coreNotifier адаптирует уведомления вызова к таблице приложения и метрикам
type coreNotifier struct {
	core *Core
}

func (n *coreNotifier) CallStateChanged(cl *call.Call, st call.State, message string) {
	n.core.met.stateChanged(st.String())
	if st == call.StateReleased {
		delete(n.core.calls, cl.ID())
		n.core.met.callReleased()
		n.core.releaseCallPorts(cl)
	}
	if n.core.deps.Callbacks.OnCallState != nil {
		n.core.deps.Callbacks.OnCallState(cl, st, message)
	}
}

func (n *coreNotifier) TransferStateChanged(original *call.Call, newCallState call.State) {
	if n.core.deps.Callbacks.OnTransferState != nil {
		n.core.deps.Callbacks.OnTransferState(original, newCallState)
	}
}

// releaseCallPorts возвращает порты локального описания в пул
func (c *Core) releaseCallPorts(cl *call.Call) {
	if c.deps.Ports == nil {
		return
	}
	md := cl.LocalDescription()
	if md == nil {
		return
	}
	for i := range md.Streams {
		s := &md.Streams[i]
		if s.RTPPort != 0 {
			c.deps.Ports.ReleasePair(s.RTPPort, s.RTCPPort)
		}
	}
}

func (c *Core) notifyRegistration(r *Registration, message string) {
	if c.deps.Callbacks.OnRegistrationState != nil {
		c.deps.Callbacks.OnRegistrationState(r, r.State(), message)
	}
}
