package core

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/arzzra/soft_call/pkg/signaling"
)

// Состояния регистрации на прокси
const (
	RegStateProgress = "progress"
	RegStateOk       = "ok"
	RegStateCleared  = "cleared"
	RegStateFailed   = "failed"
)

// newRegistrationFSM строит машину состояний регистрации.
// События: register, ok, transient_failure (временный сбой при живой
// регистрации ведет обратно в progress для авторетрая), failure, clear.
func newRegistrationFSM() *fsm.FSM {
	return fsm.NewFSM(
		RegStateCleared,
		fsm.Events{
			{Name: "register", Src: []string{RegStateCleared, RegStateFailed, RegStateOk}, Dst: RegStateProgress},
			{Name: "ok", Src: []string{RegStateProgress, RegStateOk}, Dst: RegStateOk},
			{Name: "transient_failure", Src: []string{RegStateOk, RegStateProgress}, Dst: RegStateProgress},
			{Name: "failure", Src: []string{RegStateProgress, RegStateOk}, Dst: RegStateFailed},
			{Name: "clear", Src: []string{RegStateProgress, RegStateOk, RegStateFailed}, Dst: RegStateCleared},
		}, nil,
	)
}

// Registration регистрация на прокси. Переходы управляются диспетчером
// ядра на сигнальном потоке.
type Registration struct {
	account string
	realm   string
	op      signaling.Operation
	machine *fsm.FSM
	log     *slog.Logger

	// removed конфигурация прокси удалена приложением: поздние события
	// регистрации игнорируются
	removed bool
	// publishPaused публикация присутствия приостановлена до восстановления
	// регистрации
	publishPaused bool
	// credentialRejected ранее выданные учетные данные отвергнуты
	credentialRejected bool
}

func newRegistration(account, realm string, op signaling.Operation, log *slog.Logger) *Registration {
	r := &Registration{
		account: account,
		realm:   realm,
		op:      op,
		machine: newRegistrationFSM(),
		log:     log.With(slog.String("account", account)),
	}
	op.Binding().Attach(signaling.OwnerRegistration, r)
	return r
}

// Account возвращает учетную запись регистрации
func (r *Registration) Account() string { return r.account }

// State возвращает текущее состояние регистрации
func (r *Registration) State() string { return r.machine.Current() }

// PublishPaused возвращает true, если публикация присутствия приостановлена
func (r *Registration) PublishPaused() bool { return r.publishPaused }

// Remove помечает конфигурацию прокси удаленной: поздние события регистрации
// становятся no-op
func (r *Registration) Remove() {
	r.removed = true
	if err := r.machine.Event(context.Background(), "clear"); err != nil {
		r.log.Debug("очистка регистрации", slog.String("error", err.Error()))
	}
	r.op.Binding().Detach()
}

// handleSuccess обрабатывает подтверждение регистрации
func (r *Registration) handleSuccess() (becameOk bool) {
	if r.removed {
		// Конфигурация уже удалена приложением
		return false
	}
	wasOk := r.machine.Current() == RegStateOk
	if err := r.machine.Event(context.Background(), "ok"); err != nil {
		r.log.Warn("неожиданное подтверждение регистрации",
			slog.String("state", r.machine.Current()),
			slog.String("error", err.Error()))
		return false
	}
	r.credentialRejected = false
	if r.publishPaused {
		r.log.Info("регистрация восстановлена, публикация возобновлена")
		r.publishPaused = false
	}
	return !wasOk
}

// handleFailure обрабатывает сбой регистрации. Временный сбой (сервис
// недоступен, ошибка ввода-вывода) при живой регистрации не роняет ее в
// Failed, а возвращает в Progress для автоматического ретрая; публикация
// присутствия на это время приостанавливается, но не отменяется.
func (r *Registration) handleFailure(f signaling.Failure) (lostOk bool) {
	if r.removed {
		return false
	}
	wasOk := r.machine.Current() == RegStateOk

	transient := f.Reason == signaling.ReasonServiceUnavailable || f.Reason == signaling.ReasonIOError
	if transient && wasOk {
		r.log.Warn("временный сбой регистрации, будет повтор",
			slog.String("reason", f.Reason.String()))
		r.publishPaused = true
		if err := r.machine.Event(context.Background(), "transient_failure"); err != nil {
			r.log.Warn("переход регистрации", slog.String("error", err.Error()))
		}
		return true
	}

	r.log.Warn("регистрация не удалась",
		slog.String("reason", f.Reason.String()),
		slog.Int("code", int(f.Code)))
	if err := r.machine.Event(context.Background(), "failure"); err != nil {
		r.log.Warn("переход регистрации", slog.String("error", err.Error()))
	}
	return wasOk
}

// handleAuthRejected обрабатывает отказ в аутентификации: ранее выданные
// учетные данные помечаются отвергнутыми, приложение должно выдать новые.
// Автоматический повтор с теми же данными не выполняется.
func (r *Registration) handleAuthRejected() (needCredentials bool) {
	if r.removed {
		return false
	}
	if r.credentialRejected {
		// Данные уже запрошены, ждем приложение
		return false
	}
	r.credentialRejected = true
	return true
}
