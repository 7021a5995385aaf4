package call

import "github.com/arzzra/soft_call/pkg/media_desc"

// MediaController контракт внешнего медиа движка.
//
// Все вызовы синхронны с точки зрения сигнального потока; медиа домен никогда
// не вызывает ядро синхронно в обратную сторону (его события поступают через
// очередь и выбираются насосом Iterate).
type MediaController interface {
	// InitStreams подготавливает медиа потоки вызова по его локальному
	// описанию
	InitStreams(c *Call) error

	// StartStreams запускает потоки по результирующему описанию вызова.
	// allMuted запускает потоки заглушенными (раннее медиа без запроса
	// настоящего early media), sendRingback просит проигрывать ringback
	// удаленной стороне.
	StartStreams(c *Call, allMuted, sendRingback bool) error

	// StopStreams останавливает потоки и освобождает медиа ресурсы вызова
	StopStreams(c *Call)

	// UpdateDestinations меняет адреса назначения запущенных потоков без их
	// перезапуска. Используется, когда ре-согласование изменило только сеть.
	UpdateDestinations(c *Call, oldMD, newMD *media_desc.MediaDescription) error

	// AddForkDestination добавляет дополнительный удаленный адрес потоку
	// (ранний медиа форк: прием с нескольких ветвей одновременно)
	AddForkDestination(c *Call, streamIndex int, addr string, rtpPort int)

	// StartRingback / StopRingback локальный сигнал контроля посылки вызова
	StartRingback(c *Call)
	StopRingback(c *Call)
}

// Notifier приемник уведомлений приложения.
//
// Доставка синхронна и упорядочена относительно породившего события ядра.
// Обработчик не должен синхронно входить обратно в ядро.
type Notifier interface {
	// CallStateChanged вызывается на каждую смену состояния вызова с
	// человекочитаемым статусом
	CallStateChanged(c *Call, st State, message string)

	// TransferStateChanged сообщает о прогрессе перевода вызова: состояние
	// нового вызова, порожденного REFER
	TransferStateChanged(original *Call, newCallState State)
}

// Placer размещает новые вызовы от имени ядра (нужен переводу вызова)
type Placer interface {
	// PlaceTransferCall создает, но не запускает, вызов на цель перевода;
	// original — переводимый вызов. Запуск выполняет сам original после
	// связывания вызовов.
	PlaceTransferCall(original *Call, target string) (*Call, error)
}

// Deps собирает внешних участников, с которыми работает вызов
type Deps struct {
	Media  MediaController
	Notify Notifier
	Placer Placer
	// Defer ставит задачу в очередь отложенных задач ядра: task выполнится
	// из насоса Iterate, когда ready вернет true
	Defer func(ready func() bool, task func())
}
