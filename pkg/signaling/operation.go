package signaling

import "github.com/arzzra/soft_call/pkg/media_desc"

// Operation дескриптор одной сигнальной операции (вызов, регистрация,
// подписка). Ядро взаимодействует с транспортом только через этот интерфейс;
// реализация владеет SIP транзакциями и диалогом.
//
// Все методы вызываются с сигнального потока ядра и обязаны не блокировать
// надолго: отправка выполняется асинхронно, результат приходит событием.
type Operation interface {
	// RemoteMediaDescription возвращает последнее описание медиа, полученное
	// от удаленной стороны, либо nil
	RemoteMediaDescription() *media_desc.MediaDescription

	// FinalMediaDescription возвращает согласованное описание после
	// завершения offer/answer, либо nil пока переговоры не завершены
	FinalMediaDescription() *media_desc.MediaDescription

	// SetLocalMediaDescription задает локальное описание для следующего
	// offer либо answer
	SetLocalMediaDescription(md *media_desc.MediaDescription) error

	// IsOfferer возвращает true, если offer в текущем обмене наш
	IsOfferer() bool

	// Start начинает операцию: отправляет INVITE с текущим локальным offer
	// либо REGISTER для операции регистрации
	Start() error

	// Accept отправляет положительный финальный ответ (200 OK)
	Accept() error

	// Decline отклоняет входящую операцию; redirectAddr непустой для
	// ReasonRedirect
	Decline(reason Reason, redirectAddr string) error

	// Update отправляет reINVITE/UPDATE с текущим локальным описанием
	Update(subject string) error

	// Terminate завершает операцию (BYE/CANCEL в зависимости от фазы)
	Terminate() error

	// Busy возвращает true, пока по операции идет незавершенная транзакция.
	// Используется отложенными задачами, ожидающими освобождения операции.
	Busy() bool

	// Release освобождает ресурсы операции. Повторный вызов — ошибка
	// программирования, реализация обязана ее детектировать.
	Release()

	// Binding возвращает привязку операции к владеющему объекту
	Binding() *Binding

	// From и To адреса операции, для логов и уведомлений
	From() string
	To() string
}
