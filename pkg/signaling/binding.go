package signaling

import "sync"

// OwnerKind тип объекта, владеющего операцией
type OwnerKind int

const (
	OwnerNone OwnerKind = iota
	OwnerCall
	OwnerRegistration
	OwnerSubscription
)

// Binding проверяемая привязка операции к владеющему объекту.
//
// Заменяет сырой указатель пользователя: события для операции без владельца
// (например, уведомление об освобождении операции, отклоненной до создания
// Call) трактуются как информационные, а не приводят к обращению по
// висячему указателю.
type Binding struct {
	mu    sync.Mutex
	kind  OwnerKind
	owner any
}

// Attach привязывает владельца к операции
func (b *Binding) Attach(kind OwnerKind, owner any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kind = kind
	b.owner = owner
}

// Detach снимает привязку. Вызывается при освобождении владельца; события,
// пришедшие позже, увидят отсутствие владельца.
func (b *Binding) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kind = OwnerNone
	b.owner = nil
}

// Owner возвращает владельца и его тип; ok == false, если привязки нет
func (b *Binding) Owner() (kind OwnerKind, owner any, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner == nil {
		return OwnerNone, nil, false
	}
	return b.kind, b.owner, true
}
