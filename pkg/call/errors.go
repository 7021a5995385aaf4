package call

import "fmt"

// ErrorCategory категория ошибки вызова
type ErrorCategory string

const (
	ErrorCategoryState     ErrorCategory = "STATE"
	ErrorCategoryMedia     ErrorCategory = "MEDIA"
	ErrorCategorySignaling ErrorCategory = "SIGNALING"
	ErrorCategoryContract  ErrorCategory = "CONTRACT"
)

// CallError структурированная ошибка вызова.
//
// Провал согласования медиа ошибкой НЕ является — он представляется пустым
// либо несовместимым результирующим описанием, поведенческие последствия
// решает машина состояний. CallError возвращаются из действий пользователя
// (ответить в неверном состоянии и т.п.) и из нарушений контракта.
type CallError struct {
	Code      string
	Message   string
	Category  ErrorCategory
	CallID    string
	State     State
	Retryable bool
	Cause     error
}

// Error реализует интерфейс error
func (e *CallError) Error() string {
	if e.CallID != "" {
		return fmt.Sprintf("[%s:%s] %s (call %s, state %s)", e.Category, e.Code, e.Message, e.CallID, e.State)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap поддерживает errors.Is и errors.As
func (e *CallError) Unwrap() error {
	return e.Cause
}

// newStateError ошибка действия пользователя в недопустимом состоянии
func newStateError(c *Call, code, message string) *CallError {
	return &CallError{
		Code:     code,
		Message:  message,
		Category: ErrorCategoryState,
		CallID:   c.id,
		State:    c.state,
	}
}
