package call

import "fmt"

// State состояние вызова
type State int

const (
	StateIdle State = iota
	StateIncomingReceived
	StateOutgoingInit
	StateOutgoingProgress
	StateOutgoingRinging
	StateOutgoingEarlyMedia
	StateConnected
	StateStreamsRunning
	StatePausing
	StatePaused
	StateResuming
	StateRefered
	StateError
	StateEnd
	StatePausedByRemote
	StateUpdatedByRemote
	StateIncomingEarlyMedia
	StateUpdating
	StateReleased
	StateEarlyUpdatedByRemote
	StateEarlyUpdating
)

var stateNames = map[State]string{
	StateIdle:                 "Idle",
	StateIncomingReceived:     "IncomingReceived",
	StateOutgoingInit:         "OutgoingInit",
	StateOutgoingProgress:     "OutgoingProgress",
	StateOutgoingRinging:      "OutgoingRinging",
	StateOutgoingEarlyMedia:   "OutgoingEarlyMedia",
	StateConnected:            "Connected",
	StateStreamsRunning:       "StreamsRunning",
	StatePausing:              "Pausing",
	StatePaused:               "Paused",
	StateResuming:             "Resuming",
	StateRefered:              "Refered",
	StateError:                "Error",
	StateEnd:                  "End",
	StatePausedByRemote:       "PausedByRemote",
	StateUpdatedByRemote:      "UpdatedByRemote",
	StateIncomingEarlyMedia:   "IncomingEarlyMedia",
	StateUpdating:             "Updating",
	StateReleased:             "Released",
	StateEarlyUpdatedByRemote: "EarlyUpdatedByRemote",
	StateEarlyUpdating:        "EarlyUpdating",
}

// String возвращает имя состояния
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal возвращает true для терминального состояния
func (s State) IsTerminal() bool {
	return s == StateReleased
}

// isPreConnectOutgoing возвращает true для исходящих состояний до соединения.
// Провал согласования в этих состояниях прерывает вызов, а не откатывается.
func (s State) isPreConnectOutgoing() bool {
	switch s {
	case StateOutgoingInit, StateOutgoingProgress, StateOutgoingRinging, StateOutgoingEarlyMedia:
		return true
	}
	return false
}

// isRollbackable возвращает true для состояний ре-согласования, из которых
// отказ возвращает вызов в предыдущее состояние
func (s State) isRollbackable() bool {
	switch s {
	case StateUpdating, StatePausing, StateResuming, StateEarlyUpdating:
		return true
	}
	return false
}

// stateValidator матрица допустимых переходов состояний вызова
type stateValidator struct {
	valid map[State]map[State]bool
}

func newStateValidator() *stateValidator {
	sv := &stateValidator{valid: make(map[State]map[State]bool)}

	sv.add(StateIdle, StateOutgoingInit, StateIncomingReceived)

	// Исходящий вызов
	sv.add(StateOutgoingInit, StateOutgoingProgress, StateOutgoingRinging, StateOutgoingEarlyMedia, StateConnected)
	sv.add(StateOutgoingProgress, StateOutgoingRinging, StateOutgoingEarlyMedia, StateConnected)
	// Возврат в OutgoingProgress — автоматический повтор вызова с понижением
	// возможностей после 488 на стадии звонка
	sv.add(StateOutgoingRinging, StateOutgoingProgress, StateOutgoingEarlyMedia, StateConnected, StateEarlyUpdating, StateEarlyUpdatedByRemote)
	sv.add(StateOutgoingEarlyMedia, StateOutgoingProgress, StateConnected, StateEarlyUpdating, StateEarlyUpdatedByRemote)

	// Входящий вызов
	sv.add(StateIncomingReceived, StateIncomingEarlyMedia, StateConnected)
	sv.add(StateIncomingEarlyMedia, StateConnected, StateEarlyUpdating, StateEarlyUpdatedByRemote)

	sv.add(StateConnected, StateStreamsRunning, StatePausedByRemote)

	// Установленный вызов
	sv.add(StateStreamsRunning,
		StatePausing, StateUpdating, StateUpdatedByRemote, StatePausedByRemote, StateRefered)
	sv.add(StatePausing, StatePaused, StateStreamsRunning, StatePausedByRemote)
	sv.add(StatePaused, StateResuming, StateUpdatedByRemote, StateRefered)
	sv.add(StateResuming, StateStreamsRunning, StatePaused, StatePausedByRemote)
	sv.add(StatePausedByRemote, StateStreamsRunning, StateUpdatedByRemote, StatePausing)
	sv.add(StateUpdating, StateStreamsRunning, StatePaused, StatePausedByRemote)
	sv.add(StateUpdatedByRemote, StateStreamsRunning, StatePausedByRemote)

	// Раннее ре-согласование откатывается в ранние состояния
	sv.add(StateEarlyUpdating, StateOutgoingRinging, StateOutgoingEarlyMedia, StateIncomingEarlyMedia, StateConnected)
	sv.add(StateEarlyUpdatedByRemote, StateOutgoingRinging, StateOutgoingEarlyMedia, StateIncomingEarlyMedia, StateConnected)

	// Перевод вызова
	sv.add(StateRefered, StatePausing, StatePaused, StateResuming, StateStreamsRunning)

	// Завершение: любое нетерминальное состояние может уйти в End/Error
	for st := range stateNames {
		if st == StateEnd || st == StateError || st == StateReleased {
			continue
		}
		sv.add(st, StateEnd, StateError)
	}
	sv.add(StateEnd, StateReleased)
	sv.add(StateError, StateReleased)
	// Из Released переходов нет

	return sv
}

func (sv *stateValidator) add(from State, to ...State) {
	m := sv.valid[from]
	if m == nil {
		m = make(map[State]bool)
		sv.valid[from] = m
	}
	for _, t := range to {
		m[t] = true
	}
}

// validate проверяет допустимость перехода; переход в то же состояние
// допустим всегда
func (sv *stateValidator) validate(from, to State) error {
	if from == to {
		return nil
	}
	if sv.valid[from][to] {
		return nil
	}
	return fmt.Errorf("недопустимый переход состояния вызова: %s -> %s", from, to)
}
