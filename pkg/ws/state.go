package ws

import "slices"

// State - состояние соединения. Числовые значения совпадают с readyState транспорта.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// допустимые переходы: из состояния -> в состояния
var validTransitions = map[State][]State{
	StateClosed:     {StateConnecting},
	StateConnecting: {StateOpen, StateClosing, StateClosed},
	StateOpen:       {StateClosing, StateClosed},
	StateClosing:    {StateClosed},
}

func canTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// stateMachine не потокобезопасна, её защищает мьютекс Socket.
type stateMachine struct {
	state State

	// terminal выставляется при первом переходе в CLOSED после connect;
	// из терминального CLOSED выхода нет.
	terminal bool
}

func (m *stateMachine) transition(to State) bool {
	if m.state == to {
		return false
	}

	if to == StateConnecting && m.terminal {
		return false
	}

	if !canTransition(m.state, to) {
		return false
	}

	m.state = to

	if to == StateClosed {
		m.terminal = true
	}

	return true
}

// forceClosed переводит в терминальный CLOSED из любого состояния.
// Возвращает true только при первом вызове.
func (m *stateMachine) forceClosed() bool {
	first := !m.terminal

	m.state = StateClosed
	m.terminal = true

	return first
}
