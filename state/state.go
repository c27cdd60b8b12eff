package state

import (
	"errors"
	"sync"

	"github.com/wfunc/triviaserver/models"
)

var (
	// ErrTransitionNotAllowed is returned when a state transition is not allowed.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	ErrForbidden            = errors.New("only the host may do that")
	ErrAlreadyStarted       = errors.New("game already started")
	ErrNotPlaying           = errors.New("game is not in progress")
	ErrNotInRoom            = errors.New("player is not in the room")
	ErrStaleQuestion        = errors.New("that question is no longer current")
	ErrInvalidInput         = errors.New("invalid request")
)

// Guard decides whether a transition may fire for the given room.
type Guard func(room *models.Room) bool

// Machine is a table of allowed game state transitions, each optionally
// guarded by a condition on the room.
type Machine struct {
	transitions map[models.GameState]map[models.GameState]Guard // from -> to -> guard
	mutex       sync.RWMutex
}

func NewMachine() *Machine {
	return &Machine{
		transitions: make(map[models.GameState]map[models.GameState]Guard),
	}
}

// AddTransition registers from -> to. A nil guard always allows it.
func (m *Machine) AddTransition(from, to models.GameState, guard Guard) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[models.GameState]Guard)
	}
	m.transitions[from][to] = guard
}

// Check returns ErrTransitionNotAllowed unless room may move to the target
// state.
func (m *Machine) Check(room *models.Room, to models.GameState) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	targets, exists := m.transitions[room.GameState]
	if !exists {
		return ErrTransitionNotAllowed
	}
	guard, exists := targets[to]
	if !exists {
		return ErrTransitionNotAllowed
	}
	if guard != nil && !guard(room) {
		return ErrTransitionNotAllowed
	}
	return nil
}

// Terminal reports whether no transition leaves s.
func (m *Machine) Terminal(s models.GameState) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.transitions[s]) == 0
}

// RoomMachine is the lifecycle every room follows:
// waiting -> playing -> finished, with finished terminal.
var RoomMachine = newRoomMachine()

func newRoomMachine() *Machine {
	m := NewMachine()
	m.AddTransition(models.StateWaiting, models.StatePlaying, func(r *models.Room) bool {
		return len(r.Players) > 0 && len(r.Questions) > 0
	})
	m.AddTransition(models.StatePlaying, models.StateFinished, func(r *models.Room) bool {
		return r.CurrentQuestionIndex == len(r.Questions)-1
	})
	return m
}
