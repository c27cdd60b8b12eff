// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wfunc/triviaserver/events"
	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/persistence"
	"github.com/wfunc/triviaserver/state"
	"github.com/wfunc/triviaserver/trivia"
)

const maxDisplayName = 32

// Metrics receives room events. monitor.Monitor implements it.
type Metrics interface {
	AnswerSubmitted(correct bool)
	UpdateConflict()
	GameFinished()
	ObserveQuestionFetch(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) AnswerSubmitted(bool)                {}
func (nopMetrics) UpdateConflict()                     {}
func (nopMetrics) GameFinished()                       {}
func (nopMetrics) ObserveQuestionFetch(time.Duration) {}

// Options tunes a Manager. Zero values get defaults.
type Options struct {
	CodeLength int
	// MaxRetries bounds the compare-and-set attempts of one operation.
	MaxRetries int
	// AllowShortage lets multiplayer rooms start with fewer questions than
	// requested, as long as there is at least one.
	AllowShortage bool
	MaxQuestions  int
	Metrics       Metrics
	Events        events.Publisher
	Shuffle       trivia.Shuffler
	Now           func() time.Time
	NewCode       func() string
}

// Manager runs the room operations against a shared document store. It
// keeps no room state of its own, so any number of managers may serve the
// same store.
type Manager struct {
	store    persistence.RoomStore
	provider trivia.Provider
	opts     Options
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(store persistence.RoomStore, provider trivia.Provider, opts Options) *Manager {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 32
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = 50
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewCode == nil {
		length := opts.CodeLength
		opts.NewCode = func() string { return GenerateCode(length) }
	}
	return &Manager{store: store, provider: provider, opts: opts}
}

func cleanPlayer(p models.Player) (models.Player, error) {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.ID == "" || p.DisplayName == "" {
		return p, fmt.Errorf("%w: player id and display name are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(p.DisplayName) > maxDisplayName {
		p.DisplayName = string([]rune(p.DisplayName)[:maxDisplayName])
	}
	p.Score = 0
	return p, nil
}

// loadQuestions fetches and assembles a question set. Fewer questions than
// requested is a shortage unless allowShortage is set; none at all always is.
func (m *Manager) loadQuestions(ctx context.Context, settings models.Settings, allowShortage bool) ([]models.Question, error) {
	if settings.Amount <= 0 || settings.Amount > m.opts.MaxQuestions {
		return nil, fmt.Errorf("%w: amount must be between 1 and %d", ErrInvalidInput, m.opts.MaxQuestions)
	}

	start := time.Now()
	questions, err := m.provider.FetchQuestions(ctx, settings)
	m.opts.Metrics.ObserveQuestionFetch(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch questions: %w", ErrTransientIO, err)
	}

	if len(questions) > settings.Amount {
		questions = questions[:settings.Amount]
	}
	if len(questions) == 0 || (len(questions) < settings.Amount && !allowShortage) {
		return nil, &ShortageError{Requested: settings.Amount, Received: len(questions)}
	}
	return trivia.Assemble(questions, m.opts.Shuffle), nil
}

// CreateRoom fetches the question set and stores a new room in the lobby
// with host as its only player.
func (m *Manager) CreateRoom(ctx context.Context, host models.Player, settings models.Settings) (*models.Room, error) {
	host, err := cleanPlayer(host)
	if err != nil {
		return nil, err
	}
	questions, err := m.loadQuestions(ctx, settings, m.opts.AllowShortage)
	if err != nil {
		return nil, err
	}

	room := state.NewRoom(m.opts.NewCode(), host, questions, m.opts.Now())
	if err := m.store.Set(ctx, room); err != nil {
		return nil, storeError(err)
	}

	logger.Log.Infow("Room created", "room", room.RoomCode, "host", host.ID, "questions", len(questions))
	return room, nil
}

// GetRoom returns the current snapshot of a room.
func (m *Manager) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	room, err := m.store.Get(ctx, code)
	if err != nil {
		return nil, storeError(err)
	}
	return room, nil
}

// JoinRoom adds player to a room that is still in the lobby. Joining again
// with the same id changes nothing.
func (m *Manager) JoinRoom(ctx context.Context, code string, player models.Player) (*models.Room, error) {
	player, err := cleanPlayer(player)
	if err != nil {
		return nil, err
	}
	room, err := m.mutate(ctx, code, func(r *models.Room) (models.RoomUpdate, error) {
		return state.Join(r, player)
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("Player joined room", "room", code, "player", player.ID)
	return room, nil
}

// LeaveRoom removes a player. The last player out deletes the room, in
// which case the returned room is nil.
func (m *Manager) LeaveRoom(ctx context.Context, code, playerID string) (*models.Room, error) {
	return m.withRetry(ctx, code, func(r *models.Room) (*models.Room, error) {
		upd, empty := state.Leave(r, playerID)
		if empty {
			err := m.store.Delete(ctx, code, r.Version)
			if errors.Is(err, persistence.ErrRecordNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, storeError(err)
			}
			logger.Log.Infow("Room deleted after last player left", "room", code, "player", playerID)
			return nil, nil
		}
		if upd.IsEmpty() {
			return r, nil
		}

		upd.IfVersion = r.Version
		next, err := m.store.Update(ctx, code, upd)
		if err != nil {
			return nil, storeError(err)
		}
		logger.Log.Infow("Player left room", "room", code, "player", playerID, "host", next.HostID)
		return next, nil
	})
}

// StartGame moves the room from the lobby to the first question. Only the
// host may start.
func (m *Manager) StartGame(ctx context.Context, code, requesterID string) (*models.Room, error) {
	room, err := m.mutate(ctx, code, func(r *models.Room) (models.RoomUpdate, error) {
		return state.Start(r, requesterID)
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("Game started", "room", code, "players", len(room.Players))
	return room, nil
}

// SubmitAnswer records a player's answer to question index and scores it in
// the same write. If the host advanced in the meantime the answer is
// refused with ErrStaleQuestion rather than carried over to the next
// question. A second answer to the same question returns the current
// snapshot unchanged.
func (m *Manager) SubmitAnswer(ctx context.Context, code, playerID string, index int, answer string) (*models.Room, error) {
	var recorded, correct bool
	room, err := m.mutate(ctx, code, func(r *models.Room) (models.RoomUpdate, error) {
		upd, err := state.Answer(r, playerID, index, answer)
		recorded = err == nil && !upd.IsEmpty()
		correct = len(upd.IncrementScores) > 0
		return upd, err
	})
	if err != nil {
		return nil, err
	}
	if recorded {
		m.opts.Metrics.AnswerSubmitted(correct)
		logger.Log.Debugw("Answer recorded", "room", code, "player", playerID, "correct", correct)
	}
	return room, nil
}

// AdvanceQuestion moves to the next question or, after the last one,
// finishes the game. Only the host may advance; unanswered players are not
// waited for.
func (m *Manager) AdvanceQuestion(ctx context.Context, code, requesterID string) (*models.Room, error) {
	var finishing bool
	room, err := m.mutate(ctx, code, func(r *models.Room) (models.RoomUpdate, error) {
		upd, err := state.Advance(r, requesterID)
		finishing = upd.GameState != nil && *upd.GameState == models.StateFinished
		return upd, err
	})
	if err != nil {
		return nil, err
	}
	if finishing {
		m.gameFinished(ctx, room)
	}
	return room, nil
}

func (m *Manager) gameFinished(ctx context.Context, room *models.Room) {
	m.opts.Metrics.GameFinished()
	logger.Log.Infow("Game finished", "room", room.RoomCode, "players", len(room.Players))

	ev := events.GameFinished{
		RoomCode:   room.RoomCode,
		Players:    room.Players,
		Questions:  len(room.Questions),
		FinishedAt: m.opts.Now(),
	}
	if err := m.opts.Events.PublishGameFinished(ctx, ev); err != nil {
		logger.Log.Errorf("Failed to publish game finished event for room %s: %v", room.RoomCode, err)
	}
}

// AllAnswered reports whether every current player has answered the
// current question.
func AllAnswered(room *models.Room) bool {
	return state.AllAnswered(room)
}

// Subscribe calls onChange with the current snapshot and after every
// change. A deleted room arrives as (nil, ErrNotFound) and a broken feed as
// (nil, ErrTransientIO); in both cases the room data should be treated as
// unavailable.
func (m *Manager) Subscribe(ctx context.Context, code string, onChange func(*models.Room, error)) (func(), error) {
	unsubscribe, err := m.store.Subscribe(ctx, code, func(room *models.Room, err error) {
		if err != nil {
			onChange(nil, storeError(err))
			return
		}
		onChange(room, nil)
	})
	if err != nil {
		return nil, storeError(err)
	}
	return unsubscribe, nil
}

// ActiveRooms counts rooms that have not finished.
func (m *Manager) ActiveRooms(ctx context.Context) (int, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

// Categories lists the categories the question provider offers.
func (m *Manager) Categories(ctx context.Context) ([]models.Category, error) {
	categories, err := m.provider.FetchCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch categories: %w", ErrTransientIO, err)
	}
	return categories, nil
}

// mutate applies rule to the latest snapshot and writes the resulting update
// conditionally on that snapshot's version.
func (m *Manager) mutate(ctx context.Context, code string, rule func(*models.Room) (models.RoomUpdate, error)) (*models.Room, error) {
	return m.withRetry(ctx, code, func(r *models.Room) (*models.Room, error) {
		upd, err := rule(r)
		if err != nil {
			return nil, err
		}
		if upd.IsEmpty() {
			return r, nil
		}
		upd.IfVersion = r.Version
		next, err := m.store.Update(ctx, code, upd)
		if err != nil {
			return nil, storeError(err)
		}
		return next, nil
	})
}

// withRetry reads the room and runs attempt on it, starting over from a
// fresh snapshot whenever attempt reports a version conflict.
func (m *Manager) withRetry(ctx context.Context, code string, attempt func(*models.Room) (*models.Room, error)) (*models.Room, error) {
	for i := 0; i < m.opts.MaxRetries; i++ {
		r, err := m.store.Get(ctx, code)
		if err != nil {
			return nil, storeError(err)
		}
		next, err := attempt(r)
		if errors.Is(err, persistence.ErrVersionConflict) {
			m.opts.Metrics.UpdateConflict()
			continue
		}
		return next, err
	}
	return nil, fmt.Errorf("%w: room %s changed %d times during the update", ErrTransientIO, code, m.opts.MaxRetries)
}
