package room

import (
	"context"
	"sync"

	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/state"
)

// SoloGame is a single-player game. It follows the room rules on a local
// document with one synthetic player who is also the host, and is never
// stored.
type SoloGame struct {
	room       *models.Room
	playerID   string
	difficulty string
	mutex      sync.Mutex
}

// NewSoloGame fetches the question set and starts playing immediately.
// Fewer questions than requested is always a shortage here.
func (m *Manager) NewSoloGame(ctx context.Context, player models.Player, settings models.Settings) (*SoloGame, error) {
	player, err := cleanPlayer(player)
	if err != nil {
		return nil, err
	}
	questions, err := m.loadQuestions(ctx, settings, false)
	if err != nil {
		return nil, err
	}

	room := state.NewRoom("", player, questions, m.opts.Now())
	upd, err := state.Start(room, player.ID)
	if err != nil {
		return nil, err
	}
	upd.ApplyTo(room)

	return &SoloGame{room: room, playerID: player.ID, difficulty: settings.Difficulty}, nil
}

// SubmitAnswer answers the current question and reports whether it was
// correct. Answering the same question twice changes nothing.
func (g *SoloGame) SubmitAnswer(answer string) (bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	upd, err := state.Answer(g.room, g.playerID, g.room.CurrentQuestionIndex, answer)
	if err != nil {
		return false, err
	}
	if upd.IsEmpty() {
		return g.room.Answers[g.playerID] == g.currentAnswer(), nil
	}
	upd.ApplyTo(g.room)
	return len(upd.IncrementScores) > 0, nil
}

func (g *SoloGame) currentAnswer() string {
	q, _ := g.room.CurrentQuestion()
	return q.CorrectAnswer
}

// Advance moves to the next question or finishes the game.
func (g *SoloGame) Advance() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	upd, err := state.Advance(g.room, g.playerID)
	if err != nil {
		return err
	}
	upd.ApplyTo(g.room)
	return nil
}

// Snapshot returns a copy of the game state.
func (g *SoloGame) Snapshot() *models.Room {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.room.Clone()
}

// View is the client-facing snapshot.
func (g *SoloGame) View() models.RoomView {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return state.View(g.room)
}

func (g *SoloGame) Finished() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.room.GameState == models.StateFinished
}

// Result is the leaderboard entry for this game.
func (g *SoloGame) Result() models.HighScore {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	p, _ := g.room.Player(g.playerID)
	return models.HighScore{
		PlayerName: p.DisplayName,
		Score:      p.Score,
		Total:      len(g.room.Questions),
		Difficulty: g.difficulty,
	}
}
