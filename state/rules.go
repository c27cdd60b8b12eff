package state

import (
	"fmt"
	"slices"
	"time"

	"github.com/wfunc/triviaserver/models"
)

// The functions below are the room rules. Each inspects a snapshot and
// returns the partial update that performs the operation; none of them do
// I/O. An empty update with a nil error means the call is a no-op.

// NewRoom returns the initial document for a room hosted by host.
func NewRoom(code string, host models.Player, questions []models.Question, now time.Time) *models.Room {
	host.Score = 0
	return &models.Room{
		RoomCode:             code,
		HostID:               host.ID,
		Players:              []models.Player{host},
		Questions:            questions,
		CurrentQuestionIndex: 0,
		Answers:              map[string]string{},
		GameState:            models.StateWaiting,
		CreatedAt:            now,
	}
}

// Join adds p to the roster. Joining twice is a no-op; joining after the
// lobby has closed fails even for existing members.
func Join(r *models.Room, p models.Player) (models.RoomUpdate, error) {
	if r.GameState != models.StateWaiting {
		return models.RoomUpdate{}, ErrAlreadyStarted
	}
	if r.HasPlayer(p.ID) {
		return models.RoomUpdate{}, nil
	}
	p.Score = 0
	return models.RoomUpdate{AddPlayers: []models.Player{p}}, nil
}

// Leave removes playerID. empty is true when nobody would remain, in which
// case the caller deletes the room instead of applying the update.
func Leave(r *models.Room, playerID string) (upd models.RoomUpdate, empty bool) {
	if !r.HasPlayer(playerID) {
		return models.RoomUpdate{}, len(r.Players) == 0
	}

	var remaining []models.Player
	for _, p := range r.Players {
		if p.ID != playerID {
			remaining = append(remaining, p)
		}
	}

	upd.RemovePlayers = []string{playerID}
	if len(remaining) == 0 {
		return upd, true
	}
	if r.HostID == playerID {
		upd.HostID = models.Ptr(remaining[0].ID)
	}
	return upd, false
}

// Start moves the room from the lobby into the question loop.
func Start(r *models.Room, requesterID string) (models.RoomUpdate, error) {
	if requesterID != r.HostID {
		return models.RoomUpdate{}, ErrForbidden
	}
	if r.GameState != models.StateWaiting {
		return models.RoomUpdate{}, ErrAlreadyStarted
	}
	if err := RoomMachine.Check(r, models.StatePlaying); err != nil {
		return models.RoomUpdate{}, err
	}
	return models.RoomUpdate{GameState: models.Ptr(models.StatePlaying)}, nil
}

// Answer records playerID's answer to question index and, when it is
// correct, scores one point in the same update. The answer must be one of
// the question's options. An index other than the current one means the
// room moved on before the answer arrived. A player's second answer to the
// same question is a no-op.
func Answer(r *models.Room, playerID string, index int, answer string) (models.RoomUpdate, error) {
	if r.GameState != models.StatePlaying {
		return models.RoomUpdate{}, ErrNotPlaying
	}
	if !r.HasPlayer(playerID) {
		return models.RoomUpdate{}, ErrNotInRoom
	}
	if index != r.CurrentQuestionIndex {
		return models.RoomUpdate{}, ErrStaleQuestion
	}
	q, ok := r.CurrentQuestion()
	if !ok {
		return models.RoomUpdate{}, ErrNotPlaying
	}
	if _, answered := r.Answers[playerID]; answered {
		return models.RoomUpdate{}, nil
	}
	if !slices.Contains(q.Options, answer) {
		return models.RoomUpdate{}, fmt.Errorf("%w: %q is not one of the options", ErrInvalidInput, answer)
	}

	upd := models.RoomUpdate{SetAnswers: map[string]string{playerID: answer}}
	if answer == q.CorrectAnswer {
		upd.IncrementScores = map[string]int{playerID: 1}
	}
	return upd, nil
}

// Advance moves to the next question, or finishes the game after the last
// one. It does not wait for every player to answer.
func Advance(r *models.Room, requesterID string) (models.RoomUpdate, error) {
	if requesterID != r.HostID {
		return models.RoomUpdate{}, ErrForbidden
	}
	if r.GameState != models.StatePlaying {
		return models.RoomUpdate{}, ErrNotPlaying
	}

	next := r.CurrentQuestionIndex + 1
	if next < len(r.Questions) {
		return models.RoomUpdate{
			CurrentQuestionIndex: models.Ptr(next),
			ClearAnswers:         true,
		}, nil
	}
	if err := RoomMachine.Check(r, models.StateFinished); err != nil {
		return models.RoomUpdate{}, err
	}
	return models.RoomUpdate{GameState: models.Ptr(models.StateFinished)}, nil
}

// AllAnswered reports whether every current player has answered the current
// question. Answers left behind by players who have since left do not count.
func AllAnswered(r *models.Room) bool {
	if len(r.Players) == 0 {
		return false
	}
	answered := 0
	for _, p := range r.Players {
		if _, ok := r.Answers[p.ID]; ok {
			answered++
		}
	}
	return answered == len(r.Players)
}

// View is the client-facing snapshot of r.
func View(r *models.Room) models.RoomView {
	return models.NewRoomView(r, AllAnswered(r))
}
