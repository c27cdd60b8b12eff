package models

import (
	"time"
)

// GameState is the lifecycle phase of a room.
type GameState string

const (
	StateWaiting  GameState = "waiting"
	StatePlaying  GameState = "playing"
	StateFinished GameState = "finished"
)

// Player is one roster entry of a room.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// Question is a multiple-choice question. Options holds the correct answer
// and the distractors in the order they are shown; it is fixed once the
// question set is assembled.
type Question struct {
	Prompt            string   `json:"prompt"`
	CorrectAnswer     string   `json:"correctAnswer"`
	DistractorAnswers []string `json:"distractorAnswers"`
	Category          string   `json:"category"`
	Difficulty        string   `json:"difficulty"`
	Options           []string `json:"options"`
}

// Category is a question category offered by the provider.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Settings selects the question set for a new game.
type Settings struct {
	Amount     int    `json:"amount"`
	Categories []int  `json:"categories,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Room is the shared document of one multiplayer session.
type Room struct {
	RoomCode             string            `json:"roomCode"`
	HostID               string            `json:"hostId"`
	Players              []Player          `json:"players"`
	Questions            []Question        `json:"questions"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]string `json:"answers"`
	GameState            GameState         `json:"gameState"`
	CreatedAt            time.Time         `json:"createdAt"`
	// Version is maintained by the store and increases on every write.
	Version int64 `json:"version"`
}

// Player returns the roster entry with the given id.
func (r *Room) Player(id string) (Player, bool) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// HasPlayer reports whether id is on the roster.
func (r *Room) HasPlayer(id string) bool {
	_, ok := r.Player(id)
	return ok
}

// CurrentQuestion returns the question being played, if any.
func (r *Room) CurrentQuestion() (Question, bool) {
	if r.CurrentQuestionIndex < 0 || r.CurrentQuestionIndex >= len(r.Questions) {
		return Question{}, false
	}
	return r.Questions[r.CurrentQuestionIndex], true
}

// Clone returns a deep copy, so stores can hand out snapshots without sharing
// maps or slices with their own state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = append([]Player(nil), r.Players...)
	c.Questions = make([]Question, len(r.Questions))
	for i, q := range r.Questions {
		q.DistractorAnswers = append([]string(nil), q.DistractorAnswers...)
		q.Options = append([]string(nil), q.Options...)
		c.Questions[i] = q
	}
	c.Answers = make(map[string]string, len(r.Answers))
	for k, v := range r.Answers {
		c.Answers[k] = v
	}
	return &c
}

// HighScore is one entry of the single-player leaderboard.
type HighScore struct {
	PlayerName string    `json:"playerName"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	Difficulty string    `json:"difficulty,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
