package models

import "time"

// QuestionView is the client-facing form of the current question.
type QuestionView struct {
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
	// CorrectAnswer is empty until the answer is revealed.
	CorrectAnswer string `json:"correctAnswer,omitempty"`
}

// RoomView is the snapshot pushed to subscribed clients. It carries only the
// current question and withholds its answer until everyone has answered.
// Until then Answered only tells who has answered; the answers themselves
// are sent with the reveal.
type RoomView struct {
	RoomCode             string            `json:"roomCode"`
	HostID               string            `json:"hostId"`
	Players              []Player          `json:"players"`
	GameState            GameState         `json:"gameState"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	TotalQuestions       int               `json:"totalQuestions"`
	Question             *QuestionView     `json:"question,omitempty"`
	Answered             map[string]bool   `json:"answered"`
	Answers              map[string]string `json:"answers,omitempty"`
	AllAnswered          bool              `json:"allAnswered"`
	CreatedAt            time.Time         `json:"createdAt"`
	Version              int64             `json:"version"`
}

// NewRoomView builds the view of r. allAnswered is passed in because the
// rule lives with the state machine.
func NewRoomView(r *Room, allAnswered bool) RoomView {
	view := RoomView{
		RoomCode:             r.RoomCode,
		HostID:               r.HostID,
		Players:              append([]Player(nil), r.Players...),
		GameState:            r.GameState,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		TotalQuestions:       len(r.Questions),
		Answered:             make(map[string]bool, len(r.Answers)),
		AllAnswered:          allAnswered,
		CreatedAt:            r.CreatedAt,
		Version:              r.Version,
	}
	revealed := allAnswered || r.GameState == StateFinished
	if revealed {
		view.Answers = make(map[string]string, len(r.Answers))
	}
	for k, v := range r.Answers {
		view.Answered[k] = true
		if revealed {
			view.Answers[k] = v
		}
	}

	if r.GameState == StateWaiting {
		return view
	}
	if q, ok := r.CurrentQuestion(); ok {
		qv := &QuestionView{
			Prompt:     q.Prompt,
			Options:    append([]string(nil), q.Options...),
			Category:   q.Category,
			Difficulty: q.Difficulty,
		}
		if revealed {
			qv.CorrectAnswer = q.CorrectAnswer
		}
		view.Question = qv
	}
	return view
}
