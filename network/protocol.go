package network

import "github.com/wfunc/triviaserver/models"

// Client -> server.
const (
	MsgTypeHeartbeat    = 1
	MsgTypeHello        = 2
	MsgTypeJoinRoom     = 101
	MsgTypeLeaveRoom    = 102
	MsgTypeCreateRoom   = 103
	MsgTypeStartGame    = 104
	MsgTypeSubmitAnswer = 201
	MsgTypeAdvance      = 202
	MsgTypeSoloStart    = 203
	MsgTypeSoloAnswer   = 204
	MsgTypeSoloAdvance  = 205
	MsgTypeCategories   = 401
	MsgTypeHighScores   = 402
)

// Server -> client. Replies to MsgTypeHello, MsgTypeCategories and
// MsgTypeHighScores reuse the request id.
const (
	MsgTypeRoomState  = 301
	MsgTypeRoomClosed = 302
	MsgTypeSoloState  = 303
	MsgTypeError      = 900
)

// Error codes carried by ErrorPayload.
const (
	CodeNotFound         = "not_found"
	CodeAlreadyStarted   = "already_started"
	CodeForbidden        = "forbidden"
	CodeNotPlaying       = "not_playing"
	CodeNotInRoom        = "not_in_room"
	CodeStaleQuestion    = "stale_question"
	CodeQuestionShortage = "question_shortage"
	CodeTransientIO      = "transient_io"
	CodeInvalidInput     = "invalid_input"
	CodeRateLimited      = "rate_limited"
	CodeUnknownMessage   = "unknown_message"
)

// HelloRequest identifies the player behind a connection. A returning client
// sends its previous PlayerID, and RoomCode to resume a room it is still in.
type HelloRequest struct {
	PlayerID    string `json:"playerId,omitempty"`
	DisplayName string `json:"displayName"`
	RoomCode    string `json:"roomCode,omitempty"`
}

type HelloReply struct {
	PlayerID string `json:"playerId"`
	RoomCode string `json:"roomCode,omitempty"`
}

type CreateRoomRequest struct {
	Settings models.Settings `json:"settings"`
}

type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
}

// AnswerRequest answers question QuestionIndex, as shown in the room view.
// Solo games ignore the index.
type AnswerRequest struct {
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

type SoloStartRequest struct {
	Settings models.Settings `json:"settings"`
}

type HighScoresRequest struct {
	Limit int `json:"limit"`
}

type RoomClosedPayload struct {
	RoomCode string `json:"roomCode"`
	Reason   string `json:"reason"`
}

// SoloStatePayload is pushed after every solo command. Correct is set after
// an answer; Result once the game has finished.
type SoloStatePayload struct {
	View    models.RoomView   `json:"view"`
	Correct *bool             `json:"correct,omitempty"`
	Result  *models.HighScore `json:"result,omitempty"`
}

type ErrorPayload struct {
	Request uint16 `json:"request"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
