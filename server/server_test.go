package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/triviaserver/config"
	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/monitor"
	"github.com/wfunc/triviaserver/network"
	"github.com/wfunc/triviaserver/persistence"
	"github.com/wfunc/triviaserver/room"
	"github.com/wfunc/triviaserver/services"
)

type stubProvider struct {
	questions []models.Question
}

func (p stubProvider) FetchCategories(ctx context.Context) ([]models.Category, error) {
	return []models.Category{{ID: 9, Name: "General Knowledge"}}, nil
}

func (p stubProvider) FetchQuestions(ctx context.Context, settings models.Settings) ([]models.Question, error) {
	return p.questions, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *GameServer) {
	t.Helper()
	store := persistence.NewMemoryStore()
	provider := stubProvider{questions: []models.Question{
		{Prompt: "Capital of France?", CorrectAnswer: "Paris", DistractorAnswers: []string{"Lyon", "Nice", "Lille"}},
		{Prompt: "2 + 2?", CorrectAnswer: "4", DistractorAnswers: []string{"3", "5", "22"}},
	}}
	rooms := room.NewRoomManager(store, provider, room.Options{NewCode: func() string { return "ROOM42" }})

	reg := prometheus.NewRegistry()
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"*"}}}
	srv := NewGameServer(cfg, rooms, services.NewHighScoreService(store, 10), monitor.NewMonitor("test", reg, reg))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return ts, srv
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msgID uint16, v interface{}) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	frame, err := network.Encode(msgID, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, frame))
}

// next reads frames until one with msgID arrives and decodes it into v.
func (c *testClient) next(msgID uint16, v interface{}) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for message %d", msgID)
		packet, err := network.Decode(data)
		require.NoError(c.t, err)

		if packet.MsgID == network.MsgTypeError && msgID != network.MsgTypeError {
			c.t.Fatalf("unexpected error while waiting for %d: %s", msgID, packet.Data)
		}
		if packet.MsgID == msgID {
			require.NoError(c.t, json.Unmarshal(packet.Data, v))
			return
		}
	}
}

// room waits for a room snapshot satisfying cond.
func (c *testClient) room(cond func(models.RoomView) bool) models.RoomView {
	c.t.Helper()
	for {
		var view models.RoomView
		c.next(network.MsgTypeRoomState, &view)
		if cond(view) {
			return view
		}
	}
}

func (c *testClient) hello(req network.HelloRequest) network.HelloReply {
	c.t.Helper()
	c.send(network.MsgTypeHello, req)
	var reply network.HelloReply
	c.next(network.MsgTypeHello, &reply)
	return reply
}

func (c *testClient) expectError(code string) {
	c.t.Helper()
	var payload network.ErrorPayload
	c.next(network.MsgTypeError, &payload)
	assert.Equal(c.t, code, payload.Code, payload.Message)
}

func scoreOf(view models.RoomView, id string) int {
	for _, p := range view.Players {
		if p.ID == id {
			return p.Score
		}
	}
	return -1
}

func TestGameServer_MultiplayerGame(t *testing.T) {
	ts, _ := newTestServer(t)

	ann := dial(t, ts)
	annID := ann.hello(network.HelloRequest{DisplayName: "Ann"}).PlayerID
	bob := dial(t, ts)
	bobID := bob.hello(network.HelloRequest{DisplayName: "Bob"}).PlayerID
	require.NotEqual(t, annID, bobID)

	ann.send(network.MsgTypeCreateRoom, network.CreateRoomRequest{Settings: models.Settings{Amount: 2}})
	view := ann.room(func(v models.RoomView) bool { return len(v.Players) == 1 })
	assert.Equal(t, "ROOM42", view.RoomCode)
	assert.Equal(t, models.StateWaiting, view.GameState)
	assert.Nil(t, view.Question)

	bob.send(network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomCode: "room42"})
	bob.room(func(v models.RoomView) bool { return len(v.Players) == 2 })
	ann.room(func(v models.RoomView) bool { return len(v.Players) == 2 })

	bob.send(network.MsgTypeStartGame, nil)
	bob.expectError(network.CodeForbidden)

	ann.send(network.MsgTypeStartGame, nil)
	for _, c := range []*testClient{ann, bob} {
		view = c.room(func(v models.RoomView) bool { return v.GameState == models.StatePlaying })
		require.NotNil(t, view.Question)
		assert.Equal(t, "Capital of France?", view.Question.Prompt)
		assert.Empty(t, view.Question.CorrectAnswer)
		assert.Len(t, view.Question.Options, 4)
	}

	ann.send(network.MsgTypeSubmitAnswer, network.AnswerRequest{QuestionIndex: 0, Answer: "Paris"})
	view = bob.room(func(v models.RoomView) bool { return v.Answered[annID] })
	assert.Empty(t, view.Answers, "bob must not see ann's answer before answering")
	assert.Empty(t, view.Question.CorrectAnswer)

	bob.send(network.MsgTypeSubmitAnswer, network.AnswerRequest{QuestionIndex: 0, Answer: "Lyon"})
	view = bob.room(func(v models.RoomView) bool { return v.AllAnswered })
	assert.Equal(t, map[string]string{annID: "Paris", bobID: "Lyon"}, view.Answers)
	assert.Equal(t, 1, scoreOf(view, annID))
	assert.Equal(t, 0, scoreOf(view, bobID))
	assert.Equal(t, "Paris", view.Question.CorrectAnswer)

	ann.send(network.MsgTypeAdvance, nil)
	view = bob.room(func(v models.RoomView) bool { return v.CurrentQuestionIndex == 1 })
	assert.Empty(t, view.Answers)
	assert.Empty(t, view.Answered)

	bob.send(network.MsgTypeSubmitAnswer, network.AnswerRequest{QuestionIndex: 0, Answer: "Nice"})
	bob.expectError(network.CodeStaleQuestion)
	bob.send(network.MsgTypeSubmitAnswer, network.AnswerRequest{QuestionIndex: 1, Answer: "Paris"})
	bob.expectError(network.CodeInvalidInput)

	ann.send(network.MsgTypeAdvance, nil)
	view = bob.room(func(v models.RoomView) bool { return v.GameState == models.StateFinished })
	assert.Equal(t, 1, view.CurrentQuestionIndex)

	resp, err := http.Get(ts.URL + "/api/rooms/ROOM42")
	require.NoError(t, err)
	var fetched models.RoomView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	resp.Body.Close()
	assert.Equal(t, models.StateFinished, fetched.GameState)

	bob.send(network.MsgTypeLeaveRoom, nil)
	var closed network.RoomClosedPayload
	bob.next(network.MsgTypeRoomClosed, &closed)
	assert.Equal(t, "left", closed.Reason)
	view = ann.room(func(v models.RoomView) bool { return len(v.Players) == 1 })
	assert.Equal(t, annID, view.HostID)

	ann.send(network.MsgTypeLeaveRoom, nil)
	ann.next(network.MsgTypeRoomClosed, &closed)

	resp, err = http.Get(ts.URL + "/api/rooms/ROOM42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGameServer_JoinStartedRoom(t *testing.T) {
	ts, _ := newTestServer(t)

	ann := dial(t, ts)
	ann.hello(network.HelloRequest{DisplayName: "Ann"})
	ann.send(network.MsgTypeCreateRoom, network.CreateRoomRequest{Settings: models.Settings{Amount: 2}})
	ann.room(func(v models.RoomView) bool { return true })
	ann.send(network.MsgTypeStartGame, nil)
	ann.room(func(v models.RoomView) bool { return v.GameState == models.StatePlaying })

	late := dial(t, ts)
	late.hello(network.HelloRequest{DisplayName: "Late"})
	late.send(network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomCode: "ROOM42"})
	late.expectError(network.CodeAlreadyStarted)

	late.send(network.MsgTypeSubmitAnswer, network.AnswerRequest{Answer: "Paris"})
	late.expectError(network.CodeNotInRoom)
}

func TestGameServer_Resume(t *testing.T) {
	ts, srv := newTestServer(t)

	ann := dial(t, ts)
	annID := ann.hello(network.HelloRequest{DisplayName: "Ann"}).PlayerID
	ann.send(network.MsgTypeCreateRoom, network.CreateRoomRequest{Settings: models.Settings{Amount: 2}})
	ann.room(func(v models.RoomView) bool { return true })

	impostor := dial(t, ts)
	impostor.send(network.MsgTypeHello, network.HelloRequest{PlayerID: annID, DisplayName: "Mallory", RoomCode: "ROOM42"})
	impostor.expectError(network.CodeForbidden)

	ann.conn.Close()
	require.Eventually(t, func() bool {
		return len(srv.sessionManager.GetByPlayerID(annID)) == 0
	}, 3*time.Second, 10*time.Millisecond)

	again := dial(t, ts)
	reply := again.hello(network.HelloRequest{PlayerID: annID, DisplayName: "Ann", RoomCode: "ROOM42"})
	assert.Equal(t, annID, reply.PlayerID)
	assert.Equal(t, "ROOM42", reply.RoomCode)
	view := again.room(func(v models.RoomView) bool { return true })
	assert.Equal(t, annID, view.HostID)

	again.send(network.MsgTypeStartGame, nil)
	again.room(func(v models.RoomView) bool { return v.GameState == models.StatePlaying })

	stranger := dial(t, ts)
	stranger.send(network.MsgTypeHello, network.HelloRequest{DisplayName: "Eve", RoomCode: "ROOM42"})
	stranger.expectError(network.CodeNotInRoom)
}

func TestGameServer_SoloGame(t *testing.T) {
	ts, _ := newTestServer(t)

	c := dial(t, ts)
	c.hello(network.HelloRequest{DisplayName: "Solo"})

	c.send(network.MsgTypeSoloStart, network.SoloStartRequest{Settings: models.Settings{Amount: 10}})
	c.expectError(network.CodeQuestionShortage)

	c.send(network.MsgTypeSoloStart, network.SoloStartRequest{Settings: models.Settings{Amount: 2}})
	var state network.SoloStatePayload
	c.next(network.MsgTypeSoloState, &state)
	assert.Equal(t, models.StatePlaying, state.View.GameState)

	c.send(network.MsgTypeSoloAnswer, network.AnswerRequest{Answer: "Paris"})
	c.next(network.MsgTypeSoloState, &state)
	require.NotNil(t, state.Correct)
	assert.True(t, *state.Correct)

	c.send(network.MsgTypeSoloAdvance, nil)
	c.next(network.MsgTypeSoloState, &state)
	c.send(network.MsgTypeSoloAnswer, network.AnswerRequest{Answer: "5"})
	c.next(network.MsgTypeSoloState, &state)
	assert.False(t, *state.Correct)

	c.send(network.MsgTypeSoloAdvance, nil)
	state = network.SoloStatePayload{}
	c.next(network.MsgTypeSoloState, &state)
	assert.Equal(t, models.StateFinished, state.View.GameState)
	require.NotNil(t, state.Result)
	assert.Equal(t, 1, state.Result.Score)
	assert.Equal(t, 2, state.Result.Total)

	c.send(network.MsgTypeHighScores, network.HighScoresRequest{Limit: 5})
	var scores []models.HighScore
	c.next(network.MsgTypeHighScores, &scores)
	require.Len(t, scores, 1)
	assert.Equal(t, "Solo", scores[0].PlayerName)

	c.send(network.MsgTypeSoloAdvance, nil)
	c.expectError(network.CodeNotPlaying)
}

func TestGameServer_HTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/categories")
	require.NoError(t, err)
	var categories []models.Category
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&categories))
	resp.Body.Close()
	assert.Equal(t, []models.Category{{ID: 9, Name: "General Knowledge"}}, categories)

	resp, err = http.Get(ts.URL + "/api/highscores?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
