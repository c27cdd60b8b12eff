package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/network"
	"github.com/wfunc/triviaserver/room"
	"github.com/wfunc/triviaserver/session"
	"github.com/wfunc/triviaserver/state"
)

var (
	errAlreadyInRoom = errors.New("already in a room, leave it first")
	errPlayerIDInUse = fmt.Errorf("%w: player id is held by another connection", room.ErrForbidden)
)

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	if packet.MsgID != network.MsgTypeHeartbeat {
		sess.Touch()
	}

	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	var err error
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
	case network.MsgTypeHello:
		err = s.handleHello(ctx, sess, packet)
	case network.MsgTypeCreateRoom:
		err = s.handleCreateRoom(ctx, sess, packet)
	case network.MsgTypeJoinRoom:
		err = s.handleJoinRoom(ctx, sess, packet)
	case network.MsgTypeLeaveRoom:
		err = s.handleLeaveRoom(ctx, sess)
	case network.MsgTypeStartGame:
		err = s.inRoom(sess, func(code string) error {
			_, err := s.rooms.StartGame(ctx, code, sess.Player().ID)
			return err
		})
	case network.MsgTypeSubmitAnswer:
		var req network.AnswerRequest
		if err = decode(packet, &req); err == nil {
			err = s.inRoom(sess, func(code string) error {
				_, err := s.rooms.SubmitAnswer(ctx, code, sess.Player().ID, req.QuestionIndex, req.Answer)
				return err
			})
		}
	case network.MsgTypeAdvance:
		err = s.inRoom(sess, func(code string) error {
			_, err := s.rooms.AdvanceQuestion(ctx, code, sess.Player().ID)
			return err
		})
	case network.MsgTypeSoloStart:
		err = s.handleSoloStart(ctx, sess, packet)
	case network.MsgTypeSoloAnswer:
		err = s.handleSoloAnswer(sess, packet)
	case network.MsgTypeSoloAdvance:
		err = s.handleSoloAdvance(ctx, sess)
	case network.MsgTypeCategories:
		var categories []models.Category
		if categories, err = s.rooms.Categories(ctx); err == nil {
			err = s.reply(sess, network.MsgTypeCategories, categories)
		}
	case network.MsgTypeHighScores:
		var req network.HighScoresRequest
		if err = decode(packet, &req); err == nil {
			var scores []models.HighScore
			if scores, err = s.highScores.Top(ctx, req.Limit); err == nil {
				err = s.reply(sess, network.MsgTypeHighScores, scores)
			}
		}
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		s.sendError(sess, packet.MsgID, network.CodeUnknownMessage, "unknown message type")
		return
	}

	if err != nil {
		logger.Log.Debugw("Request failed", "session", sess.GetID(), "msg", packet.MsgID, "error", err)
		s.sendError(sess, packet.MsgID, errorCode(err), err.Error())
	}
}

// handleHello names the player and, for a returning client, adopts its
// previous id and resumes the room it is still a member of. Player ids are
// bearer identities with no proof behind them; the only guard is that an id
// held by another live connection cannot be taken over.
func (s *GameServer) handleHello(ctx context.Context, sess *session.Session, packet *network.Packet) error {
	var req network.HelloRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	if sess.Room() != "" {
		return errAlreadyInRoom
	}

	id := sess.Player().ID
	if req.PlayerID != "" && req.PlayerID != id {
		for _, other := range s.sessionManager.GetByPlayerID(req.PlayerID) {
			if other.GetID() != sess.GetID() {
				return errPlayerIDInUse
			}
		}
		id = req.PlayerID
	}
	sess.SetPlayer(id, strings.TrimSpace(req.DisplayName))

	code := room.NormalizeCode(req.RoomCode)
	if code == "" {
		return s.reply(sess, network.MsgTypeHello, network.HelloReply{PlayerID: id})
	}

	r, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if !r.HasPlayer(id) {
		return room.ErrNotInRoom
	}
	if err := s.reply(sess, network.MsgTypeHello, network.HelloReply{PlayerID: id, RoomCode: code}); err != nil {
		return err
	}
	logger.Log.Infow("Player resumed room", "room", code, "player", id, "session", sess.GetID())
	return s.enterRoom(sess, r)
}

func (s *GameServer) handleCreateRoom(ctx context.Context, sess *session.Session, packet *network.Packet) error {
	var req network.CreateRoomRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	if sess.Room() != "" {
		return errAlreadyInRoom
	}

	r, err := s.rooms.CreateRoom(ctx, sess.Player(), req.Settings)
	if err != nil {
		return err
	}
	logger.Log.Infof("Session %s created room %s", sess.GetID(), r.RoomCode)
	return s.enterRoom(sess, r)
}

func (s *GameServer) handleJoinRoom(ctx context.Context, sess *session.Session, packet *network.Packet) error {
	var req network.JoinRoomRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	code := room.NormalizeCode(req.RoomCode)
	if current := sess.Room(); current != "" && current != code {
		return errAlreadyInRoom
	}

	r, err := s.rooms.JoinRoom(ctx, code, sess.Player())
	if err != nil {
		return err
	}
	logger.Log.Infof("Session %s joined room %s", sess.GetID(), code)
	if sess.Room() == code {
		return nil
	}
	return s.enterRoom(sess, r)
}

// enterRoom attaches the session to r's feed and sends it the snapshot it
// got back. Clients discard snapshots whose version is not newer than the
// last one they saw, so overlap with the feed is harmless.
func (s *GameServer) enterRoom(sess *session.Session, r *models.Room) error {
	sess.SetRoom(r.RoomCode)
	if err := s.watch(r.RoomCode); err != nil {
		sess.SetRoom("")
		return err
	}
	return s.reply(sess, network.MsgTypeRoomState, state.View(r))
}

func (s *GameServer) handleLeaveRoom(ctx context.Context, sess *session.Session) error {
	code := sess.Room()
	if code == "" {
		return room.ErrNotInRoom
	}

	_, err := s.rooms.LeaveRoom(ctx, code, sess.Player().ID)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return err
	}
	sess.SetRoom("")
	s.unwatch(code)
	logger.Log.Infof("Session %s left room %s", sess.GetID(), code)
	return s.reply(sess, network.MsgTypeRoomClosed, network.RoomClosedPayload{RoomCode: code, Reason: "left"})
}

func (s *GameServer) inRoom(sess *session.Session, fn func(code string) error) error {
	code := sess.Room()
	if code == "" {
		return room.ErrNotInRoom
	}
	return fn(code)
}

func (s *GameServer) handleSoloStart(ctx context.Context, sess *session.Session, packet *network.Packet) error {
	var req network.SoloStartRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	game, err := s.rooms.NewSoloGame(ctx, sess.Player(), req.Settings)
	if err != nil {
		return err
	}
	sess.SetSolo(game)
	return s.reply(sess, network.MsgTypeSoloState, network.SoloStatePayload{View: game.View()})
}

func (s *GameServer) handleSoloAnswer(sess *session.Session, packet *network.Packet) error {
	var req network.AnswerRequest
	if err := decode(packet, &req); err != nil {
		return err
	}
	game := sess.SoloGame()
	if game == nil {
		return room.ErrNotPlaying
	}
	correct, err := game.SubmitAnswer(req.Answer)
	if err != nil {
		return err
	}
	return s.reply(sess, network.MsgTypeSoloState, network.SoloStatePayload{View: game.View(), Correct: &correct})
}

// handleSoloAdvance moves the solo game on; the final advance records the
// score on the leaderboard and ends the game.
func (s *GameServer) handleSoloAdvance(ctx context.Context, sess *session.Session) error {
	game := sess.SoloGame()
	if game == nil {
		return room.ErrNotPlaying
	}
	if err := game.Advance(); err != nil {
		return err
	}

	payload := network.SoloStatePayload{View: game.View()}
	if game.Finished() {
		result := game.Result()
		if err := s.highScores.Record(ctx, result); err != nil {
			logger.Log.Errorf("Failed to record high score for session %s: %v", sess.GetID(), err)
		}
		payload.Result = &result
		sess.SetSolo(nil)
	}
	return s.reply(sess, network.MsgTypeSoloState, payload)
}

func (s *GameServer) reply(sess *session.Session, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sess.Send(msgID, data)
}

func (s *GameServer) sendError(sess *session.Session, request uint16, code, message string) {
	payload := network.ErrorPayload{Request: request, Code: code, Message: message}
	if err := s.reply(sess, network.MsgTypeError, payload); err != nil {
		logger.Log.Warnf("Failed to send error to session %s: %v", sess.GetID(), err)
	}
}

func decode(packet *network.Packet, v interface{}) error {
	if len(packet.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(packet.Data, v); err != nil {
		return errors.Join(room.ErrInvalidInput, err)
	}
	return nil
}

// errorCode maps an operation error onto the wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return network.CodeNotFound
	case errors.Is(err, room.ErrAlreadyStarted):
		return network.CodeAlreadyStarted
	case errors.Is(err, room.ErrForbidden):
		return network.CodeForbidden
	case errors.Is(err, room.ErrNotPlaying):
		return network.CodeNotPlaying
	case errors.Is(err, room.ErrNotInRoom):
		return network.CodeNotInRoom
	case errors.Is(err, room.ErrStaleQuestion):
		return network.CodeStaleQuestion
	case errors.Is(err, room.ErrQuestionShortage):
		return network.CodeQuestionShortage
	case errors.Is(err, room.ErrInvalidInput), errors.Is(err, errAlreadyInRoom):
		return network.CodeInvalidInput
	default:
		return network.CodeTransientIO
	}
}
