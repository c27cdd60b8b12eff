// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"
	"errors"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/session"
)

var (
	ErrNoRecipients = errors.New("no sessions to deliver to")
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomCode string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastToPlayers(playerIDs []string, msgID uint16, data []byte) error
}

// 基于房间的广播器
//
// Room membership is read from the sessions themselves, so only the
// connections held by this process are reached.
type RoomBroadcaster struct {
	sessionManager *session.Manager
}

func NewRoomBroadcaster(sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		sessionManager: sessionManager,
	}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomCode string, msgID uint16, data []byte) error {
	sessions := b.sessionManager.GetByRoom(roomCode)
	if len(sessions) == 0 {
		return ErrNoRecipients
	}
	send(sessions, msgID, data)
	return nil
}

func (b *RoomBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	send(b.sessionManager.All(), msgID, data)
	return nil
}

func (b *RoomBroadcaster) BroadcastToPlayers(playerIDs []string, msgID uint16, data []byte) error {
	for _, id := range playerIDs {
		send(b.sessionManager.GetByPlayerID(id), msgID, data)
	}
	return nil
}

// send delivers to every session and logs failures without stopping. The
// read loop of a broken connection cleans it up.
func send(sessions []*session.Session, msgID uint16, data []byte) {
	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			logger.Log.Warnf("Failed to send message %d to session %s: %v", msgID, s.GetID(), err)
		}
	}
}

// JSON marshals v and broadcasts it to a room.
func JSON(b Broadcaster, roomCode string, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.BroadcastToRoom(roomCode, msgID, data)
}
