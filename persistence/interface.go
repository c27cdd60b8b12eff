package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/triviaserver/models"
)

// Listener receives room snapshots. Every call carries the full document;
// a deleted room is reported as (nil, ErrRecordNotFound), a broken change
// feed as (nil, ErrSubscriptionLost).
type Listener func(room *models.Room, err error)

// RoomStore holds room documents keyed by room code.
type RoomStore interface {
	Get(ctx context.Context, code string) (*models.Room, error)
	// Set replaces the whole document and stores the new version in room.Version.
	Set(ctx context.Context, room *models.Room) error
	// Update merges upd into the stored document atomically and returns the
	// result. It fails with ErrVersionConflict when upd.IfVersion is set and
	// no longer matches.
	Update(ctx context.Context, code string, upd models.RoomUpdate) (*models.Room, error)
	// Delete removes the document. A non-zero ifVersion makes it conditional.
	Delete(ctx context.Context, code string, ifVersion int64) error
	// Subscribe delivers the current snapshot and then every change until
	// the returned function is called.
	Subscribe(ctx context.Context, code string, listener Listener) (func(), error)
	// Count returns the number of rooms that have not finished.
	Count(ctx context.Context) (int, error)
}

// HighScoreStore is the append-only single-player leaderboard.
type HighScoreStore interface {
	AppendHighScore(ctx context.Context, score models.HighScore) error
	TopHighScores(ctx context.Context, limit int) ([]models.HighScore, error)
}

// 错误定义
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrSubscriptionLost = errors.New("change subscription lost")
)
