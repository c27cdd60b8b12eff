package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/wfunc/triviaserver/models"
)

// MemoryStore keeps rooms and high scores in process memory. Writes to one
// store are serialised by a single mutex, which gives Update the same
// atomicity as the Postgres store.
type MemoryStore struct {
	rooms      map[string]*models.Room
	highScores []models.HighScore
	hub        *hub
	mutex      sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*models.Room),
		hub:   newHub(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, code string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	room, exists := s.rooms[code]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryStore) Set(ctx context.Context, room *models.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	var version int64 = 1
	if old, exists := s.rooms[room.RoomCode]; exists {
		version = old.Version + 1
	}
	room.Version = version
	stored := room.Clone()
	s.rooms[room.RoomCode] = stored
	snapshot := stored.Clone()
	s.mutex.Unlock()

	s.hub.publish(room.RoomCode, snapshot, nil)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, code string, upd models.RoomUpdate) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	room, exists := s.rooms[code]
	if !exists {
		s.mutex.Unlock()
		return nil, ErrRecordNotFound
	}
	if upd.IfVersion != 0 && room.Version != upd.IfVersion {
		s.mutex.Unlock()
		return nil, ErrVersionConflict
	}
	next := room.Clone()
	upd.ApplyTo(next)
	next.Version = room.Version + 1
	s.rooms[code] = next
	snapshot := next.Clone()
	s.mutex.Unlock()

	s.hub.publish(code, snapshot, nil)
	return snapshot.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, code string, ifVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	room, exists := s.rooms[code]
	if !exists {
		s.mutex.Unlock()
		return ErrRecordNotFound
	}
	if ifVersion != 0 && room.Version != ifVersion {
		s.mutex.Unlock()
		return ErrVersionConflict
	}
	delete(s.rooms, code)
	s.mutex.Unlock()

	s.hub.publish(code, nil, ErrRecordNotFound)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, code string, listener Listener) (func(), error) {
	sub, unsubscribe := s.hub.subscribe(code, listener)

	room, err := s.Get(ctx, code)
	switch {
	case err == nil:
		sub.deliver(room, nil)
	case err == ErrRecordNotFound:
		sub.deliver(nil, ErrRecordNotFound)
	default:
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := 0
	for _, room := range s.rooms {
		if room.GameState != models.StateFinished {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendHighScore(ctx context.Context, score models.HighScore) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.highScores = append(s.highScores, score)
	return nil
}

func (s *MemoryStore) TopHighScores(ctx context.Context, limit int) ([]models.HighScore, error) {
	s.mutex.Lock()
	scores := append([]models.HighScore(nil), s.highScores...)
	s.mutex.Unlock()

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].CreatedAt.Before(scores[j].CreatedAt)
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}
