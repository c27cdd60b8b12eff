package persistence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/triviaserver/models"
)

// hub fans room changes out to in-process listeners.
type hub struct {
	subs   map[string]map[uint64]*subscription // roomCode -> id -> subscription
	nextID uint64
	mutex  sync.RWMutex
}

// subscription serialises deliveries to one listener and drops snapshots
// older than the last one it delivered, so concurrent writers cannot make a
// listener step back in time. After a deletion only a room with a new
// CreatedAt, that is one stored again by Set, gets through.
type subscription struct {
	listener    Listener
	lastVersion int64
	createdAt   time.Time
	deleted     bool
	closed      atomic.Bool
	mutex       sync.Mutex
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[uint64]*subscription)}
}

func (h *hub) subscribe(code string, listener Listener) (*subscription, func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.nextID++
	id := h.nextID
	sub := &subscription{listener: listener}
	if _, exists := h.subs[code]; !exists {
		h.subs[code] = make(map[uint64]*subscription)
	}
	h.subs[code][id] = sub

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			sub.closed.Store(true)
			h.mutex.Lock()
			defer h.mutex.Unlock()
			delete(h.subs[code], id)
			if len(h.subs[code]) == 0 {
				delete(h.subs, code)
			}
		})
	}
}

// publish delivers room (or err) to every listener of code. room is cloned
// per listener.
func (h *hub) publish(code string, room *models.Room, err error) {
	h.mutex.RLock()
	subs := make([]*subscription, 0, len(h.subs[code]))
	for _, s := range h.subs[code] {
		subs = append(subs, s)
	}
	h.mutex.RUnlock()

	for _, s := range subs {
		s.deliver(room.Clone(), err)
	}
}

// publishAll sends err to every listener of every room.
func (h *hub) publishAll(err error) {
	for _, code := range h.codes() {
		h.publish(code, nil, err)
	}
}

func (h *hub) codes() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	codes := make([]string, 0, len(h.subs))
	for code := range h.subs {
		codes = append(codes, code)
	}
	return codes
}

func (s *subscription) deliver(room *models.Room, err error) {
	if s.closed.Load() {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch {
	case room != nil:
		if s.deleted {
			if room.CreatedAt.Equal(s.createdAt) {
				return
			}
		} else if room.Version <= s.lastVersion {
			return
		}
		s.lastVersion = room.Version
		s.createdAt = room.CreatedAt
		s.deleted = false
	case err == ErrRecordNotFound:
		if s.deleted {
			return
		}
		s.deleted = true
	}
	s.listener(room, err)
}
