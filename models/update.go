package models

// RoomUpdate is a partial merge applied to a room document in one atomic
// step. Nil pointer fields are left untouched.
type RoomUpdate struct {
	// IfVersion makes the update conditional on the stored version. Zero
	// applies unconditionally.
	IfVersion int64

	GameState            *GameState
	HostID               *string
	CurrentQuestionIndex *int

	// AddPlayers is an array union keyed by player id: entries already on
	// the roster are skipped.
	AddPlayers    []Player
	RemovePlayers []string

	// ClearAnswers is applied before SetAnswers.
	ClearAnswers bool
	SetAnswers   map[string]string

	// IncrementScores adds the delta to each listed player's score.
	IncrementScores map[string]int
}

// IsEmpty reports whether applying u would change nothing.
func (u RoomUpdate) IsEmpty() bool {
	return u.GameState == nil &&
		u.HostID == nil &&
		u.CurrentQuestionIndex == nil &&
		len(u.AddPlayers) == 0 &&
		len(u.RemovePlayers) == 0 &&
		!u.ClearAnswers &&
		len(u.SetAnswers) == 0 &&
		len(u.IncrementScores) == 0
}

// ApplyTo merges u into r. It does not check IfVersion nor bump Version;
// both are the store's job.
func (u RoomUpdate) ApplyTo(r *Room) {
	if u.GameState != nil {
		r.GameState = *u.GameState
	}
	if u.HostID != nil {
		r.HostID = *u.HostID
	}
	if u.CurrentQuestionIndex != nil {
		r.CurrentQuestionIndex = *u.CurrentQuestionIndex
	}

	if len(u.RemovePlayers) > 0 {
		remove := make(map[string]struct{}, len(u.RemovePlayers))
		for _, id := range u.RemovePlayers {
			remove[id] = struct{}{}
		}
		kept := r.Players[:0]
		for _, p := range r.Players {
			if _, gone := remove[p.ID]; !gone {
				kept = append(kept, p)
			}
		}
		r.Players = kept
	}
	for _, p := range u.AddPlayers {
		if !r.HasPlayer(p.ID) {
			r.Players = append(r.Players, p)
		}
	}

	if u.ClearAnswers || r.Answers == nil {
		r.Answers = make(map[string]string, len(u.SetAnswers))
	}
	for id, answer := range u.SetAnswers {
		r.Answers[id] = answer
	}

	for id, delta := range u.IncrementScores {
		for i := range r.Players {
			if r.Players[i].ID == id {
				r.Players[i].Score += delta
			}
		}
	}
}

// Ptr returns a pointer to v, for filling the optional fields of RoomUpdate.
func Ptr[T any](v T) *T {
	return &v
}
