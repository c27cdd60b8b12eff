package models

import (
	"time"
)

// GormRoom stores one room document. The full Room is kept as JSONB in Data;
// Version and GameState are mirrored into columns for conditional writes
// and queries.
type GormRoom struct {
	RoomCode  string `gorm:"primaryKey;size:16"`
	Version   int64  `gorm:"not null"`
	GameState string `gorm:"index;not null"`
	Data      []byte `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GormRoom) TableName() string { return "rooms" }

// GormHighScore is one single-player leaderboard entry.
type GormHighScore struct {
	ID         uint   `gorm:"primaryKey"`
	PlayerName string `gorm:"not null"`
	Score      int    `gorm:"index;not null"`
	Total      int    `gorm:"not null"`
	Difficulty string
	CreatedAt  time.Time
}

func (GormHighScore) TableName() string { return "high_scores" }

// ToHighScore converts the row to its API form.
func (h GormHighScore) ToHighScore() HighScore {
	return HighScore{
		PlayerName: h.PlayerName,
		Score:      h.Score,
		Total:      h.Total,
		Difficulty: h.Difficulty,
		CreatedAt:  h.CreatedAt,
	}
}
