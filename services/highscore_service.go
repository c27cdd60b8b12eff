// services/highscore_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/persistence"
)

const defaultTopLimit = 10

type HighScoreService struct {
	store    persistence.HighScoreStore
	maxLimit int
	now      func() time.Time
}

func NewHighScoreService(store persistence.HighScoreStore, maxLimit int) *HighScoreService {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &HighScoreService{store: store, maxLimit: maxLimit, now: time.Now}
}

// Record 保存一局单人游戏的成绩
func (s *HighScoreService) Record(ctx context.Context, score models.HighScore) error {
	score.PlayerName = strings.TrimSpace(score.PlayerName)
	if score.PlayerName == "" {
		return fmt.Errorf("player name is required")
	}
	if score.Score < 0 || score.Score > score.Total {
		return fmt.Errorf("score %d out of range 0..%d", score.Score, score.Total)
	}
	if score.CreatedAt.IsZero() {
		score.CreatedAt = s.now()
	}

	if err := s.store.AppendHighScore(ctx, score); err != nil {
		return fmt.Errorf("save high score: %w", err)
	}
	logger.Log.Infow("High score recorded", "player", score.PlayerName, "score", score.Score, "total", score.Total)
	return nil
}

// Top 返回排行榜前 limit 名，limit 会被限制在 1..maxLimit
func (s *HighScoreService) Top(ctx context.Context, limit int) ([]models.HighScore, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	scores, err := s.store.TopHighScores(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load high scores: %w", err)
	}
	return scores, nil
}
