// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	zlog "github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
//
// Rooms are JSONB documents guarded by a version column. Every write fires a
// NOTIFY that the notifier turns into listener callbacks on every server
// instance.
type GormPostgreSQL struct {
	db       *gorm.DB
	hub      *hub
	notifier *PGNotifier
}

// NewGormPostgreSQL migrates the schema, opens the pool and starts listening
// for room changes.
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second, // 慢SQL阈值
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	p := &GormPostgreSQL{db: db, hub: newHub()}
	p.notifier, err = NewPGNotifier(dsn, RoomChangesChannel, p.refresh, p.refreshAll, func() {
		p.hub.publishAll(ErrSubscriptionLost)
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return p, nil
}

func decodeRoom(row *models.GormRoom) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(row.Data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", row.RoomCode, err)
	}
	room.Version = row.Version
	if room.Answers == nil {
		room.Answers = map[string]string{}
	}
	return &room, nil
}

// lockRoom loads the row for update inside tx.
func lockRoom(tx *gorm.DB, code string) (*models.GormRoom, error) {
	var row models.GormRoom
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("room_code = ?", code).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (p *GormPostgreSQL) Get(ctx context.Context, code string) (*models.Room, error) {
	var row models.GormRoom
	if err := p.db.WithContext(ctx).Where("room_code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeRoom(&row)
}

func (p *GormPostgreSQL) Set(ctx context.Context, room *models.Room) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version int64 = 1
		existing, err := lockRoom(tx, room.RoomCode)
		switch {
		case err == nil:
			version = existing.Version + 1
		case !errors.Is(err, ErrRecordNotFound):
			return err
		}

		room.Version = version
		data, err := json.Marshal(room)
		if err != nil {
			return err
		}
		row := models.GormRoom{
			RoomCode:  room.RoomCode,
			Version:   version,
			GameState: string(room.GameState),
			Data:      data,
		}
		// 使用UPSERT操作
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "game_state", "data", "updated_at"}),
		}).Create(&row).Error
	})
}

func (p *GormPostgreSQL) Update(ctx context.Context, code string, upd models.RoomUpdate) (*models.Room, error) {
	var result *models.Room
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRoom(tx, code)
		if err != nil {
			return err
		}
		if upd.IfVersion != 0 && row.Version != upd.IfVersion {
			return ErrVersionConflict
		}

		room, err := decodeRoom(row)
		if err != nil {
			return err
		}
		upd.ApplyTo(room)
		room.Version = row.Version + 1

		data, err := json.Marshal(room)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.GormRoom{}).
			Where("room_code = ?", code).
			Updates(map[string]interface{}{
				"version":    gorm.Expr("version + ?", 1),
				"game_state": string(room.GameState),
				"data":       data,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		result = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *GormPostgreSQL) Delete(ctx context.Context, code string, ifVersion int64) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRoom(tx, code)
		if err != nil {
			return err
		}
		if ifVersion != 0 && row.Version != ifVersion {
			return ErrVersionConflict
		}
		return tx.Where("room_code = ?", code).Delete(&models.GormRoom{}).Error
	})
}

func (p *GormPostgreSQL) Subscribe(ctx context.Context, code string, listener Listener) (func(), error) {
	sub, unsubscribe := p.hub.subscribe(code, listener)

	room, err := p.Get(ctx, code)
	switch {
	case err == nil:
		sub.deliver(room, nil)
	case errors.Is(err, ErrRecordNotFound):
		sub.deliver(nil, ErrRecordNotFound)
	default:
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

func (p *GormPostgreSQL) Count(ctx context.Context) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&models.GormRoom{}).
		Where("game_state <> ?", string(models.StateFinished)).
		Count(&n).Error
	return int(n), err
}

// refresh re-reads one room after a notification and fans it out.
func (p *GormPostgreSQL) refresh(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	room, err := p.Get(ctx, code)
	switch {
	case err == nil:
		p.hub.publish(code, room, nil)
	case errors.Is(err, ErrRecordNotFound):
		p.hub.publish(code, nil, ErrRecordNotFound)
	default:
		zlog.Log.Errorf("Failed to refresh room %s: %v", code, err)
		p.hub.publish(code, nil, ErrSubscriptionLost)
	}
}

func (p *GormPostgreSQL) refreshAll() {
	for _, code := range p.hub.codes() {
		p.refresh(code)
	}
}

func (p *GormPostgreSQL) AppendHighScore(ctx context.Context, score models.HighScore) error {
	row := models.GormHighScore{
		PlayerName: score.PlayerName,
		Score:      score.Score,
		Total:      score.Total,
		Difficulty: score.Difficulty,
		CreatedAt:  score.CreatedAt,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *GormPostgreSQL) TopHighScores(ctx context.Context, limit int) ([]models.HighScore, error) {
	var rows []models.GormHighScore
	err := p.db.WithContext(ctx).
		Order("score DESC, created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	scores := make([]models.HighScore, len(rows))
	for i, row := range rows {
		scores[i] = row.ToHighScore()
	}
	return scores, nil
}

// Close stops the notifier and closes the pool.
func (p *GormPostgreSQL) Close() error {
	if p.notifier != nil {
		p.notifier.Close()
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
