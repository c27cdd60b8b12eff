package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 6, cfg.Game.RoomCodeLength)
	assert.Equal(t, 32, cfg.Game.MaxUpdateRetries)
	assert.False(t, cfg.Game.AllowQuestionShortage)
	assert.Equal(t, 10*time.Second, cfg.Trivia.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Trivia.RequestInterval)
	assert.Equal(t, "https://opentdb.com", cfg.Trivia.BaseURL)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  http_address: ":9000"
database:
  driver: postgres
  postgres:
    host: db
    port: 5433
game:
  room_code_length: 5
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("TRIVIA_GAME_MAX_UPDATE_RETRIES", "7")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddress)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db", cfg.Database.Postgres.Host)
	assert.Equal(t, 5433, cfg.Database.Postgres.Port)
	assert.Equal(t, 5, cfg.Game.RoomCodeLength)
	assert.Equal(t, 7, cfg.Game.MaxUpdateRetries)
	assert.Equal(t, "host=db port=5433 user=trivia password=trivia dbname=trivia sslmode=disable", cfg.Database.Postgres.DSN())
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database:\n  driver: mongo\n"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
