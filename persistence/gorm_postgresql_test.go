//go:build integration

package persistence

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wfunc/triviaserver/models"
)

var testDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("trivia"),
		postgres.WithUsername("trivia"),
		postgres.WithPassword("trivia"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		panic(err)
	}

	testDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	code := m.Run()

	container.Terminate(ctx)
	os.Exit(code)
}

func openStore(t *testing.T) *GormPostgreSQL {
	t.Helper()
	store, err := NewGormPostgreSQL(testDSN)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGormPostgreSQL_RoomLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	room := newTestRoom("PGROOM")
	require.NoError(t, store.Set(ctx, room))
	assert.Equal(t, int64(1), room.Version)

	got, err := store.Get(ctx, "PGROOM")
	require.NoError(t, err)
	assert.Equal(t, "a", got.HostID)
	assert.Equal(t, int64(1), got.Version)

	next, err := store.Update(ctx, "PGROOM", models.RoomUpdate{
		IfVersion:  1,
		AddPlayers: []models.Player{{ID: "b", DisplayName: "Bo"}},
	})
	require.NoError(t, err)
	assert.Len(t, next.Players, 2)
	assert.Equal(t, int64(2), next.Version)

	_, err = store.Update(ctx, "PGROOM", models.RoomUpdate{IfVersion: 1, ClearAnswers: true})
	assert.ErrorIs(t, err, ErrVersionConflict)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	require.NoError(t, store.Delete(ctx, "PGROOM", 0))
	_, err = store.Get(ctx, "PGROOM")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGormPostgreSQL_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Set(ctx, newTestRoom("PGINCR")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "PGINCR", models.RoomUpdate{IncrementScores: map[string]int{"a": 1}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	room, err := store.Get(ctx, "PGINCR")
	require.NoError(t, err)
	assert.Equal(t, 20, room.Players[0].Score)
}

func TestGormPostgreSQL_SubscribeAcrossInstances(t *testing.T) {
	ctx := context.Background()
	writer := openStore(t)
	reader := openStore(t)
	require.NoError(t, writer.Set(ctx, newTestRoom("PGSUBS")))

	rec := &recorder{}
	unsubscribe, err := reader.Subscribe(ctx, "PGSUBS", rec.listen)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = writer.Update(ctx, "PGSUBS", models.RoomUpdate{GameState: models.Ptr(models.StatePlaying)})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		if rec.calls() < 2 {
			return false
		}
		room, _ := rec.last()
		return room != nil && room.GameState == models.StatePlaying
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, writer.Delete(ctx, "PGSUBS", 0))
	assert.Eventually(t, func() bool {
		room, err := rec.last()
		return room == nil && err == ErrRecordNotFound
	}, 5*time.Second, 50*time.Millisecond)
}

func TestGormPostgreSQL_HighScores(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.AppendHighScore(ctx, models.HighScore{PlayerName: "ann", Score: 3, Total: 5, CreatedAt: time.Now()}))
	require.NoError(t, store.AppendHighScore(ctx, models.HighScore{PlayerName: "bo", Score: 5, Total: 5, CreatedAt: time.Now()}))

	top, err := store.TopHighScores(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "bo", top[0].PlayerName)
}
