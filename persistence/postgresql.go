// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL 驱动
	"github.com/pressly/goose/v3"

	"github.com/wfunc/triviaserver/logger"
)

// RoomChangesChannel is the NOTIFY channel the rooms trigger publishes to.
const RoomChangesChannel = "room_changes"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// PGNotifier listens on a Postgres channel on a dedicated connection and
// hands each payload to onNotify.
type PGNotifier struct {
	listener     *pq.Listener
	onNotify     func(payload string)
	onReconnect  func()
	onDisconnect func()
	done         chan struct{}
}

// NewPGNotifier starts listening on channel. onReconnect runs after the
// connection was re-established, when notifications may have been missed;
// onDisconnect runs when the connection drops.
func NewPGNotifier(dsn, channel string, onNotify func(string), onReconnect, onDisconnect func()) (*PGNotifier, error) {
	n := &PGNotifier{
		onNotify:     onNotify,
		onReconnect:  onReconnect,
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
	n.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, n.handleEvent)
	if err := n.listener.Listen(channel); err != nil {
		n.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	go n.run()
	return n, nil
}

func (n *PGNotifier) handleEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		logger.Log.Warnf("Postgres listener disconnected: %v", err)
		if n.onDisconnect != nil {
			n.onDisconnect()
		}
	case pq.ListenerEventReconnected:
		logger.Log.Info("Postgres listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		logger.Log.Warnf("Postgres listener reconnect failed: %v", err)
	}
}

func (n *PGNotifier) run() {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case notification := <-n.listener.Notify:
			// A nil notification follows a reconnect.
			if notification == nil {
				if n.onReconnect != nil {
					n.onReconnect()
				}
				continue
			}
			n.onNotify(notification.Extra)
		case <-ticker.C:
			go func() {
				if err := n.listener.Ping(); err != nil {
					logger.Log.Warnf("Postgres listener ping failed: %v", err)
				}
			}()
		}
	}
}

// Close stops listening and closes the connection.
func (n *PGNotifier) Close() error {
	close(n.done)
	return n.listener.Close()
}
