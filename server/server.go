package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wfunc/triviaserver/broadcast"
	"github.com/wfunc/triviaserver/config"
	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/monitor"
	"github.com/wfunc/triviaserver/network"
	"github.com/wfunc/triviaserver/room"
	triviarpc "github.com/wfunc/triviaserver/rpc"
	"github.com/wfunc/triviaserver/services"
	"github.com/wfunc/triviaserver/session"
	"github.com/wfunc/triviaserver/state"
	"github.com/wfunc/triviaserver/timer"
)

const requestTimeout = 15 * time.Second

type GameServer struct {
	cfg            config.ServerConfig
	metricsCfg     config.MetricsConfig
	upgrader       websocket.Upgrader
	rooms          *room.Manager
	highScores     *services.HighScoreService
	sessionManager *session.Manager
	broadcaster    broadcast.Broadcaster
	monitor        *monitor.Monitor
	timers         *timer.TimerManager
	rpcServer      *triviarpc.Server
	httpServer     *http.Server

	// one store subscription per room with local sessions in it
	watchers   map[string]*watcher
	watchMutex sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

type watcher struct {
	refs        int
	unsubscribe func()
}

func NewGameServer(cfg *config.Config, rooms *room.Manager, highScores *services.HighScoreService, mon *monitor.Monitor) *GameServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &GameServer{
		cfg:            cfg.Server,
		metricsCfg:     cfg.Metrics,
		rooms:          rooms,
		highScores:     highScores,
		sessionManager: session.NewManager(),
		monitor:        mon,
		watchers:       make(map[string]*watcher),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	// 初始化广播器
	s.broadcaster = broadcast.NewRoomBroadcaster(s.sessionManager)
	return s
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start serves the RPC and HTTP listeners and the maintenance timers. It
// blocks until the HTTP server stops.
func (s *GameServer) Start() error {
	if s.cfg.RPCAddress != "" {
		rpcServer, err := triviarpc.NewServer(s.cfg.RPCAddress)
		if err != nil {
			return err
		}
		if err := rpcServer.Register(triviarpc.NewGameService(s.highScores, s.rooms)); err != nil {
			rpcServer.Stop()
			return err
		}
		s.rpcServer = rpcServer
		go rpcServer.Start()
	}

	s.startMaintenance()

	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPAddress,
		Handler: s.Router(),
	}
	logger.Log.Infof("Game server listening on %s", s.cfg.HTTPAddress)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting work, closes every connection and releases the
// room subscriptions. Players stay on their rosters.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.timers != nil {
		s.timers.Stop()
	}
	if s.rpcServer != nil {
		s.rpcServer.Stop()
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}

	s.watchMutex.Lock()
	watchers := s.watchers
	s.watchers = make(map[string]*watcher)
	s.watchMutex.Unlock()
	for _, w := range watchers {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	}
	return err
}

func (s *GameServer) startMaintenance() {
	s.timers = timer.NewTimerManager(time.Second)
	if s.metricsCfg.RefreshInterval > 0 {
		s.timers.AddTimer(0, s.metricsCfg.RefreshInterval, s.refreshActiveRooms)
	}
	if s.cfg.IdleTimeout > 0 {
		s.timers.AddTimer(s.cfg.IdleTimeout, s.cfg.IdleTimeout/2, s.sweepIdleSessions)
	}
}

func (s *GameServer) refreshActiveRooms() {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	n, err := s.rooms.ActiveRooms(ctx)
	if err != nil {
		logger.Log.Warnf("Failed to count active rooms: %v", err)
		return
	}
	s.monitor.SetActiveRooms(n)
}

// sweepIdleSessions closes connections that are neither in a room nor in a
// solo game and have sent nothing but heartbeats for the idle timeout.
func (s *GameServer) sweepIdleSessions() {
	cutoff := time.Now().Add(-s.cfg.IdleTimeout)
	for _, sess := range s.sessionManager.All() {
		if sess.Room() != "" || sess.SoloGame() != nil {
			continue
		}
		if sess.IdleSince(cutoff) {
			logger.Log.Infof("Closing idle session %s", sess.GetID())
			sess.Close()
		}
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	if s.cfg.HeartbeatInterval > 0 {
		wsConn.SetHeartbeat(s.cfg.HeartbeatInterval)
	}
	sess := session.NewSession(uuid.New().String(), wsConn, rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlinePlayers()
		// A dropped connection does not leave the room; the player may resume.
		if code := sess.Room(); code != "" {
			sess.SetRoom("")
			s.unwatch(code)
		}
		wsConn.Close()
	}()

	for {
		packet, err := wsConn.ReadPacket()
		if err != nil {
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		s.monitor.IncMessagesReceived()

		if !sess.Allow() {
			s.sendError(sess, packet.MsgID, network.CodeRateLimited, "too many messages")
			continue
		}
		start := time.Now()
		s.handlePacket(sess, packet)
		s.monitor.ObserveMessageLatency(time.Since(start))
	}
}

// watch makes sure this process follows code and fans its changes out to the
// local sessions in it. Calls are reference counted per session.
func (s *GameServer) watch(code string) error {
	s.watchMutex.Lock()
	if w, exists := s.watchers[code]; exists {
		w.refs++
		s.watchMutex.Unlock()
		return nil
	}
	w := &watcher{refs: 1}
	s.watchers[code] = w
	s.watchMutex.Unlock()

	unsubscribe, err := s.rooms.Subscribe(s.ctx, code, func(r *models.Room, err error) {
		s.onRoomChange(code, r, err)
	})

	s.watchMutex.Lock()
	defer s.watchMutex.Unlock()
	if err != nil {
		if s.watchers[code] == w {
			delete(s.watchers, code)
		}
		return err
	}
	if s.watchers[code] != w {
		// dropped while subscribing, the room is already gone
		unsubscribe()
		return nil
	}
	w.unsubscribe = unsubscribe
	return nil
}

func (s *GameServer) unwatch(code string) {
	s.watchMutex.Lock()
	w, exists := s.watchers[code]
	if !exists {
		s.watchMutex.Unlock()
		return
	}
	w.refs--
	if w.refs > 0 {
		s.watchMutex.Unlock()
		return
	}
	delete(s.watchers, code)
	s.watchMutex.Unlock()

	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}

func (s *GameServer) dropWatcher(code string) {
	s.watchMutex.Lock()
	w, exists := s.watchers[code]
	delete(s.watchers, code)
	s.watchMutex.Unlock()

	if exists && w.unsubscribe != nil {
		w.unsubscribe()
	}
}

func (s *GameServer) onRoomChange(code string, r *models.Room, err error) {
	switch {
	case err == nil:
		if err := broadcast.JSON(s.broadcaster, code, network.MsgTypeRoomState, state.View(r)); err != nil && !errors.Is(err, broadcast.ErrNoRecipients) {
			logger.Log.Errorf("Failed to broadcast room %s: %v", code, err)
		}

	case errors.Is(err, room.ErrNotFound):
		closed := network.RoomClosedPayload{RoomCode: code, Reason: "deleted"}
		broadcast.JSON(s.broadcaster, code, network.MsgTypeRoomClosed, closed)
		for _, sess := range s.sessionManager.GetByRoom(code) {
			sess.SetRoom("")
		}
		s.dropWatcher(code)
		logger.Log.Infow("Room closed", "room", code)

	default:
		logger.Log.Errorf("Room %s feed failed: %v", code, err)
		for _, sess := range s.sessionManager.GetByRoom(code) {
			s.sendError(sess, network.MsgTypeRoomState, network.CodeTransientIO, err.Error())
		}
	}
}
