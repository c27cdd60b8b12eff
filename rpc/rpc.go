package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/room"
	"github.com/wfunc/triviaserver/services"
	"github.com/wfunc/triviaserver/state"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr. Services are added with Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      rpc.NewServer(),
	}, nil
}

// Register exposes the exported methods of rcvr.
func (s *Server) Register(rcvr interface{}) error {
	return s.rpc.Register(rcvr)
}

// Addr is the address actually bound, useful with port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// GameService is the admin surface: leaderboard and room inspection.
type GameService struct {
	highScores *services.HighScoreService
	rooms      *room.Manager
}

// NewGameService creates a new GameService.
func NewGameService(hs *services.HighScoreService, rooms *room.Manager) *GameService {
	return &GameService{highScores: hs, rooms: rooms}
}

type TopScoresArgs struct {
	Limit int
}

type TopScoresReply struct {
	Scores []models.HighScore
}

func (gs *GameService) TopScores(args *TopScoresArgs, reply *TopScoresReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	scores, err := gs.highScores.Top(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Scores = scores
	return nil
}

type RoomSnapshotArgs struct {
	RoomCode string
}

type RoomSnapshotReply struct {
	View models.RoomView
}

// RoomSnapshot returns the same redacted view players receive.
func (gs *GameService) RoomSnapshot(args *RoomSnapshotArgs, reply *RoomSnapshotReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	r, err := gs.rooms.GetRoom(ctx, room.NormalizeCode(args.RoomCode))
	if err != nil {
		return err
	}
	reply.View = state.View(r)
	return nil
}
