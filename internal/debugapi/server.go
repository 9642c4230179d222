// Package debugapi exposes an Echo REST + gorilla/websocket surface for
// external tooling to observe a running rollback session (A5). It is
// entirely optional ambient tooling: the core's correctness never depends
// on anyone connecting to it.
package debugapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"

	"github.com/nethercore-systems/nethercore/internal/rollback"
)

// Server serves the debug/metrics HTTP+WS surface over a session.
type Server struct {
	session *rollback.Session
	echo    *echo.Echo
	log     *slog.Logger
	addr    string

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New constructs a Server bound to session; addr is bound only when Run is
// called.
func New(session *rollback.Session, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{
		session:  session,
		echo:     e,
		log:      slog.With("component", "debugapi"),
		upgrader: websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
	s.registerRoutes(addr)
	return s
}

func (s *Server) registerRoutes(addr string) {
	s.echo.GET("/api/session", s.handleSession)
	s.echo.GET("/api/metrics", s.handleMetrics)
	s.echo.GET("/ws/events", s.handleEvents)
	s.addr = addr
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// gracefully shuts it down.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "err", err)
		}
	}()
	<-ctx.Done()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutCtx)
}

// SessionResponse is the payload for GET /api/session.
type SessionResponse struct {
	LocalHandle    uint8         `json:"local_handle"`
	PlayerCount    uint8         `json:"player_count"`
	CurrentFrame   uint32        `json:"current_frame"`
	ConfirmedFrame uint32        `json:"confirmed_frame"`
	Peers          []PeerSummary `json:"peers"`
}

// PeerSummary mirrors rollback.PeerSummary for JSON encoding.
type PeerSummary struct {
	Handle       uint8 `json:"handle"`
	Stalling     bool  `json:"stalling"`
	Disconnected bool  `json:"disconnected"`
}

func (s *Server) handleSession(c echo.Context) error {
	out := lo.Map(s.session.Peers(), func(p rollback.PeerSummary, _ int) PeerSummary {
		return PeerSummary{Handle: uint8(p.Handle), Stalling: p.Stalling, Disconnected: p.Disconnected}
	})
	return c.JSON(http.StatusOK, SessionResponse{
		LocalHandle:    uint8(s.session.LocalHandle()),
		PlayerCount:    s.session.PlayerCount(),
		CurrentFrame:   s.session.CurrentFrame(),
		ConfirmedFrame: s.session.ConfirmedFrame(),
		Peers:          out,
	})
}

// MetricsResponse is the payload for GET /api/metrics.
type MetricsResponse struct {
	CurrentFrame   uint32 `json:"current_frame"`
	ConfirmedFrame uint32 `json:"confirmed_frame"`
	LagFrames      uint32 `json:"lag_frames"`
	PeerCount      int    `json:"peer_count"`
	StallingPeers  int    `json:"stalling_peers"`
}

func (s *Server) handleMetrics(c echo.Context) error {
	current := s.session.CurrentFrame()
	confirmed := s.session.ConfirmedFrame()
	lag := uint32(0)
	if current > confirmed {
		lag = current - confirmed
	}
	peers := s.session.Peers()
	stalling := lo.CountBy(peers, func(p rollback.PeerSummary) bool { return p.Stalling })
	return c.JSON(http.StatusOK, MetricsResponse{
		CurrentFrame:   current,
		ConfirmedFrame: confirmed,
		LagFrames:      lag,
		PeerCount:      len(peers),
		StallingPeers:  stalling,
	})
}

// handleEvents upgrades to a websocket and registers the connection as a
// broadcast target for Broadcast. It blocks reading (and discarding)
// control frames until the peer disconnects, then deregisters itself.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// Broadcast sends a JSON event frame to every connected /ws/events client.
// A slow or dead client is dropped rather than blocking the caller.
func (s *Server) Broadcast(event any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(event); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
}

// jsonErrorHandler ensures every error response carries a consistent JSON
// body, {"error": "message"}, rather than Echo's mixed text/JSON default.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}
