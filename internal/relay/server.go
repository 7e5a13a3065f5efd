// Package relay is the room relay both call participants connect to. It
// mirrors the signaling server of the original deployment: join puts a
// connection in a room and tells the members already there that someone is
// ready, data is re-broadcast to every other member, and a disconnect is
// announced as leave.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcall/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Options configure a Server.
type Options struct {
	Presence Presence // defaults to in-memory
	MaxPeers int      // defaults to DefaultMaxPeers
}

// Server is the relay's HTTP surface.
type Server struct {
	hub    *hub
	router *gin.Engine
}

// NewServer builds the relay and its routes:
//
//	GET /ws            WebSocket relay endpoint
//	GET /healthz       liveness probe
//	GET /rooms/:room   current members of a room
func NewServer(opts Options) *Server {
	if opts.Presence == nil {
		opts.Presence = NewMemoryPresence()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		hub:    newHub(opts.Presence, opts.MaxPeers),
		router: router,
	}

	router.GET("/ws", s.handleWS)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/rooms/:room", s.handleRoom)

	return s
}

// Handler returns the relay as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	util.LogSuccess("relay listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("failed to upgrade connection: %v", err)
		return
	}

	cl := newClient(uuid.NewString(), s.hub, conn)
	util.LogDebug("peer %s connected from %s", cl.id, c.ClientIP())

	go cl.writePump()
	go cl.readPump()
}

func (s *Server) handleRoom(c *gin.Context) {
	name := c.Param("room")

	members, err := s.hub.presence.Members(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":      name,
		"members":   members,
		"connected": s.hub.size(name),
		"capacity":  s.hub.maxPeers,
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		util.LogDebug("%s %s %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
