// Package server exposes the chat session over HTTP with gin.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/scheduler"
	"github.com/Desarso/tldwchat/sessions"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
)

// Server serves one chat session and the stored conversations.
type Server struct {
	Session  *sessions.ChatSession
	Store    stores.Store
	Settings settings.Repository
	Health   *scheduler.HealthMonitor
	Models   *scheduler.ModelCache
	Logger   *zap.Logger

	upgrader websocket.Upgrader
}

func New(session *sessions.ChatSession, store stores.Store, repo settings.Repository, health *scheduler.HealthMonitor, cache *scheduler.ModelCache, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Session:  session,
		Store:    store,
		Settings: repo,
		Health:   health,
		Models:   cache,
		Logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	r := router.Group("/api/v1")
	r.POST("/chat", s.handleChat)
	r.POST("/chat/stop", s.handleStop)
	r.POST("/chat/regenerate", s.handleRegenerate)
	r.DELETE("/chat/last", s.handleDeleteLastTurn)
	r.GET("/chat/state", s.handleState)
	r.POST("/chat/clear", s.handleClear)
	r.GET("/chat/ws", s.handleWebSocket)

	r.GET("/histories", s.handleListHistories)
	r.GET("/histories/:id/messages", s.handleHistoryMessages)
	r.POST("/histories/:id/load", s.handleLoadHistory)
	r.DELETE("/histories/:id", s.handleDeleteHistory)

	r.GET("/settings", s.handleListSettings)
	r.PUT("/settings/:key", s.handlePutSetting)

	r.GET("/models", s.handleModels)
	r.GET("/status", s.handleStatus)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// ListenAndServe serves addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.Session.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// GinSSEWriter implements sessions.SSEWriter for a gin context.
type GinSSEWriter struct {
	Context *gin.Context
}

func (w *GinSSEWriter) WriteSSE(data string) error {
	w.Context.SSEvent("message", data)
	return nil
}

func (w *GinSSEWriter) WriteSSEError(err error) error {
	w.Context.SSEvent("error", err.Error())
	return nil
}

func (w *GinSSEWriter) Flush() {
	w.Context.Writer.Flush()
}
