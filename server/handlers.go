package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/sessions"
	"github.com/Desarso/tldwchat/stores"
)

func (s *Server) startSSE(c *gin.Context) *GinSSEWriter {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	return &GinSSEWriter{Context: c}
}

func (s *Server) handleChat(c *gin.Context) {
	var req sessions.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Message == "" && req.Image == "" && !req.IsContinue {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if err := sessions.RunSSE(c.Request.Context(), s.Session, req, s.startSSE(c), s.Logger); err != nil {
		s.Logger.Debug("chat stream ended with error", zap.Error(err))
	}
}

func (s *Server) handleRegenerate(c *gin.Context) {
	if err := sessions.RunSSERegenerate(c.Request.Context(), s.Session, s.startSSE(c), s.Logger); err != nil {
		s.Logger.Debug("regenerate stream ended with error", zap.Error(err))
	}
}

func (s *Server) handleStop(c *gin.Context) {
	s.Session.Stop()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteLastTurn(c *gin.Context) {
	if err := s.Session.DeleteLastTurn(); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Session.State())
}

func (s *Server) handleClear(c *gin.Context) {
	s.Session.Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if err := sessions.ServeWebSocket(c.Request.Context(), conn, s.Session, s.Logger); err != nil {
		s.Logger.Debug("websocket closed", zap.Error(err))
	}
}

func (s *Server) handleListHistories(c *gin.Context) {
	list, err := s.Store.ListHistories()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]models.HistoryResponse, 0, len(list))
	for _, h := range list {
		out = append(out, models.HistoryResponse{
			HistoryID:     h.HistoryID,
			Title:         h.Title,
			IsRAG:         h.IsRAG,
			MessageSource: h.MessageSource,
			MessageCount:  h.MessageCount,
			CreatedAt:     h.CreatedAt,
			UpdatedAt:     h.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleHistoryMessages(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Store.GetHistory(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	rows, err := s.Store.FetchMessages(id, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]models.ChatMessageResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, models.ChatMessageResponse{
			ID:                 m.ID,
			CreatedAt:          m.CreatedAt,
			HistoryID:          m.HistoryID,
			Sequence:           m.Sequence,
			Name:               m.Name,
			Role:               m.Role,
			Content:            m.Content,
			Images:             m.Images,
			Sources:            m.Sources,
			GenerationInfo:     m.GenerationInfo,
			ReasoningTimeTaken: m.ReasoningTimeTaken,
			MessageType:        m.MessageType,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLoadHistory(c *gin.Context) {
	if err := s.Session.Load(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Session.State())
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	id := c.Param("id")
	if err := s.Store.DeleteHistory(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if s.Session.HistoryID() == id {
		s.Session.Clear()
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListSettings(c *gin.Context) {
	all, err := s.Settings.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) handlePutSetting(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "setting value must be JSON"})
		return
	}
	if err := s.Settings.Set(c.Request.Context(), c.Param("key"), raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleModels(c *gin.Context) {
	if s.Models == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model list unavailable"})
		return
	}
	list, err := s.Models.Models(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": list, "fetched_at": s.Models.FetchedAt()})
}

func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{"database": "ok"}
	if err := s.Store.Ping(); err != nil {
		out["database"] = err.Error()
	}
	if s.Health != nil {
		if status, ok := s.Health.Status(); ok {
			out["tldw"] = status
		}
	}
	c.JSON(http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stores.ErrHistoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrTurnInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
