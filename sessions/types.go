package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/providers"
)

var (
	// ErrNoModelSelected is returned when a message is submitted before a
	// model has been chosen.
	ErrNoModelSelected = errors.New("no model selected")
	// ErrTurnInProgress is returned when a second message is submitted while
	// the previous answer is still streaming.
	ErrTurnInProgress = errors.New("a response is already streaming")
	// ErrNothingToRegenerate is returned when there is no answered turn.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
)

// ModelResolver turns a model id into a chat model client.
type ModelResolver interface {
	Resolve(ctx context.Context, name string, settings models.ModelSettings) (models.ChatModel, error)
}

// ModelResolverFunc adapts a function to ModelResolver.
type ModelResolverFunc func(ctx context.Context, name string, settings models.ModelSettings) (models.ChatModel, error)

func (f ModelResolverFunc) Resolve(ctx context.Context, name string, settings models.ModelSettings) (models.ChatModel, error) {
	return f(ctx, name, settings)
}

// Providers holds the context provider of each chat mode. Continue mode
// reuses Normal for its system prompt.
type Providers struct {
	Normal   providers.Provider
	RAG      providers.Provider
	Document providers.Provider
	Search   providers.Provider
	Tab      providers.Provider
	Vision   providers.Provider
	Preset   providers.Provider
}

// Notifier surfaces errors the user should see.
type Notifier interface {
	Error(err error)
}

type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) Error(err error) {
	n.logger.Error("chat failed", zap.Error(err))
}

// Frame is one server-to-client event of a chat stream.
type Frame struct {
	Type      string          `json:"type"` // "message", "done", "error"
	Message   *models.Message `json:"message,omitempty"`
	HistoryID string          `json:"history_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ClientFrame is one client-to-server event on the WebSocket.
type ClientFrame struct {
	Type string `json:"type"` // "submit", "stop", "regenerate", "continue"
	SubmitRequest
}

// SSEWriter handles Server-Sent Events writing
type SSEWriter interface {
	WriteSSE(data string) error
	WriteSSEError(err error) error
	Flush()
}

// SSESink streams message snapshots as SSE frames.
type SSESink struct {
	Writer SSEWriter
	Logger *zap.Logger
	mu     sync.Mutex
}

func NewSSESink(w SSEWriter, logger *zap.Logger) *SSESink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSESink{Writer: w, Logger: logger}
}

// UpdateMessage applies update to an empty message carrying id and sends the
// result. The session always passes full snapshots.
func (s *SSESink) UpdateMessage(id string, update func(*models.Message)) {
	msg := models.Message{ID: id}
	update(&msg)
	if err := s.write(Frame{Type: "message", Message: &msg}); err != nil {
		s.Logger.Debug("dropping sse frame", zap.Error(err))
	}
}

// Done ends the stream.
func (s *SSESink) Done(historyID string) error {
	return s.write(Frame{Type: "done", HistoryID: historyID})
}

// Error reports a failed turn.
func (s *SSESink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if writeErr := s.Writer.WriteSSEError(err); writeErr != nil {
		s.Logger.Debug("dropping sse error frame", zap.Error(writeErr))
	}
	s.Writer.Flush()
}

func (s *SSESink) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Writer.WriteSSE(string(data)); err != nil {
		return err
	}
	s.Writer.Flush()
	return nil
}

// WebSocketWriter handles all WebSocket communication
type WebSocketWriter struct {
	Conn             *websocket.Conn
	Logger           *zap.Logger
	StartTime        time.Time
	FirstFrameLogged bool
	mu               sync.Mutex
}

func (w *WebSocketWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.FirstFrameLogged && !w.StartTime.IsZero() && f.Type == "message" && f.Message != nil && f.Message.IsBot {
		w.FirstFrameLogged = true
		w.Logger.Debug("time to first frame", zap.Duration("elapsed", time.Since(w.StartTime)))
	}
	return w.Conn.WriteJSON(f)
}

// UpdateMessage implements streaming.MessageSink.
func (w *WebSocketWriter) UpdateMessage(id string, update func(*models.Message)) {
	msg := models.Message{ID: id}
	update(&msg)
	if err := w.WriteFrame(Frame{Type: "message", Message: &msg}); err != nil {
		w.Logger.Debug("dropping websocket frame", zap.Error(err))
	}
}

func (w *WebSocketWriter) WriteDone(historyID string) error {
	return w.WriteFrame(Frame{Type: "done", HistoryID: historyID})
}

// Error implements Notifier.
func (w *WebSocketWriter) Error(err error) {
	if writeErr := w.WriteFrame(Frame{Type: "error", Error: err.Error()}); writeErr != nil {
		w.Logger.Debug("dropping websocket error frame", zap.Error(writeErr))
	}
}
