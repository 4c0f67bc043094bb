package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServeWebSocket reads client frames from conn until it closes. Submits run
// in the background so a stop frame can cancel them. Turns started over the
// connection are cancelled when it closes; turns started elsewhere are not.
func ServeWebSocket(ctx context.Context, conn *websocket.Conn, session *ChatSession, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &WebSocketWriter{Conn: conn, Logger: logger.Named("ws")}
	detach := session.Attach(writer)
	defer detach()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := func(turn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.mu.Lock()
			writer.StartTime = time.Now()
			writer.FirstFrameLogged = false
			writer.mu.Unlock()

			if err := turn(ctx); err != nil {
				writer.Error(err)
				return
			}
			if err := writer.WriteDone(session.HistoryID()); err != nil {
				logger.Debug("failed to write done frame", zap.Error(err))
			}
		}()
	}

	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			cancel()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		switch frame.Type {
		case "submit", "":
			req := frame.SubmitRequest
			run(func(ctx context.Context) error { return session.Submit(ctx, req) })
		case "continue":
			req := frame.SubmitRequest
			req.IsContinue = true
			run(func(ctx context.Context) error { return session.Submit(ctx, req) })
		case "regenerate":
			run(session.Regenerate)
		case "stop":
			session.Stop()
		default:
			writer.Error(errors.New("unknown frame type: " + frame.Type))
		}
	}
}
