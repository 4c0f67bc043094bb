package sessions

import (
	"context"

	"go.uber.org/zap"
)

// RunSSE submits req and streams the turn to w. The stream ends with a done
// frame, or an error frame when the turn fails.
func RunSSE(ctx context.Context, session *ChatSession, req SubmitRequest, w SSEWriter, logger *zap.Logger) error {
	sink := NewSSESink(w, logger)
	detach := session.Attach(sink)
	defer detach()

	if err := session.Submit(ctx, req); err != nil {
		sink.Error(err)
		return err
	}
	return sink.Done(session.HistoryID())
}

// RunSSERegenerate is RunSSE for a regenerated answer.
func RunSSERegenerate(ctx context.Context, session *ChatSession, w SSEWriter, logger *zap.Logger) error {
	sink := NewSSESink(w, logger)
	detach := session.Attach(sink)
	defer detach()

	if err := session.Regenerate(ctx); err != nil {
		sink.Error(err)
		return err
	}
	return sink.Done(session.HistoryID())
}
