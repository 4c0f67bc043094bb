// Package streaming turns a model token stream into a throttled, incrementally
// revealed message and hands the final text to a completion callback.
package streaming

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/reasoning"
)

const (
	// Cursor is appended to the visible text while a response streams.
	Cursor = "…"
	// InlineCursor is the placeholder glyph of a pending bot message.
	InlineCursor = "▋"
)

// DefaultReveal is the reveal cadence used when no setting overrides it.
var DefaultReveal = models.RevealConfig{
	CharsPerFlush: 4,
	FlushInterval: 20 * time.Millisecond,
}

// DefaultConfig returns the stream configuration used by every chat mode.
func DefaultConfig() models.StreamConfig {
	return models.StreamConfig{Cursor: Cursor, Reveal: DefaultReveal}
}

// Params describes one streamed bot turn.
type Params struct {
	Model     models.ChatModel
	Messages  []models.ChatMessage
	MessageID string
	Sink      MessageSink
	Config    models.StreamConfig
	// InitialText seeds the accumulator when continuing an earlier answer.
	InitialText string
	Sources     []models.Source

	OnChunk    func(chunk models.StreamChunk, fullText string)
	OnComplete func(fullText string, info *models.GenerationInfo, reasoningMs int64) error
	// OnError sees the failure and the text accumulated so far. The engine
	// still returns the failure afterwards.
	OnError func(err error, fullText string)

	Logger *zap.Logger
}

// StreamChatResponse consumes the model stream, reveals it through the sink
// and calls OnComplete with the final text. Any failure, cancellation
// included, stops the reveal ticker, is passed to OnError and is returned.
func StreamChatResponse(ctx context.Context, p Params) (err error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("streaming").With(zap.String("message_id", p.MessageID))

	var (
		fullText       = p.InitialText
		genInfo        *models.GenerationInfo
		apiReasoning   bool
		reasoningStart time.Time
		reasoningEnded bool
		timeTook       int64
		chunkCount     int
	)

	rv := newRevealer(p.Sink, p.MessageID, p.Config.Cursor, p.InitialText, p.Config.Reveal)
	defer func() {
		if err == nil {
			return
		}
		rv.halt()
		err = normalizeError(err)
		logger.Debug("stream failed", zap.Error(err), zap.Int("chunks", chunkCount))
		if p.OnError != nil {
			p.OnError(err, fullText)
		}
	}()

	chunks, errs := p.Model.Stream(ctx, p.Messages)
	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case streamErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if streamErr != nil {
				return streamErr
			}

		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			chunkCount++
			previous := fullText

			if chunk.ReasoningContent != "" {
				fullText = reasoning.MergeReasoningContent(fullText, chunk.ReasoningContent)
				apiReasoning = true
			} else if apiReasoning {
				fullText += "</think>"
				apiReasoning = false
			}
			fullText += chunk.Content
			if chunk.GenerationInfo != nil {
				genInfo = chunk.GenerationInfo
			}

			if reasoningStart.IsZero() && reasoning.IsReasoningStarted(fullText) {
				reasoningStart = time.Now()
			}
			if !reasoningStart.IsZero() && !reasoningEnded && reasoning.IsReasoningEnded(fullText) {
				reasoningEnded = true
				timeTook = time.Since(reasoningStart).Milliseconds()
			}

			if p.OnChunk != nil {
				p.OnChunk(chunk, fullText)
			}
			rv.accept(previous, fullText, timeTook)
		}
	}

	// The model may close its channels because ctx was cancelled.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	rv.flushAll(fullText)
	p.Sink.UpdateMessage(p.MessageID, func(m *models.Message) {
		m.Message = fullText
		m.Sources = p.Sources
		m.GenerationInfo = genInfo
		m.ReasoningTimeTaken = timeTook
	})
	logger.Debug("stream complete", zap.Int("chunks", chunkCount), zap.Int("chars", len(fullText)))

	if p.OnComplete != nil {
		return p.OnComplete(fullText, genInfo, timeTook)
	}
	return nil
}
