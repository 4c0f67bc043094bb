package sessions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/chatmodes"
	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
	"github.com/Desarso/tldwchat/streaming"
)

// SaveMessageOnSuccess implements chatmodes.Host.
func (s *ChatSession) SaveMessageOnSuccess(ctx context.Context, o *chatmodes.Outcome) error {
	if o.HistoryID == chatmodes.TemporaryHistoryID {
		s.setHistoryID(o, chatmodes.TemporaryHistoryID)
		return nil
	}
	return s.persist(ctx, o, false)
}

// SaveMessageOnError implements chatmodes.Host. Only a user abort is saved,
// as a partial answer; any other error is left to the caller.
func (s *ChatSession) SaveMessageOnError(ctx context.Context, o *chatmodes.Outcome, err error) bool {
	if !streaming.IsAbort(err) {
		return false
	}
	s.SetHistory(o, chatmodes.AppendTurn(o.History, o))

	if o.HistoryID == chatmodes.TemporaryHistoryID {
		s.setHistoryID(o, chatmodes.TemporaryHistoryID)
		return true
	}
	if err := s.persist(ctx, o, true); err != nil {
		s.logger.Error("failed to save aborted turn", zap.Error(err))
	}
	return true
}

// persist writes the finished turn into the conversation it started in. An
// existing conversation gets the user message unless the turn regenerated
// or continued an answer; a new one is created first, titled after the
// question.
func (s *ChatSession) persist(ctx context.Context, o *chatmodes.Outcome, aborted bool) error {
	historyID := o.HistoryID
	if historyID != "" {
		if _, err := s.store.GetHistory(historyID); errors.Is(err, stores.ErrHistoryNotFound) {
			s.logger.Warn("conversation deleted during turn, answer dropped", zap.String("history_id", historyID))
			return nil
		}
		if !o.IsRegenerate && !o.IsContinue {
			if err := s.store.SaveMessage(s.userRow(historyID, o)); err != nil {
				return fmt.Errorf("failed to save user message: %w", err)
			}
		}
		if o.IsContinue {
			last, err := s.store.GetLastMessage(historyID)
			if err != nil {
				return fmt.Errorf("failed to find continued message: %w", err)
			}
			if err := s.store.UpdateMessage(historyID, last.MessageID, o.FullText); err != nil {
				return fmt.Errorf("failed to update continued message: %w", err)
			}
		} else if err := s.store.SaveMessage(s.botRow(historyID, o)); err != nil {
			return fmt.Errorf("failed to save bot message: %w", err)
		}
	} else {
		s.mu.Lock()
		model := s.activeModel
		s.mu.Unlock()

		title := GenerateTitle(ctx, s.settings, model, o.Message, o.Message, s.logger)
		h, err := s.store.SaveHistory(title, o.Mode == chatmodes.ModeRAG, o.MessageSource)
		if err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		historyID = h.HistoryID
		if !aborted || !o.IsRegenerate {
			if err := s.store.SaveMessage(s.userRow(historyID, o)); err != nil {
				return fmt.Errorf("failed to save user message: %w", err)
			}
		}
		if err := s.store.SaveMessage(s.botRow(historyID, o)); err != nil {
			return fmt.Errorf("failed to save bot message: %w", err)
		}
		o.HistoryID = historyID
		s.setHistoryID(o, historyID)
	}

	if len(o.Files) > 0 {
		if err := s.store.AttachSessionFiles(historyID, o.Files); err != nil {
			s.logger.Warn("failed to attach session files", zap.String("history_id", historyID), zap.Error(err))
		}
	}
	s.rememberChoices(ctx, historyID, o)
	return nil
}

func (s *ChatSession) rememberChoices(ctx context.Context, historyID string, o *chatmodes.Outcome) {
	if o.Model != "" {
		if err := settings.Set(ctx, s.settings, settings.LastUsedChatModel(historyID), o.Model); err != nil {
			s.logger.Warn("failed to remember model", zap.Error(err))
		}
	}
	if !o.Prompt.IsZero() {
		if err := settings.Set(ctx, s.settings, settings.LastUsedChatSystemPrompt(historyID), o.Prompt); err != nil {
			s.logger.Warn("failed to remember system prompt", zap.Error(err))
		}
	}
}

func (s *ChatSession) userRow(historyID string, o *chatmodes.Outcome) *stores.Message {
	var images []string
	if o.Image != "" {
		images = []string{o.Image}
	}
	return &stores.Message{
		HistoryID:   historyID,
		Role:        models.RoleUser,
		Name:        "You",
		Content:     o.Message,
		Images:      images,
		MessageType: o.MessageType,
		Time:        1,
	}
}

func (s *ChatSession) botRow(historyID string, o *chatmodes.Outcome) *stores.Message {
	return &stores.Message{
		MessageID:          o.MessageID,
		HistoryID:          historyID,
		Role:               models.RoleAssistant,
		Name:               o.Model,
		Content:            o.FullText,
		Sources:            o.Sources,
		GenerationInfo:     o.GenerationInfo,
		ReasoningTimeTaken: o.ReasoningTimeTaken,
		Time:               2,
	}
}

// setHistoryID points the session at the turn's conversation unless the
// session has moved on since the turn started.
func (s *ChatSession) setHistoryID(o *chatmodes.Outcome, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Seq == s.seq {
		s.historyID = id
	}
}
