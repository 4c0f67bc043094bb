package sessions

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/reasoning"
	"github.com/Desarso/tldwchat/settings"
)

const untitled = "Untitled"

// GenerateTitle asks the model for a short conversation title when title
// generation is enabled. Otherwise, or on any failure, it returns fallback.
func GenerateTitle(ctx context.Context, repo settings.Repository, model models.ChatModel, query, fallback string, logger *zap.Logger) string {
	if strings.TrimSpace(fallback) == "" {
		fallback = untitled
	}
	enabled, err := settings.Get(ctx, repo, settings.TitleGenEnabled)
	if err != nil || !enabled || model == nil {
		return fallback
	}

	prompt := strings.ReplaceAll(settings.DefaultTitleGenPrompt, "{{query}}", query)
	answer, err := model.Invoke(ctx, []models.ChatMessage{models.HumanMessage(prompt, "")})
	if err != nil {
		if logger != nil {
			logger.Warn("title generation failed", zap.Error(err))
		}
		return fallback
	}
	title := strings.TrimSpace(reasoning.RemoveReasoning(answer))
	if title == "" {
		return fallback
	}
	return title
}
