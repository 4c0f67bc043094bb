package sessions

import (
	"context"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/chatmodes"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
)

// Deps are the collaborators of a ChatSession.
type Deps struct {
	Store     stores.Store
	Settings  settings.Repository
	Models    ModelResolver
	Providers Providers
	// Notifier defaults to logging the error.
	Notifier Notifier
	Logger   *zap.Logger
}

// NewChatSession creates a session and loads the selected model from the
// settings. The session follows later changes of that setting until Close.
func NewChatSession(deps Deps) *ChatSession {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")
	notifier := deps.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}

	if deps.Settings == nil {
		deps.Settings = settings.NewMemoryRepository()
	}

	s := &ChatSession{
		store:     deps.Store,
		settings:  deps.Settings,
		models:    deps.Models,
		providers: deps.Providers,
		notifier:  notifier,
		logger:    logger,
	}
	s.runner = chatmodes.NewRunner(s, deps.Store, logger)

	model, err := settings.Get(context.Background(), deps.Settings, settings.SelectedModel)
	if err != nil {
		logger.Warn("failed to read selected model", zap.Error(err))
	}
	prompt, err := settings.Get(context.Background(), deps.Settings, settings.SelectedSystemPrompt)
	if err != nil {
		logger.Warn("failed to read selected system prompt", zap.Error(err))
	}
	s.selectedModel = model
	s.selectedPrompt = prompt
	s.unwatch = settings.Watch(deps.Settings, settings.SelectedModel, func(name string) {
		s.mu.Lock()
		s.selectedModel = name
		s.mu.Unlock()
	})
	return s
}
