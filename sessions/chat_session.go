package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/chatmodes"
	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/providers"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
	"github.com/Desarso/tldwchat/streaming"
)

// SubmitRequest is one message submission. Messages and Memory, when set,
// replace the session's messages and history for this turn.
type SubmitRequest struct {
	Message      string               `json:"message"`
	Image        string               `json:"image,omitempty"`
	IsRegenerate bool                 `json:"isRegenerate,omitempty"`
	Messages     []models.Message     `json:"messages,omitempty"`
	Memory       models.ChatHistory   `json:"memory,omitempty"`
	IsContinue   bool                 `json:"isContinue,omitempty"`
	Docs         []models.DocumentRef `json:"docs,omitempty"`
	// MessageType selects a copilot preset such as "summary".
	MessageType string `json:"messageType,omitempty"`
	Vision      bool   `json:"vision,omitempty"`
	// Cancel is adopted as the turn's cancel func when set.
	Cancel context.CancelFunc `json:"-"`
}

// State is a snapshot of the session.
type State struct {
	Messages          []models.Message      `json:"messages"`
	History           models.ChatHistory    `json:"history"`
	HistoryID         string                `json:"historyId"`
	IsProcessing      bool                  `json:"isProcessing"`
	Streaming         bool                  `json:"streaming"`
	SelectedModel     string                `json:"selectedModel"`
	SelectedKnowledge *providers.Knowledge  `json:"selectedKnowledge,omitempty"`
	WebSearch         bool                  `json:"webSearch"`
	UploadedFiles     []models.UploadedFile `json:"uploadedFiles,omitempty"`
	SelectedTabs      []models.DocumentRef  `json:"selectedTabs,omitempty"`
	TemporaryChat     bool                  `json:"temporaryChat"`
	UseOCR            bool                  `json:"useOCR"`
}

// ChatSession owns one conversation: its visible messages, the prompt
// history, the selected options and the in-flight turn.
type ChatSession struct {
	store     stores.Store
	settings  settings.Repository
	models    ModelResolver
	providers Providers
	notifier  Notifier
	runner    *chatmodes.Runner
	logger    *zap.Logger
	unwatch   func()

	mu                sync.Mutex
	messages          []models.Message
	history           models.ChatHistory
	historyID         string
	// seq changes whenever the session switches conversation.
	seq               uint64
	isProcessing      bool
	streaming         bool
	cancel            context.CancelFunc
	activeModel       models.ChatModel
	selectedModel     string
	selectedKnowledge *providers.Knowledge
	webSearch         bool
	uploadedFiles     []models.UploadedFile
	selectedTabs      []models.DocumentRef
	temporaryChat     bool
	useOCR            bool
	modelSettings     models.ModelSettings
	selectedPrompt    settings.SystemPromptRef
	sinks             map[int]streaming.MessageSink
	nextSink          int
}

// Submit runs one turn to completion. Errors are also reported to the
// notifier; an aborted turn is saved and returns nil.
func (s *ChatSession) Submit(ctx context.Context, req SubmitRequest) error {
	s.mu.Lock()
	if s.selectedModel == "" {
		s.mu.Unlock()
		s.notifier.Error(ErrNoModelSelected)
		return ErrNoModelSelected
	}
	if s.isProcessing {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	if req.Cancel != nil {
		adopted := req.Cancel
		inner := cancel
		cancel = func() {
			adopted()
			inner()
		}
	}
	s.cancel = cancel
	s.isProcessing = true
	s.streaming = true

	modelName := s.selectedModel
	modelSettings := s.modelSettings
	messages := s.messages
	if req.Messages != nil {
		messages = req.Messages
	}
	history := s.history
	if req.Memory != nil {
		history = req.Memory
	}
	historyID := s.historyID
	switch {
	case s.temporaryChat:
		historyID = chatmodes.TemporaryHistoryID
	case historyID == chatmodes.TemporaryHistoryID:
		historyID = ""
	}
	seq := s.seq
	files := append([]models.UploadedFile(nil), s.uploadedFiles...)
	tabs := req.Docs
	if len(tabs) == 0 {
		tabs = s.selectedTabs
	}
	knowledge := s.selectedKnowledge
	webSearch := s.webSearch
	prompt := s.selectedPrompt
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.streaming = false
		s.cancel = nil
		s.activeModel = nil
		s.mu.Unlock()
		cancel()
	}()

	err := s.submit(runCtx, req, turnInputs{
		modelName:     modelName,
		modelSettings: modelSettings,
		messages:      messages,
		history:       history,
		historyID:     historyID,
		seq:           seq,
		files:         files,
		tabs:          tabs,
		knowledge:     knowledge,
		webSearch:     webSearch,
		prompt:        prompt,
	})
	if err != nil {
		s.logger.Error("turn failed", zap.String("model", modelName), zap.Error(err))
		s.notifier.Error(err)
	}
	return err
}

type turnInputs struct {
	modelName     string
	modelSettings models.ModelSettings
	messages      []models.Message
	history       models.ChatHistory
	historyID     string
	seq           uint64
	files         []models.UploadedFile
	tabs          []models.DocumentRef
	knowledge     *providers.Knowledge
	webSearch     bool
	prompt        settings.SystemPromptRef
}

func (s *ChatSession) submit(ctx context.Context, req SubmitRequest, in turnInputs) error {
	if in.historyID != "" && in.historyID != chatmodes.TemporaryHistoryID {
		stored, err := s.store.GetSessionFiles(in.historyID)
		if err != nil {
			s.logger.Warn("failed to load session files", zap.String("history_id", in.historyID), zap.Error(err))
		}
		in.files = mergeFiles(in.files, stored)
	}

	model, err := s.models.Resolve(ctx, in.modelName, in.modelSettings)
	if err != nil {
		return fmt.Errorf("failed to resolve model %q: %w", in.modelName, err)
	}
	s.mu.Lock()
	s.activeModel = model
	s.mu.Unlock()

	reveal, err := settings.Get(ctx, s.settings, settings.StreamReveal)
	if err != nil {
		s.logger.Warn("failed to read reveal settings", zap.Error(err))
		reveal = streaming.DefaultReveal
	}

	turn := chatmodes.Turn{
		Model:          model,
		ModelName:      in.modelName,
		Message:        req.Message,
		Image:          req.Image,
		MessageType:    req.MessageType,
		IsRegenerate:   req.IsRegenerate,
		Messages:       in.messages,
		History:        in.history,
		HistoryID:      in.historyID,
		Seq:            in.seq,
		Knowledge:      in.knowledge,
		WebSearch:      in.webSearch,
		SelectedPrompt: in.prompt,
		PromptOverride: in.modelSettings.SystemPrompt,
		Config:         models.StreamConfig{Cursor: streaming.Cursor, Reveal: reveal},
	}

	var strategy chatmodes.Strategy
	switch {
	case req.IsContinue:
		strategy = chatmodes.Continue(s.providers.Normal)
	case req.MessageType != "":
		strategy = chatmodes.Preset(s.providers.Preset)
	case req.Vision:
		strategy = chatmodes.Vision(s.providers.Vision)
	case len(in.files) > 0:
		strategy = chatmodes.Document(s.providers.Document)
		turn.Files = in.files
		for _, f := range in.files {
			turn.Documents = append(turn.Documents, f.Ref())
		}
	case len(in.tabs) > 0:
		strategy = chatmodes.Tab(s.providers.Tab)
		turn.Tabs = in.tabs
		turn.Documents = in.tabs
	case in.knowledge != nil:
		strategy = chatmodes.RAG(s.providers.RAG)
	case in.webSearch:
		strategy = chatmodes.Search(s.providers.Search)
	default:
		strategy = chatmodes.Normal(s.providers.Normal)
	}
	if strategy.Provider == nil {
		return fmt.Errorf("no provider configured for %s mode", strategy.Mode)
	}

	s.logger.Debug("submitting turn",
		zap.String("mode", strategy.Mode),
		zap.String("model", in.modelName),
		zap.Bool("regenerate", req.IsRegenerate))
	return s.runner.Run(ctx, turn, strategy)
}

// mergeFiles appends the stored files that are not already attached.
func mergeFiles(current, stored []models.UploadedFile) []models.UploadedFile {
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f.ID] = true
	}
	for _, f := range stored {
		if !seen[f.ID] {
			seen[f.ID] = true
			current = append(current, f)
		}
	}
	return current
}

// Stop cancels the in-flight turn, if any.
func (s *ChatSession) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Regenerate drops the last answer and asks the same question again.
func (s *ChatSession) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	if len(s.history) < 2 || len(s.messages) == 0 {
		s.mu.Unlock()
		return ErrNothingToRegenerate
	}
	messages := append([]models.Message(nil), s.messages...)
	if messages[len(messages)-1].IsBot {
		messages = messages[:len(messages)-1]
	}
	lastUser := s.history[len(s.history)-2]
	history := append(models.ChatHistory{}, s.history[:len(s.history)-2]...)
	historyID := s.historyID
	s.mu.Unlock()

	if historyID != "" && historyID != chatmodes.TemporaryHistoryID {
		if err := s.store.RemoveLastMessage(historyID); err != nil && !errors.Is(err, stores.ErrNoLastMessage) {
			return fmt.Errorf("failed to remove last message: %w", err)
		}
	}

	return s.Submit(ctx, SubmitRequest{
		Message:      lastUser.Content,
		Image:        lastUser.Image,
		MessageType:  lastUser.MessageType,
		IsRegenerate: true,
		Messages:     messages,
		Memory:       history,
	})
}

// DeleteLastTurn removes the trailing question and answer, in memory and
// in the store.
func (s *ChatSession) DeleteLastTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isProcessing {
		return ErrTurnInProgress
	}
	if s.historyID != "" && s.historyID != chatmodes.TemporaryHistoryID {
		if err := s.store.RemoveLastPair(s.historyID); err != nil {
			return fmt.Errorf("failed to remove last turn: %w", err)
		}
	}
	s.messages = s.messages[:max(0, len(s.messages)-2)]
	s.history = s.history[:max(0, len(s.history)-2)]
	return nil
}

// Clear starts a fresh conversation. A streaming turn is cancelled.
func (s *ChatSession) Clear() {
	s.mu.Lock()
	s.seq++
	s.messages = nil
	s.history = nil
	s.historyID = ""
	s.uploadedFiles = nil
	s.selectedTabs = nil
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Load replaces the session with a stored conversation.
func (s *ChatSession) Load(ctx context.Context, historyID string) error {
	if _, err := s.store.GetHistory(historyID); err != nil {
		return err
	}
	rows, err := s.store.FetchMessages(historyID, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	if issues := stores.DetectCorruptedHistory(rows); len(issues) > 0 {
		s.logger.Warn("repairing stored history", zap.String("history_id", historyID), zap.Strings("issues", issues))
	}
	rows = stores.SanitizeHistory(rows)

	messages := make([]models.Message, 0, len(rows))
	history := make(models.ChatHistory, 0, len(rows))
	for _, row := range rows {
		msg := models.Message{
			ID:                 row.MessageID,
			IsBot:              row.Role == models.RoleAssistant,
			Name:               row.Name,
			Message:            row.Content,
			Sources:            row.Sources,
			Images:             row.Images,
			ReasoningTimeTaken: row.ReasoningTimeTaken,
			GenerationInfo:     row.GenerationInfo,
			MessageType:        row.MessageType,
		}
		if msg.Sources == nil {
			msg.Sources = []models.Source{}
		}
		if msg.IsBot {
			msg.ModelName = row.Name
		}
		messages = append(messages, msg)

		entry := models.HistoryEntry{Role: row.Role, Content: row.Content, MessageType: row.MessageType}
		if len(row.Images) > 0 {
			entry.Image = row.Images[0]
		}
		history = append(history, entry)
	}

	files, err := s.store.GetSessionFiles(historyID)
	if err != nil {
		return fmt.Errorf("failed to load session files: %w", err)
	}
	lastModel, err := settings.Get(ctx, s.settings, settings.LastUsedChatModel(historyID))
	if err != nil {
		s.logger.Warn("failed to read last used model", zap.Error(err))
	}
	lastPrompt, err := settings.Get(ctx, s.settings, settings.LastUsedChatSystemPrompt(historyID))
	if err != nil {
		s.logger.Warn("failed to read last used system prompt", zap.Error(err))
	}

	s.mu.Lock()
	s.seq++
	s.messages = messages
	s.history = history
	s.historyID = historyID
	s.uploadedFiles = files
	s.temporaryChat = false
	if lastModel != "" {
		s.selectedModel = lastModel
	}
	if !lastPrompt.IsZero() {
		s.selectedPrompt = lastPrompt
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Attach forwards message updates to sink until the returned func is called.
func (s *ChatSession) Attach(sink streaming.MessageSink) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinks == nil {
		s.sinks = make(map[int]streaming.MessageSink)
	}
	id := s.nextSink
	s.nextSink++
	s.sinks[id] = sink
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.sinks, id)
			s.mu.Unlock()
		})
	}
}

func (s *ChatSession) sinksLocked() []streaming.MessageSink {
	out := make([]streaming.MessageSink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		out = append(out, sink)
	}
	return out
}

// UpdateMessage implements streaming.MessageSink.
func (s *ChatSession) UpdateMessage(id string, update func(*models.Message)) {
	s.mu.Lock()
	var (
		snapshot models.Message
		found    bool
	)
	for i := range s.messages {
		if s.messages[i].ID == id {
			update(&s.messages[i])
			snapshot = s.messages[i]
			found = true
		}
	}
	sinks := s.sinksLocked()
	s.mu.Unlock()
	if !found {
		return
	}
	for _, sink := range sinks {
		sink.UpdateMessage(id, func(m *models.Message) { *m = snapshot })
	}
}

// SetMessages implements chatmodes.Host. Messages past the previous length
// are forwarded to the attached sinks.
func (s *ChatSession) SetMessages(o *chatmodes.Outcome, messages []models.Message) {
	s.mu.Lock()
	if o.Seq != s.seq {
		s.mu.Unlock()
		return
	}
	start := min(len(s.messages), len(messages))
	s.messages = messages
	added := append([]models.Message(nil), messages[start:]...)
	sinks := s.sinksLocked()
	s.mu.Unlock()
	for _, msg := range added {
		for _, sink := range sinks {
			sink.UpdateMessage(msg.ID, func(m *models.Message) { *m = msg })
		}
	}
}

// SetHistory implements chatmodes.Host.
func (s *ChatSession) SetHistory(o *chatmodes.Outcome, history models.ChatHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Seq == s.seq {
		s.history = history
	}
}

// State returns a copy of the session state.
func (s *ChatSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Messages:          append([]models.Message(nil), s.messages...),
		History:           append(models.ChatHistory(nil), s.history...),
		HistoryID:         s.historyID,
		IsProcessing:      s.isProcessing,
		Streaming:         s.streaming,
		SelectedModel:     s.selectedModel,
		SelectedKnowledge: s.selectedKnowledge,
		WebSearch:         s.webSearch,
		UploadedFiles:     append([]models.UploadedFile(nil), s.uploadedFiles...),
		SelectedTabs:      append([]models.DocumentRef(nil), s.selectedTabs...),
		TemporaryChat:     s.temporaryChat,
		UseOCR:            s.useOCR,
	}
}

func (s *ChatSession) HistoryID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyID
}

// SetSelectedModel stores the model choice in the settings as well.
func (s *ChatSession) SetSelectedModel(ctx context.Context, name string) error {
	s.mu.Lock()
	s.selectedModel = name
	s.mu.Unlock()
	return settings.Set(ctx, s.settings, settings.SelectedModel, name)
}

// UseModel selects a model for this session only.
func (s *ChatSession) UseModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedModel = name
}

func (s *ChatSession) SetSelectedKnowledge(k *providers.Knowledge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedKnowledge = k
}

func (s *ChatSession) SetWebSearch(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webSearch = on
}

// AddFiles attaches uploaded files to the conversation.
func (s *ChatSession) AddFiles(files ...models.UploadedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadedFiles = mergeFiles(s.uploadedFiles, files)
}

func (s *ChatSession) ClearFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadedFiles = nil
}

func (s *ChatSession) SetSelectedTabs(tabs []models.DocumentRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTabs = tabs
}

// SetTemporaryChat turns persistence off for the conversation.
func (s *ChatSession) SetTemporaryChat(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temporaryChat = on
}

// SetUseOCR is carried for clients that send it. Images are never OCRed.
func (s *ChatSession) SetUseOCR(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useOCR = on
}

func (s *ChatSession) SetModelSettings(ms models.ModelSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelSettings = ms
}

func (s *ChatSession) SetSelectedPrompt(ref settings.SystemPromptRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedPrompt = ref
}

// Close stops following the selected model setting and cancels any turn.
func (s *ChatSession) Close() {
	s.Stop()
	if s.unwatch != nil {
		s.unwatch()
	}
}
