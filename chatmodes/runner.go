package chatmodes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/providers"
	"github.com/Desarso/tldwchat/reasoning"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
	"github.com/Desarso/tldwchat/streaming"
)

// ErrNothingToContinue is returned when continue mode finds no bot message.
var ErrNothingToContinue = errors.New("no last message to continue")

// rewriteWindow is how many recent messages feed the standalone question.
const rewriteWindow = 10

// Turn is one user submission as the session sees it.
type Turn struct {
	Model        models.ChatModel
	ModelName    string
	Message      string
	Image        string
	MessageType  string
	IsRegenerate bool
	// Messages and History are the state before this turn.
	Messages []models.Message
	History  models.ChatHistory
	// HistoryID is the conversation the turn is saved to; empty starts a new
	// one.
	HistoryID string
	// Seq is copied to the Outcome so the host can recognise a turn that
	// outlived its conversation.
	Seq uint64

	Files          []models.UploadedFile
	Tabs           []models.DocumentRef
	Documents      []models.DocumentRef
	Knowledge      *providers.Knowledge
	WebSearch      bool
	SelectedPrompt settings.SystemPromptRef
	PromptOverride string

	Config models.StreamConfig
}

// Outcome is handed to persistence when a turn ends.
type Outcome struct {
	Mode               string
	Model              string
	MessageID          string
	Message            string
	Image              string
	MessageType        string
	FullText           string
	Sources            []models.Source
	GenerationInfo     *models.GenerationInfo
	ReasoningTimeTaken int64
	IsRegenerate       bool
	IsContinue         bool
	MessageSource      string
	Prompt             settings.SystemPromptRef
	Files              []models.UploadedFile
	Documents          []models.DocumentRef
	// History is the prompt history before the turn.
	History models.ChatHistory
	// HistoryID is fixed when the turn starts. Persistence fills it in only
	// when the turn creates a new conversation.
	HistoryID string
	Seq       uint64
}

// Host is the session state a turn reads and mutates.
type Host interface {
	streaming.MessageSink
	// SetMessages and SetHistory are ignored by the host once the turn's
	// conversation is no longer current.
	SetMessages(o *Outcome, messages []models.Message)
	SetHistory(o *Outcome, history models.ChatHistory)
	SaveMessageOnSuccess(ctx context.Context, o *Outcome) error
	// SaveMessageOnError reports whether the failure was absorbed as a
	// partial success.
	SaveMessageOnError(ctx context.Context, o *Outcome, err error) bool
}

// Runner executes turns against a host.
type Runner struct {
	Host   Host
	Stats  stores.StatsStore
	Logger *zap.Logger
}

func NewRunner(host Host, stats stores.StatsStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Host: host, Stats: stats, Logger: logger.Named("chatmodes")}
}

// Run executes one turn with the given strategy. A failure that persistence
// absorbs (a user abort) is not returned.
func (r *Runner) Run(ctx context.Context, turn Turn, s Strategy) error {
	started := time.Now()
	logger := r.Logger.With(zap.String("mode", s.Mode), zap.String("model", turn.ModelName))

	if s.NormalizeImage {
		turn.Image = providers.NormalizeJPEG(turn.Image)
	}
	if turn.Config.Cursor == "" && turn.Config.Reveal.CharsPerFlush == 0 {
		turn.Config = streaming.DefaultConfig()
	}

	outcome := &Outcome{
		Mode:          s.Mode,
		Model:         turn.ModelName,
		Message:       turn.Message,
		Image:         turn.Image,
		MessageType:   turn.MessageType,
		IsRegenerate:  turn.IsRegenerate,
		IsContinue:    s.Continue,
		MessageSource: s.MessageSource,
		Prompt:        turn.SelectedPrompt,
		Files:         turn.Files,
		Documents:     turn.Documents,
		History:       turn.History,
		HistoryID:     turn.HistoryID,
		Seq:           turn.Seq,
	}
	if s.Continue {
		outcome.Message = ""
		outcome.Image = ""
		outcome.IsRegenerate = false
	}

	messages, initialText, err := r.pendingMessages(turn, s)
	if err != nil {
		return err
	}
	outcome.MessageID = messages[len(messages)-1].ID
	r.Host.SetMessages(outcome, messages)

	// Saving must outlive a cancelled stream.
	saveCtx := context.WithoutCancel(ctx)
	var (
		absorbed bool
		status   = "success"
	)
	onError := func(err error, fullText string) {
		outcome.FullText = fullText
		absorbed = r.Host.SaveMessageOnError(saveCtx, outcome, err)
		if streaming.IsAbort(err) {
			status = "aborted"
		} else {
			status = "error"
		}
	}
	defer func() {
		r.recordStat(outcome, status, time.Since(started))
	}()

	req := providers.Request{
		Query:          turn.Message,
		Message:        turn.Message,
		Image:          turn.Image,
		MessageType:    turn.MessageType,
		Files:          turn.Files,
		Tabs:           turn.Tabs,
		Knowledge:      turn.Knowledge,
		WebSearch:      turn.WebSearch,
		SelectedPrompt: turn.SelectedPrompt,
		PromptOverride: turn.PromptOverride,
	}
	if s.Rewrite && len(messages) > 2 {
		req.Query = r.rewriteQuery(ctx, turn.Model, s.Provider, req, messages, logger)
	}

	built, err := s.Provider.Build(ctx, req)
	if err != nil {
		onError(err, "")
		if absorbed {
			return nil
		}
		return err
	}
	if !built.Prompt.IsZero() {
		outcome.Prompt = built.Prompt
	}
	outcome.Sources = built.Sources

	chat := make([]models.ChatMessage, 0, len(turn.History)+2)
	if built.SystemPrompt != "" {
		chat = append(chat, models.SystemMessage(built.SystemPrompt))
	}
	chat = append(chat, models.GenerateHistory(turn.History)...)
	if !s.Continue {
		human := models.HumanMessage(turn.Message, turn.Image)
		if built.Human != nil {
			human = *built.Human
		}
		chat = append(chat, human)
	}

	err = streaming.StreamChatResponse(ctx, streaming.Params{
		Model:       turn.Model,
		Messages:    chat,
		MessageID:   outcome.MessageID,
		Sink:        r.Host,
		Config:      turn.Config,
		InitialText: initialText,
		Sources:     built.Sources,
		OnComplete: func(fullText string, info *models.GenerationInfo, reasoningMs int64) error {
			outcome.FullText = fullText
			outcome.GenerationInfo = info
			outcome.ReasoningTimeTaken = reasoningMs
			r.Host.SetHistory(outcome, AppendTurn(turn.History, outcome))
			return r.Host.SaveMessageOnSuccess(saveCtx, outcome)
		},
		OnError: onError,
		Logger:  logger,
	})
	if err != nil && absorbed {
		logger.Debug("turn aborted and saved", zap.Error(err))
		return nil
	}
	return err
}

// pendingMessages returns the message list shown while the answer streams
// and, for continue mode, the text being extended.
func (r *Runner) pendingMessages(turn Turn, s Strategy) ([]models.Message, string, error) {
	messages := append([]models.Message(nil), turn.Messages...)

	if s.Continue {
		if len(messages) == 0 || messages[len(messages)-1].ID == "" {
			return nil, "", ErrNothingToContinue
		}
		last := messages[len(messages)-1].Message
		last = strings.TrimSuffix(last, streaming.InlineCursor)
		last = strings.TrimSuffix(last, turn.Config.Cursor)
		return messages, last, nil
	}

	if !turn.IsRegenerate {
		var images []string
		if turn.Image != "" {
			images = []string{turn.Image}
		}
		messages = append(messages, models.Message{
			Name:        "You",
			Message:     turn.Message,
			Sources:     []models.Source{},
			Images:      images,
			Documents:   turn.Documents,
			MessageType: turn.MessageType,
		})
	}
	messages = append(messages, models.Message{
		ID:        uuid.NewString(),
		IsBot:     true,
		Name:      turn.ModelName,
		ModelName: turn.ModelName,
		Message:   streaming.InlineCursor,
		Sources:   []models.Source{},
	})
	return messages, "", nil
}

// rewriteQuery asks the model for a standalone question built from recent
// messages. Any failure falls back to the user's message.
func (r *Runner) rewriteQuery(ctx context.Context, model models.ChatModel, p providers.Provider, req providers.Request, messages []models.Message, logger *zap.Logger) string {
	prompter, ok := p.(providers.QuestionPrompter)
	if !ok {
		return req.Message
	}
	template, err := prompter.QuestionPrompt(ctx, req)
	if err != nil {
		logger.Warn("failed to load question prompt", zap.Error(err))
		return req.Message
	}
	if template == "" {
		return req.Message
	}

	window := messages[max(0, len(messages)-rewriteWindow):]
	window = window[:len(window)-1]
	prompt := strings.ReplaceAll(template, "{chat_history}", models.FormatForRewrite(window))
	prompt = strings.ReplaceAll(prompt, "{question}", req.Message)

	answer, err := model.Invoke(ctx, []models.ChatMessage{models.HumanMessage(prompt, "")})
	if err != nil {
		logger.Warn("query rewrite failed", zap.Error(err))
		return req.Message
	}
	query := reasoning.RemoveReasoning(answer)
	if strings.TrimSpace(query) == "" {
		return req.Message
	}
	logger.Debug("query rewritten", zap.String("query", query))
	return query
}

// AppendTurn returns history with the finished turn recorded. A continued
// answer replaces the last entry instead.
func AppendTurn(history models.ChatHistory, o *Outcome) models.ChatHistory {
	out := append(models.ChatHistory(nil), history...)
	if o.IsContinue && len(out) > 0 {
		out[len(out)-1].Content = o.FullText
		return out
	}
	return append(out,
		models.HistoryEntry{Role: models.RoleUser, Content: o.Message, Image: o.Image, MessageType: o.MessageType},
		models.HistoryEntry{Role: models.RoleAssistant, Content: o.FullText},
	)
}

func (r *Runner) recordStat(o *Outcome, status string, elapsed time.Duration) {
	if r.Stats == nil || o.HistoryID == "" || o.HistoryID == TemporaryHistoryID {
		return
	}
	stat := &stores.TurnStat{
		HistoryID:      o.HistoryID,
		MessageID:      o.MessageID,
		Model:          o.Model,
		Mode:           o.Mode,
		Status:         status,
		DurationMS:     elapsed.Milliseconds(),
		ReasoningMS:    o.ReasoningTimeTaken,
		SourceCount:    len(o.Sources),
		GenerationInfo: o.GenerationInfo,
	}
	if err := r.Stats.SaveTurnStat(stat); err != nil {
		r.Logger.Warn("failed to record turn stat", zap.Error(err))
	}
}

// TemporaryHistoryID marks a conversation that is never persisted.
const TemporaryHistoryID = "temp"
