package providers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models/tldw"
	"github.com/Desarso/tldwchat/settings"
)

// PromptLookup resolves a saved prompt by id.
type PromptLookup interface {
	GetPrompt(ctx context.Context, id string) (*tldw.Prompt, error)
}

// None is the provider of normal chat: no retrieved context, only a system
// prompt. A temporary override wins over the selected prompt, which wins
// over the non-RAG system prompt setting.
type None struct {
	Prompts  PromptLookup
	Settings settings.Repository
	Logger   *zap.Logger
}

func NewNone(prompts PromptLookup, repo settings.Repository, logger *zap.Logger) *None {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &None{Prompts: prompts, Settings: repo, Logger: logger.Named("none")}
}

func (p *None) Name() string { return "none" }

func (p *None) Build(ctx context.Context, req Request) (*Context, error) {
	out := &Context{Human: humanFor(req)}

	if override := strings.TrimSpace(req.PromptOverride); override != "" {
		out.SystemPrompt = req.PromptOverride
		out.Prompt = settings.SystemPromptRef{PromptID: req.SelectedPrompt.PromptID, PromptContent: req.PromptOverride}
		return out, nil
	}

	if selected := p.selectedPrompt(ctx, req.SelectedPrompt); selected != "" {
		out.SystemPrompt = selected
		out.Prompt = settings.SystemPromptRef{PromptID: req.SelectedPrompt.PromptID, PromptContent: selected}
		return out, nil
	}

	prompt, err := settings.Get(ctx, p.Settings, settings.SystemPromptForNonRag)
	if err != nil {
		return nil, err
	}
	out.SystemPrompt = prompt
	return out, nil
}

// selectedPrompt returns the content of the selected prompt. A prompt that
// cannot be loaded is treated as unselected.
func (p *None) selectedPrompt(ctx context.Context, ref settings.SystemPromptRef) string {
	if ref.PromptContent != "" {
		return ref.PromptContent
	}
	if ref.PromptID == "" || p.Prompts == nil {
		return ""
	}
	prompt, err := p.Prompts.GetPrompt(ctx, ref.PromptID)
	if err != nil {
		p.Logger.Warn("failed to load selected prompt", zap.String("prompt_id", ref.PromptID), zap.Error(err))
		return ""
	}
	return prompt.Text()
}

// Vision sends the user's text with the image and the non-RAG system prompt.
type Vision struct {
	Settings settings.Repository
}

func NewVision(repo settings.Repository) *Vision {
	return &Vision{Settings: repo}
}

func (p *Vision) Name() string { return "vision" }

func (p *Vision) Build(ctx context.Context, req Request) (*Context, error) {
	prompt, err := settings.Get(ctx, p.Settings, settings.SystemPromptForNonRag)
	if err != nil {
		return nil, err
	}
	return &Context{Human: humanFor(req), SystemPrompt: prompt}, nil
}

// Preset fills a copilot template (summary, rephrase, ...) with the message.
type Preset struct {
	Settings settings.Repository
}

func NewPreset(repo settings.Repository) *Preset {
	return &Preset{Settings: repo}
}

func (p *Preset) Name() string { return "preset" }

func (p *Preset) Build(ctx context.Context, req Request) (*Context, error) {
	template, err := settings.CopilotPrompt(ctx, p.Settings, req.MessageType)
	if err != nil {
		return nil, err
	}
	if template == "" {
		return nil, fmt.Errorf("unknown copilot prompt %q", req.MessageType)
	}
	req.Message = strings.Replace(template, "{text}", req.Message, 1)
	return &Context{Human: humanFor(req)}, nil
}

// NormalizeJPEG rewrites a data URI so its payload is labelled image/jpeg.
func NormalizeJPEG(image string) string {
	if image == "" {
		return ""
	}
	payload := image
	if _, after, ok := strings.Cut(image, ","); ok {
		payload = after
	}
	return "data:image/jpeg;base64," + payload
}
