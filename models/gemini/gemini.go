// Package gemini adapts Google's Gemini models to models.ChatModel.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Desarso/tldwchat/models"
)

// Prefix marks model IDs routed to this adapter.
const Prefix = "gemini/"

const DefaultModel = "gemini-2.5-flash"

// ChatModel streams from the Gemini API through the genai SDK.
type ChatModel struct {
	client   *genai.Client
	model    string
	settings models.ModelSettings
}

// NewChatModel creates a client for model. A leading "gemini/" is dropped.
func NewChatModel(ctx context.Context, apiKey, model string, settings models.ModelSettings) (*ChatModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model = strings.TrimPrefix(model, Prefix)
	if model == "" {
		model = DefaultModel
	}
	return &ChatModel{client: client, model: model, settings: settings}, nil
}

func (g *ChatModel) Name() string { return Prefix + g.model }

func (g *ChatModel) Invoke(ctx context.Context, messages []models.ChatMessage) (string, error) {
	contents, config, err := buildRequest(messages, g.settings)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	text, _ := splitParts(resp)
	return text, nil
}

func (g *ChatModel) Stream(ctx context.Context, messages []models.ChatMessage) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		contents, config, err := buildRequest(messages, g.settings)
		if err != nil {
			errc <- err
			return
		}

		started := time.Now()
		info := &models.GenerationInfo{Model: g.model}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				errc <- err
				return
			}
			applyUsage(info, resp)

			text, thought := splitParts(resp)
			if text == "" && thought == "" {
				continue
			}
			select {
			case out <- models.StreamChunk{Content: text, ReasoningContent: thought}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}

		info.TotalDuration = time.Since(started)
		select {
		case out <- models.StreamChunk{GenerationInfo: info}:
		case <-ctx.Done():
			errc <- ctx.Err()
		}
	}()

	return out, errc
}

// buildRequest moves system messages into SystemInstruction and converts
// the rest to genai contents.
func buildRequest(messages []models.ChatMessage, settings models.ModelSettings) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if settings.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*settings.Temperature))
	}
	if settings.TopP != nil {
		config.TopP = genai.Ptr(float32(*settings.TopP))
	}
	if settings.MaxTokens != nil {
		config.MaxOutputTokens = int32(*settings.MaxTokens)
	}
	if settings.FrequencyPenalty != nil {
		config.FrequencyPenalty = genai.Ptr(float32(*settings.FrequencyPenalty))
	}
	if settings.PresencePenalty != nil {
		config.PresencePenalty = genai.Ptr(float32(*settings.PresencePenalty))
	}

	var system []string
	if settings.SystemPrompt != "" {
		system = append(system, settings.SystemPrompt)
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		role := genai.RoleUser
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch p.Type {
			case "image_url":
				part, err := imagePart(p.ImageURL)
				if err != nil {
					return nil, nil, err
				}
				parts = append(parts, part)
			default:
				if p.Text != "" {
					parts = append(parts, genai.NewPartFromText(p.Text))
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("cannot create Gemini request with no messages")
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, config, nil
}

// imagePart decodes data URIs inline and passes other URLs by reference.
func imagePart(url string) (*genai.Part, error) {
	if !strings.HasPrefix(url, "data:") {
		return genai.NewPartFromURI(url, mimeFromURL(url)), nil
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data uri")
	}
	mime := strings.TrimSuffix(header, ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	return genai.NewPartFromBytes(data, mime), nil
}

func mimeFromURL(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// splitParts returns the answer text and the thought text of the first
// candidate.
func splitParts(resp *genai.GenerateContentResponse) (string, string) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ""
	}
	var text, thought strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			thought.WriteString(part.Text)
		} else {
			text.WriteString(part.Text)
		}
	}
	return text.String(), thought.String()
}

func applyUsage(info *models.GenerationInfo, resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	if resp.ModelVersion != "" {
		info.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		info.PromptTokens = int(u.PromptTokenCount)
		info.CompletionTokens = int(u.CandidatesTokenCount)
		info.TotalTokens = int(u.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		info.FinishReason = string(resp.Candidates[0].FinishReason)
	}
}
