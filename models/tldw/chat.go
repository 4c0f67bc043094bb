package tldw

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models"
)

// ChatCompletion sends a non-streaming chat request and returns the reply text.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var resp ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reply returns the reply content of a non-streaming response.
func (r *ChatResponse) Reply() (string, error) {
	if len(r.Choices) > 0 && r.Choices[0].Message != nil {
		return r.Choices[0].Message.Content, nil
	}
	if r.Content != "" {
		return r.Content, nil
	}
	if r.Text != "" {
		return r.Text, nil
	}
	return "", fmt.Errorf("invalid response format from tldw server")
}

// StreamChatCompletion opens an SSE chat stream. Events are delivered until
// the server sends [DONE] or closes the connection. The error channel
// carries at most one error.
func (c *Client) StreamChatCompletion(ctx context.Context, req ChatRequest) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent)
	errc := make(chan error, 1)
	req.Stream = true

	go func() {
		defer close(events)
		defer close(errc)

		httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chat/completions", req)
		if err != nil {
			errc <- err
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.send(httpReq)
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var ev StreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.logger.Warn("failed to decode stream chunk", zap.Error(err), zap.String("data", data))
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				errc <- ctx.Err()
				return
			}
			errc <- fmt.Errorf("error reading stream: %w", err)
		}
	}()

	return events, errc
}

// ChatModel adapts a tldw server model to models.ChatModel.
type ChatModel struct {
	client   *Client
	model    string
	settings models.ModelSettings
}

// NewChatModel returns a chat model. A leading "tldw:" on the model ID is
// dropped so the server receives provider/model.
func NewChatModel(client *Client, model string, settings models.ModelSettings) *ChatModel {
	return &ChatModel{
		client:   client,
		model:    strings.TrimPrefix(model, "tldw:"),
		settings: settings,
	}
}

func (m *ChatModel) Name() string { return m.model }

func (m *ChatModel) request(messages []models.ChatMessage) ChatRequest {
	converted := make([]ChatMessage, 0, len(messages)+1)
	if m.settings.SystemPrompt != "" && (len(messages) == 0 || messages[0].Role != models.RoleSystem) {
		converted = append(converted, ChatMessage{Role: models.RoleSystem, Content: m.settings.SystemPrompt})
	}
	for _, msg := range messages {
		converted = append(converted, convertMessage(msg))
	}
	return ChatRequest{
		Model:            m.model,
		Messages:         converted,
		Temperature:      m.settings.Temperature,
		MaxTokens:        m.settings.MaxTokens,
		TopP:             m.settings.TopP,
		FrequencyPenalty: m.settings.FrequencyPenalty,
		PresencePenalty:  m.settings.PresencePenalty,
	}
}

// convertMessage keeps text-only messages as a plain string and sends
// multimodal ones as content parts.
func convertMessage(msg models.ChatMessage) ChatMessage {
	images := msg.Images()
	if len(images) == 0 {
		return ChatMessage{Role: msg.Role, Content: msg.Text()}
	}
	parts := make([]ContentPart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case "image_url":
			if p.ImageURL != "" {
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: p.ImageURL}})
			}
		default:
			parts = append(parts, ContentPart{Type: "text", Text: p.Text})
		}
	}
	return ChatMessage{Role: msg.Role, Content: parts}
}

func (m *ChatModel) Invoke(ctx context.Context, messages []models.ChatMessage) (string, error) {
	resp, err := m.client.ChatCompletion(ctx, m.request(messages))
	if err != nil {
		return "", err
	}
	return resp.Reply()
}

func (m *ChatModel) Stream(ctx context.Context, messages []models.ChatMessage) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error, 1)
	started := time.Now()

	events, streamErrs := m.client.StreamChatCompletion(ctx, m.request(messages))

	go func() {
		defer close(out)
		defer close(errc)

		info := &models.GenerationInfo{Model: m.model}
		send := func(chunk models.StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for ev := range events {
			if ev.Model != "" {
				info.Model = ev.Model
			}
			if ev.Usage != nil {
				info.PromptTokens = ev.Usage.PromptTokens
				info.CompletionTokens = ev.Usage.CompletionTokens
				info.TotalTokens = ev.Usage.TotalTokens
			}
			for _, choice := range ev.Choices {
				if choice.FinishReason != nil {
					info.FinishReason = *choice.FinishReason
				}
				delta := choice.Delta
				if delta == nil {
					delta = choice.Message
				}
				if delta == nil {
					continue
				}
				chunk := models.StreamChunk{Content: delta.Content, ReasoningContent: delta.ReasoningContent}
				if chunk.ReasoningContent == "" {
					chunk.ReasoningContent = delta.Reasoning
				}
				if chunk.Content == "" && chunk.ReasoningContent == "" {
					continue
				}
				if !send(chunk) {
					errc <- ctx.Err()
					return
				}
			}
		}

		if err := <-streamErrs; err != nil {
			errc <- err
			return
		}
		info.TotalDuration = time.Since(started)
		if !send(models.StreamChunk{GenerationInfo: info}) {
			errc <- ctx.Err()
		}
	}()

	return out, errc
}
