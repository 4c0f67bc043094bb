package tldw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// MediaKind discriminates the shapes a media or ingest reply can take.
type MediaKind string

const (
	MediaKindMedia MediaKind = "media"
	MediaKindJob   MediaKind = "job"
	MediaKindError MediaKind = "error"
)

// MediaResult is the validated reply of a media or ingest call. Exactly one
// of MediaID, JobID or Error is meaningful, selected by Kind.
type MediaResult struct {
	Kind    MediaKind
	MediaID string
	JobID   string
	Status  string
	Error   string
	Raw     map[string]interface{}
}

// ErrUnknownMediaShape is returned when a reply matches none of the kinds.
var ErrUnknownMediaShape = fmt.Errorf("unrecognised media response")

// decodeMediaResult validates the reply once, at the client boundary.
func decodeMediaResult(raw []byte) (*MediaResult, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode media response: %w", err)
	}
	res := &MediaResult{Raw: fields}
	if status, ok := fields["status"].(string); ok {
		res.Status = status
	}

	for _, key := range []string{"error", "detail"} {
		if v, ok := fields[key]; ok && v != nil {
			res.Kind = MediaKindError
			res.Error = stringify(v)
			return res, nil
		}
	}
	if v, ok := fields["job_id"]; ok && v != nil {
		res.Kind = MediaKindJob
		res.JobID = stringify(v)
		return res, nil
	}
	for _, key := range []string{"media_id", "id"} {
		if v, ok := fields[key]; ok && v != nil {
			res.Kind = MediaKindMedia
			res.MediaID = stringify(v)
			return res, nil
		}
	}
	return nil, ErrUnknownMediaShape
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func (c *Client) mediaCall(ctx context.Context, path string, body map[string]interface{}) (*MediaResult, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, path, body, &raw); err != nil {
		return nil, err
	}
	return decodeMediaResult(raw)
}

// AddMedia asks the server to ingest url. Extra options are merged into the
// request body.
func (c *Client) AddMedia(ctx context.Context, url string, options map[string]interface{}) (*MediaResult, error) {
	return c.mediaCall(ctx, "/api/v1/media/add", withField(options, "url", url))
}

// IngestWebContent scrapes and stores url on the server.
func (c *Client) IngestWebContent(ctx context.Context, url string, options map[string]interface{}) (*MediaResult, error) {
	return c.mediaCall(ctx, "/api/v1/media/ingest-web-content", withField(options, "url", url))
}

func withField(options map[string]interface{}, key string, value interface{}) map[string]interface{} {
	body := make(map[string]interface{}, len(options)+1)
	for k, v := range options {
		body[k] = v
	}
	body[key] = value
	return body
}

// CreateNote stores a note.
func (c *Client) CreateNote(ctx context.Context, note Note) (*Note, error) {
	var created Note
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/notes/", note, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// SearchNotes returns notes matching query.
func (c *Client) SearchNotes(ctx context.Context, query string) ([]Note, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/notes/search", map[string]string{"query": query}, &raw); err != nil {
		return nil, err
	}
	var notes []Note
	if err := decodeList(raw, "notes", &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetPrompts lists the prompts stored on the server.
func (c *Client) GetPrompts(ctx context.Context) ([]Prompt, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/prompts/", nil, &raw); err != nil {
		return nil, err
	}
	var prompts []Prompt
	if err := decodeList(raw, "prompts", &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// SearchPrompts returns prompts matching query.
func (c *Client) SearchPrompts(ctx context.Context, query string) ([]Prompt, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/prompts/search", map[string]string{"query": query}, &raw); err != nil {
		return nil, err
	}
	var prompts []Prompt
	if err := decodeList(raw, "prompts", &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// GetPrompt fetches one prompt by id.
func (c *Client) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	var prompt Prompt
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/prompts/"+url.PathEscape(id), nil, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// Text is the prompt body used as a system message.
func (p Prompt) Text() string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	return p.Content
}

// decodeList accepts a bare array, {"<field>": [...]} or {"results": [...]}.
func decodeList(raw json.RawMessage, field string, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return fmt.Errorf("failed to decode %s: %w", field, err)
	}
	for _, key := range []string{field, "results", "items"} {
		if list, ok := wrapped[key]; ok {
			return json.Unmarshal(list, out)
		}
	}
	return nil
}

// TranscribeOptions are the optional form fields of a transcription.
type TranscribeOptions struct {
	Model    string
	Language string
}

// TranscribeAudio uploads audio as multipart form data and returns the
// transcript.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, audio io.Reader, opts TranscribeOptions) (*Transcription, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	if opts.Model != "" {
		_ = form.WriteField("model", opts.Model)
	}
	if opts.Language != "" {
		_ = form.WriteField("language", opts.Language)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/audio/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Transcription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode transcription: %w", err)
	}
	return &out, nil
}
