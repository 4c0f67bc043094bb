package tldw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RagSearch queries the server's retrieval index and returns the hits in
// their normalised form.
func (c *Client) RagSearch(ctx context.Context, req RagSearchRequest) ([]RagDocument, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/rag/search", req, &raw); err != nil {
		return nil, err
	}
	return decodeRagDocuments(raw)
}

// RagSimple runs the server's single-shot retrieval endpoint.
func (c *Client) RagSimple(ctx context.Context, query string) ([]RagDocument, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/rag/simple", map[string]string{"query": query}, &raw); err != nil {
		return nil, err
	}
	return decodeRagDocuments(raw)
}

type ragEnvelope struct {
	Results   []map[string]interface{} `json:"results"`
	Documents []map[string]interface{} `json:"documents"`
	Docs      []map[string]interface{} `json:"docs"`
}

// decodeRagDocuments accepts results, documents or docs as the list field.
func decodeRagDocuments(raw json.RawMessage) ([]RagDocument, error) {
	var env ragEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var bare []map[string]interface{}
		if errBare := json.Unmarshal(raw, &bare); errBare != nil {
			return nil, fmt.Errorf("failed to decode rag response: %w", err)
		}
		env.Results = bare
	}

	items := env.Results
	if len(items) == 0 {
		items = env.Documents
	}
	if len(items) == 0 {
		items = env.Docs
	}

	docs := make([]RagDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, normaliseRagItem(item))
	}
	return docs, nil
}

func normaliseRagItem(item map[string]interface{}) RagDocument {
	doc := RagDocument{Metadata: map[string]string{}}
	for _, key := range []string{"content", "text", "page_content", "chunk"} {
		if s, ok := item[key].(string); ok && s != "" {
			doc.Content = s
			break
		}
	}
	if id, ok := item["id"]; ok && id != nil {
		doc.ID = fmt.Sprint(id)
	}
	if score, ok := item["score"].(float64); ok {
		doc.Score = score
	}
	if meta, ok := item["metadata"].(map[string]interface{}); ok {
		for k, v := range meta {
			if v != nil {
				doc.Metadata[k] = fmt.Sprint(v)
			}
		}
	}
	for _, key := range []string{"title", "source", "url"} {
		if s, ok := item[key].(string); ok && s != "" {
			if _, exists := doc.Metadata[key]; !exists {
				doc.Metadata[key] = s
			}
		}
	}
	return doc
}

// Title returns the best display name of the hit.
func (d RagDocument) Title() string {
	for _, key := range []string{"title", "source", "url", "filename"} {
		if v := d.Metadata[key]; v != "" {
			return v
		}
	}
	return "Untitled"
}
