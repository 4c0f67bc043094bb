package tldw

import (
	"context"
	"fmt"
	"net/http"

	"github.com/philippgille/chromem-go"
)

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	var resp EmbeddingResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/embeddings", EmbeddingRequest{Model: model, Input: inputs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", len(inputs), len(resp.Data))
	}
	out := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

// EmbeddingFunc returns a chromem-go embedding function backed by the
// server's embeddings endpoint.
func (c *Client) EmbeddingFunc(model string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := c.Embed(ctx, model, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
}
