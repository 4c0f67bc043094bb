package tldwchat

import (
	"context"
	"errors"
	"strings"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/models/gemini"
	"github.com/Desarso/tldwchat/models/tldw"
)

// ErrNoServer is returned when a tldw model is requested without a client.
var ErrNoServer = errors.New("tldw server not configured")

// Resolver maps model IDs to clients. IDs starting with "gemini/" go to the
// Gemini API; everything else is served by the tldw server.
type Resolver struct {
	Client       *tldw.Client
	GeminiAPIKey string
}

func (r *Resolver) Resolve(ctx context.Context, name string, settings models.ModelSettings) (models.ChatModel, error) {
	if strings.HasPrefix(name, gemini.Prefix) {
		return gemini.NewChatModel(ctx, r.GeminiAPIKey, name, settings)
	}
	if r.Client == nil {
		return nil, ErrNoServer
	}
	return tldw.NewChatModel(r.Client, name, settings), nil
}
