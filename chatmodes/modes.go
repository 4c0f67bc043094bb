// Package chatmodes runs one chat turn: it shows the pending messages,
// builds context through a provider, streams the answer and persists it.
package chatmodes

import (
	"github.com/Desarso/tldwchat/providers"
)

const (
	ModeNormal   = "normal"
	ModeRAG      = "rag"
	ModeDocument = "document"
	ModeSearch   = "search"
	ModeTab      = "tab"
	ModeVision   = "vision"
	ModePreset   = "preset"
	ModeContinue = "continue"
)

const (
	SourceWebUI   = "web-ui"
	SourceCopilot = "copilot"
)

// Strategy is what distinguishes one chat mode from another.
type Strategy struct {
	Mode     string
	Provider providers.Provider
	// Rewrite turns multi-turn queries into standalone questions before
	// the provider runs.
	Rewrite       bool
	MessageSource string
	// Continue extends the last bot message instead of adding a turn.
	Continue bool
	// NormalizeImage relabels the image as a JPEG data URI.
	NormalizeImage bool
}

func Normal(p providers.Provider) Strategy {
	return Strategy{Mode: ModeNormal, Provider: p, MessageSource: SourceWebUI}
}

func RAG(p providers.Provider) Strategy {
	return Strategy{Mode: ModeRAG, Provider: p, Rewrite: true, MessageSource: SourceWebUI}
}

func Document(p providers.Provider) Strategy {
	return Strategy{Mode: ModeDocument, Provider: p, Rewrite: true, MessageSource: SourceWebUI}
}

func Search(p providers.Provider) Strategy {
	return Strategy{Mode: ModeSearch, Provider: p, Rewrite: true, MessageSource: SourceWebUI}
}

func Tab(p providers.Provider) Strategy {
	return Strategy{Mode: ModeTab, Provider: p, Rewrite: true, MessageSource: SourceWebUI}
}

func Vision(p providers.Provider) Strategy {
	return Strategy{Mode: ModeVision, Provider: p, MessageSource: SourceCopilot}
}

func Preset(p providers.Provider) Strategy {
	return Strategy{Mode: ModePreset, Provider: p, MessageSource: SourceCopilot, NormalizeImage: true}
}

// Continue uses p only for its system prompt.
func Continue(p providers.Provider) Strategy {
	return Strategy{Mode: ModeContinue, Provider: p, MessageSource: SourceWebUI, Continue: true}
}
