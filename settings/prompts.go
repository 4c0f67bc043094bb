package settings

import (
	"context"
	"strings"
)

const (
	DefaultRagQuestionPrompt = "Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question.   Chat History: {chat_history} Follow Up Input: {question} Standalone question:"

	DefaultRagSystemPrompt = "You are a helpful AI assistant. Use the following pieces of context to answer the question at the end. If you don't know the answer, just say you don't know. DO NOT try to make up an answer. If the question is not related to the context, politely respond that you are tuned to only answer questions that are related to the context.  {context}  Question: {question} Helpful answer:"

	DefaultWebSearchPrompt = "You are a helpful assistant that can answer any questions. You can use the following search results in case you want to answer questions about anything in real-time. The current date and time are {current_date_time}.  \n\nSearch results: \n\n{search_results}"

	DefaultTitleGenPrompt = `Here is the query:

--------------

{{query}}

--------------

Create a concise, 3-5 word phrase as a title for the previous query. Avoid quotation marks or special formatting. RESPOND ONLY WITH THE TITLE TEXT. ANSWER USING THE SAME LANGUAGE AS THE QUERY.


Examples of titles:

Stellar Achievement Celebration
Family Bonding Activities
🇫🇷 Voyage à Paris
🍜 Receta de Ramen Casero
Shakespeare Analyse Literarische
日本の春祭り体験
Древнегреческая Философия Обзор

Response:`
)

// Copilot presets. Each template carries a {text} placeholder.
const (
	DefaultSummaryPrompt = "Provide a concise summary of the following text, capturing its main ideas and key points:\n\nText:\n---------\n{text}\n---------\n\nSummarize the text in no more than 3-4 sentences.\n\nResponse:"

	DefaultRephrasePrompt = "Rewrite the following text in a different way, maintaining its original meaning but using alternative vocabulary and sentence structures:\n\nText:\n---------\n{text}\n---------\n\nEnsure that your rephrased version conveys the same information and intent as the original.\n\nResponse:"

	DefaultTranslatePrompt = "Translate the following text from its original language into \"english\". Maintain the tone and style of the original text as much as possible:\n\nText:\n---------\n{text}\n---------\n\nResponse:"

	DefaultExplainPrompt = "Provide a detailed explanation of the following text, breaking down its key concepts, implications, and context:\n\nText:\n---------\n{text}\n---------\n\nYour explanation should:\n\nClarify any complex terms or ideas\nProvide relevant background information\nDiscuss the significance or implications of the content\nAddress any potential questions a reader might have\nUse examples or analogies to illustrate points when appropriate\n\nAim for a comprehensive explanation that would help someone with little prior knowledge fully understand the text.\n\nResponse:"

	DefaultCustomPrompt = "{text}"
)

var (
	CopilotSummaryPrompt   = Key[string]{Name: "copilotSummaryPrompt", Default: DefaultSummaryPrompt}
	CopilotRephrasePrompt  = Key[string]{Name: "copilotRephrasePrompt", Default: DefaultRephrasePrompt}
	CopilotTranslatePrompt = Key[string]{Name: "copilotTranslatePrompt", Default: DefaultTranslatePrompt}
	CopilotExplainPrompt   = Key[string]{Name: "copilotExplainPrompt", Default: DefaultExplainPrompt}
	CopilotCustomPrompt    = Key[string]{Name: "copilotCustomPrompt", Default: DefaultCustomPrompt}
)

// copilotKeys maps a preset message type to its setting.
var copilotKeys = map[string]Key[string]{
	"summary":   CopilotSummaryPrompt,
	"rephrase":  CopilotRephrasePrompt,
	"translate": CopilotTranslatePrompt,
	"explain":   CopilotExplainPrompt,
	"custom":    CopilotCustomPrompt,
}

// getString reads a string setting, treating an empty value as unset.
func getString(ctx context.Context, repo Repository, key Key[string], fallback string) (string, error) {
	v, err := Get(ctx, repo, key)
	if err != nil {
		return fallback, err
	}
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return v, nil
}

// PromptForRag returns the RAG system prompt and the standalone-question prompt.
func PromptForRag(ctx context.Context, repo Repository) (ragPrompt, questionPrompt string, err error) {
	ragPrompt, err = getString(ctx, repo, RagPrompt, DefaultRagSystemPrompt)
	if err != nil {
		return ragPrompt, DefaultRagQuestionPrompt, err
	}
	questionPrompt, err = getString(ctx, repo, RagQuestionPrompt, DefaultRagQuestionPrompt)
	return ragPrompt, questionPrompt, err
}

// WebSearchPrompts returns the search prompt and the follow-up question prompt.
func WebSearchPrompts(ctx context.Context, repo Repository) (searchPrompt, followUpPrompt string, err error) {
	searchPrompt, err = getString(ctx, repo, WebSearchPrompt, DefaultWebSearchPrompt)
	if err != nil {
		return searchPrompt, DefaultRagQuestionPrompt, err
	}
	followUpPrompt, err = getString(ctx, repo, WebSearchFollowUpPrompt, DefaultRagQuestionPrompt)
	return searchPrompt, followUpPrompt, err
}

// CopilotPrompt returns the template of a copilot preset. Unknown presets
// yield "".
func CopilotPrompt(ctx context.Context, repo Repository, key string) (string, error) {
	k, ok := copilotKeys[key]
	if !ok {
		return "", nil
	}
	return getString(ctx, repo, k, k.Default)
}

// CopilotPresets lists the preset names CopilotPrompt accepts.
func CopilotPresets() []string {
	return []string{"summary", "rephrase", "translate", "explain", "custom"}
}
