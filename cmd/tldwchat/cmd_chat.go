package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Desarso/tldwchat/models"
	"github.com/Desarso/tldwchat/providers"
	"github.com/Desarso/tldwchat/sessions"
	"github.com/Desarso/tldwchat/streaming"
)

var (
	chatModel     string
	chatKnowledge string
	chatWeb       bool
	chatFiles     []string
	chatHistory   string
	chatTemporary bool
	chatPreset    string
	chatNoRender  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask one question and stream the answer",
	Long: `Sends one message and streams the answer as it arrives. The finished
answer is rendered as markdown.

Examples:
  tldwchat chat "What changed in Go 1.24?" --web
  tldwchat chat "Summarize the notes" --file notes.md
  tldwchat chat "What do my papers say about RLHF?" --rag kb-123`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.StringVarP(&chatModel, "model", "m", "", "model to use for this chat")
	f.StringVar(&chatKnowledge, "rag", "", "answer from the knowledge base with this id")
	f.BoolVar(&chatWeb, "web", false, "ground the answer in a web search")
	f.StringArrayVarP(&chatFiles, "file", "f", nil, "attach a text file (repeatable)")
	f.StringVar(&chatHistory, "history", "", "continue a stored conversation")
	f.BoolVar(&chatTemporary, "temporary", false, "do not store the conversation")
	f.StringVar(&chatPreset, "preset", "", "copilot preset: summary, rephrase, translate, explain or custom")
	f.BoolVar(&chatNoRender, "raw", false, "skip the final markdown render")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	session := app.Session
	if chatHistory != "" {
		if err := session.Load(ctx, chatHistory); err != nil {
			return err
		}
	}
	if chatModel != "" {
		session.UseModel(chatModel)
	}
	if chatKnowledge != "" {
		session.SetSelectedKnowledge(&providers.Knowledge{ID: chatKnowledge})
	}
	session.SetWebSearch(chatWeb)
	session.SetTemporaryChat(chatTemporary)
	for _, path := range chatFiles {
		file, err := readUpload(path)
		if err != nil {
			return err
		}
		session.AddFiles(file)
	}

	out := cmd.OutOrStdout()
	sink := &terminalSink{out: out}
	detach := session.Attach(sink)
	defer detach()

	err = session.Submit(ctx, sessions.SubmitRequest{
		Message:     strings.Join(args, " "),
		MessageType: chatPreset,
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}

	if !chatNoRender {
		if answer := sink.Text(); answer != "" {
			fmt.Fprintln(out, renderMarkdown(answer))
		}
	}
	if id := session.HistoryID(); id != "" && !chatTemporary {
		fmt.Fprintf(cmd.ErrOrStderr(), "history: %s\n", id)
	}
	return nil
}

// terminalSink prints the bot message as it grows. Text that does not
// extend what was already printed (a cursor, a rewrite) is skipped.
type terminalSink struct {
	out     io.Writer
	mu      sync.Mutex
	botID   string
	printed string
}

func (t *terminalSink) UpdateMessage(id string, update func(*models.Message)) {
	var msg models.Message
	update(&msg)
	if !msg.IsBot {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.botID != id {
		t.botID = id
		t.printed = ""
	}
	text := strings.TrimSuffix(msg.Message, streaming.InlineCursor)
	text = strings.TrimSuffix(text, streaming.Cursor)
	if !strings.HasPrefix(text, t.printed) {
		return
	}
	fmt.Fprint(t.out, text[len(t.printed):])
	t.printed = text
}

// Text returns the printed answer.
func (t *terminalSink) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.printed
}

func readUpload(path string) (models.UploadedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	kind := mime.TypeByExtension(filepath.Ext(path))
	if kind == "" {
		kind = "text/plain"
	}
	return models.UploadedFile{
		ID:         uuid.NewString(),
		Filename:   filepath.Base(path),
		Type:       kind,
		Content:    string(data),
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Processed:  true,
	}, nil
}

var (
	rendererOnce sync.Once
	renderer     *glamour.TermRenderer
)

// renderMarkdown renders text for the terminal, returning it unchanged when
// the renderer is unavailable.
func renderMarkdown(text string) string {
	rendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			renderer = r
		}
	})
	if renderer == nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return rendered
}
