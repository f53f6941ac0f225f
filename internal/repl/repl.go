// Package repl is the terminal front-end of AlienChat.
//
// It reads lines with editing and history, dispatches slash commands, and hands any other
// input to the flow engine. Bot messages are printed as they are appended to the chat
// store, rendered as Markdown.
package repl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/BTreeMap/AlienChat/internal/store"
	"github.com/atotto/clipboard"
)

// Opts holds configuration options for the REPL.
type Opts struct {
	Out       io.Writer
	Reader    LineReader
	Clipboard func(string) error
	Style     string // glamour style; empty follows the theme preference
}

// Option defines a configuration option for the REPL.
type Option func(*Opts)

// WithOutput sets where the transcript is written.
func WithOutput(w io.Writer) Option {
	return func(o *Opts) { o.Out = w }
}

// WithReader sets the line source.
func WithReader(r LineReader) Option {
	return func(o *Opts) { o.Reader = r }
}

// WithClipboard replaces the system clipboard used by /share.
func WithClipboard(fn func(string) error) Option {
	return func(o *Opts) { o.Clipboard = fn }
}

// WithStyle pins the Markdown style instead of following the theme.
func WithStyle(style string) Option {
	return func(o *Opts) { o.Style = style }
}

// REPL is an interactive chat session for one user.
type REPL struct {
	engine *flow.Engine
	chats  *store.ChatStore
	kv     store.KV
	uid    string
	out    io.Writer
	in     LineReader
	copy   func(string) error
	fixed  bool
	theme  models.Theme
	render *renderer
	listed []string // conversation ids in the order last shown by /list
	quit   bool
}

// New creates a REPL over the user's chat store and engine. kv holds the theme preference.
func New(ctx context.Context, engine *flow.Engine, chats *store.ChatStore, kv store.KV, opts ...Option) (*REPL, error) {
	cfg := Opts{Out: os.Stdout, Clipboard: clipboard.WriteAll}
	for _, opt := range opts {
		opt(&cfg)
	}

	uid := chats.Owner().UID
	theme, err := store.LoadTheme(ctx, kv, uid)
	if err != nil {
		slog.Warn("REPL.New: theme not loaded, using default", "error", err)
	}
	style := cfg.Style
	if style == "" {
		style = styleForTheme(theme)
	}
	rnd, err := newRenderer(style)
	if err != nil {
		return nil, err
	}

	r := &REPL{
		engine: engine,
		chats:  chats,
		kv:     kv,
		uid:    uid,
		out:    cfg.Out,
		in:     cfg.Reader,
		copy:   cfg.Clipboard,
		fixed:  cfg.Style != "",
		theme:  theme,
		render: rnd,
	}
	chats.OnAppend(r.onAppend)
	return r, nil
}

// onAppend prints bot messages of the active conversation as they land.
// User messages are already on screen.
func (r *REPL) onAppend(conversationID string, msg models.Message) {
	if msg.Sender != models.SenderBot {
		return
	}
	if active, ok := r.chats.ActiveConversation(); ok && active.ID != conversationID {
		fmt.Fprintln(r.out, infoStyle.Render("(reply added to another conversation)"))
		return
	}
	fmt.Fprint(r.out, r.render.message(msg))
}

// Run reads and handles lines until /quit, end of input or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	if r.in == nil {
		return fmt.Errorf("repl: no line reader configured")
	}
	r.printf("%s\n", headerStyle.Render("AlienChat"))
	r.printf("%s\n\n", infoStyle.Render("Type a message, or /help for commands."))
	if active, ok := r.chats.ActiveConversation(); ok {
		fmt.Fprint(r.out, r.render.transcript(active))
	}

	for !r.quit {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := r.in.Prompt(r.prompt())
		if err != nil {
			if isEndOfInput(err) {
				r.printf("\n")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if err := r.Handle(ctx, line); err != nil {
			r.printf("%s %v\n", errorStyle.Render("Error:"), err)
		}
	}
	return nil
}

// prompt shows the pending question number while a flow is in progress.
func (r *REPL) prompt() string {
	if snap := r.engine.Snapshot(); snap.Mode == "flow" {
		return promptStyle.Render(fmt.Sprintf("[%d/%d] > ", snap.Step, snap.Total))
	}
	return promptStyle.Render("> ")
}

// Quit reports whether /quit was handled.
func (r *REPL) Quit() bool {
	return r.quit
}

func (r *REPL) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}
