package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/BTreeMap/AlienChat/internal/sidebar"
	"github.com/BTreeMap/AlienChat/internal/store"
)

// Errors reported for malformed commands.
var (
	ErrUnknownCommand = errors.New("unknown command, type /help")
	ErrNoConversation = errors.New("no conversation selected")
	ErrUnknownFlow    = errors.New("unknown flow, type /flows")
	ErrBadIndex       = errors.New("no such conversation, type /list")
)

type command struct {
	name  string
	usage string
	help  string
	run   func(r *REPL, ctx context.Context, arg string) error
}

var commands []command

func init() {
	commands = []command{
		{"help", "/help", "Show this help", (*REPL).cmdHelp},
		{"new", "/new", "Start a new chat", (*REPL).cmdNew},
		{"list", "/list", "List conversations by recency", (*REPL).cmdList},
		{"switch", "/switch <n>", "Open conversation n from /list", (*REPL).cmdSwitch},
		{"flows", "/flows", "List guided flows", (*REPL).cmdFlows},
		{"flow", "/flow <type>", "Start a guided flow", (*REPL).cmdFlow},
		{"rename", "/rename <title>", "Rename the current conversation", (*REPL).cmdRename},
		{"archive", "/archive", "Archive the current conversation", (*REPL).cmdArchive},
		{"delete", "/delete", "Delete the current conversation", (*REPL).cmdDelete},
		{"share", "/share", "Copy the transcript to the clipboard", (*REPL).cmdShare},
		{"theme", "/theme", "Toggle between dark and light", (*REPL).cmdTheme},
		{"quit", "/quit", "Leave the chat", (*REPL).cmdQuit},
	}
}

// parseCommand splits "/name arg..." into its name and trimmed argument.
func parseCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func lookupCommand(name string) (command, bool) {
	if name == "exit" {
		name = "quit"
	}
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// Handle processes one line of input: a slash command, or text for the engine.
func (r *REPL) Handle(ctx context.Context, line string) error {
	name, arg, isCmd := parseCommand(line)
	if !isCmd {
		return r.engine.Send(ctx, line)
	}
	cmd, ok := lookupCommand(name)
	if !ok {
		return fmt.Errorf("/%s: %w", name, ErrUnknownCommand)
	}
	return cmd.run(r, ctx, arg)
}

func (r *REPL) cmdHelp(_ context.Context, _ string) error {
	r.printf("%s\n", headerStyle.Render("Commands"))
	for _, c := range commands {
		r.printf("  %-18s %s\n", c.usage, infoStyle.Render(c.help))
	}
	return nil
}

func (r *REPL) cmdNew(ctx context.Context, _ string) error {
	conv, err := r.chats.CreateConversation(ctx)
	if err != nil {
		return err
	}
	if err := r.engine.SwitchConversation(ctx, conv.ID); err != nil {
		return err
	}
	r.printf("%s\n", infoStyle.Render("Started a new chat."))
	return nil
}

func (r *REPL) cmdList(_ context.Context, _ string) error {
	groups := sidebar.GroupConversations(r.chats.List(), time.Now())
	if len(groups) == 0 {
		r.listed = nil
		r.printf("%s\n", infoStyle.Render("No conversations yet."))
		return nil
	}
	activeID := ""
	if active, ok := r.chats.ActiveConversation(); ok {
		activeID = active.ID
	}

	r.listed = r.listed[:0]
	for _, g := range groups {
		r.printf("%s %s\n", headerStyle.Render(g.Label), infoStyle.Render("("+strconv.Itoa(g.Count)+")"))
		for _, c := range g.Conversations {
			r.listed = append(r.listed, c.ID)
			marker := " "
			title := c.Title
			if c.ID == activeID {
				marker = "*"
				title = activeStyle.Render(title)
			}
			r.printf("%s %2d. %s %s\n", marker, len(r.listed), title, infoStyle.Render(sidebar.FormatTime(c.ActivityTime())))
		}
	}
	return nil
}

func (r *REPL) cmdSwitch(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("usage: /switch <n>")
	}
	if r.listed == nil {
		// Number against the sidebar order when /list has not run yet.
		for _, g := range sidebar.GroupConversations(r.chats.List(), time.Now()) {
			for _, c := range g.Conversations {
				r.listed = append(r.listed, c.ID)
			}
		}
	}
	if n < 1 || n > len(r.listed) {
		return ErrBadIndex
	}
	id := r.listed[n-1]
	if err := r.engine.SwitchConversation(ctx, id); err != nil {
		return err
	}
	conv, err := r.chats.Get(id)
	if err != nil {
		return err
	}
	r.printf("%s", r.render.transcript(conv))
	return nil
}

func (r *REPL) cmdFlows(_ context.Context, _ string) error {
	r.printf("%s\n", headerStyle.Render("Guided flows"))
	for _, d := range r.engine.Registry().List() {
		r.printf("  %-20s %s %s\n", string(d.ID), d.Title, infoStyle.Render(fmt.Sprintf("(%d questions)", d.Total())))
	}
	return nil
}

func (r *REPL) cmdFlow(ctx context.Context, arg string) error {
	t := models.FlowType(arg)
	if _, ok := r.engine.Registry().Get(t); !ok {
		return fmt.Errorf("%q: %w", arg, ErrUnknownFlow)
	}
	return r.engine.StartFlow(ctx, t)
}

func (r *REPL) cmdRename(ctx context.Context, arg string) error {
	active, ok := r.chats.ActiveConversation()
	if !ok {
		return ErrNoConversation
	}
	if err := r.chats.Rename(ctx, active.ID, arg); err != nil {
		return err
	}
	r.printf("%s\n", infoStyle.Render("Renamed."))
	return nil
}

func (r *REPL) cmdArchive(ctx context.Context, _ string) error {
	active, ok := r.chats.ActiveConversation()
	if !ok {
		return ErrNoConversation
	}
	if err := r.chats.Archive(ctx, active.ID); err != nil {
		return err
	}
	r.engine.Reset()
	r.listed = nil
	r.printf("%s\n", infoStyle.Render("Archived \""+active.Title+"\"."))
	return nil
}

func (r *REPL) cmdDelete(ctx context.Context, _ string) error {
	active, ok := r.chats.ActiveConversation()
	if !ok {
		return ErrNoConversation
	}
	if err := r.chats.Delete(ctx, active.ID); err != nil {
		return err
	}
	r.engine.Reset()
	r.listed = nil
	r.printf("%s\n", infoStyle.Render("Deleted \""+active.Title+"\"."))
	return nil
}

func (r *REPL) cmdShare(_ context.Context, _ string) error {
	active, ok := r.chats.ActiveConversation()
	if !ok {
		return ErrNoConversation
	}
	text := store.FormatShareText(active)
	if err := r.copy(text); err != nil {
		r.printf("%s\n%s\n", infoStyle.Render("Clipboard unavailable, transcript follows:"), text)
		return nil
	}
	r.printf("%s\n", infoStyle.Render("Transcript copied to the clipboard."))
	return nil
}

func (r *REPL) cmdTheme(ctx context.Context, _ string) error {
	next := r.theme.Toggle()
	if err := store.SaveTheme(ctx, r.kv, r.uid, next); err != nil {
		return err
	}
	r.theme = next
	if !r.fixed {
		rnd, err := newRenderer(styleForTheme(next))
		if err != nil {
			return err
		}
		r.render = rnd
	}
	r.printf("%s\n", infoStyle.Render("Theme: "+string(next)))
	return nil
}

func (r *REPL) cmdQuit(_ context.Context, _ string) error {
	r.quit = true
	return nil
}
