package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/interfaces"
	"ollama-chat/internal/model"
	"ollama-chat/internal/service"
)

type replStyles struct {
	prompt    lipgloss.Style
	assistant lipgloss.Style
	info      lipgloss.Style
	warning   lipgloss.Style
}

func newReplStyles(out io.Writer) replStyles {
	r := lipgloss.NewRenderer(out)
	return replStyles{
		prompt:    r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		assistant: r.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		info:      r.NewStyle().Foreground(lipgloss.Color("8")),
		warning:   r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

// REPL is a terminal front end for the chat session engine.
type REPL struct {
	chat    interfaces.ChatEngine
	history interfaces.HistoryReader
	status  interfaces.StatusMonitor
	in      io.Reader
	out     io.Writer
	styles  replStyles
}

func NewREPL(chat interfaces.ChatEngine, history interfaces.HistoryReader, status interfaces.StatusMonitor, in io.Reader, out io.Writer) *REPL {
	return &REPL{chat: chat, history: history, status: status, in: in, out: out, styles: newReplStyles(out)}
}

// Run reads lines until EOF, /quit, ctx cancellation or an interrupt at the
// prompt. An interrupt while a reply is streaming cancels that reply.
func (r *REPL) Run(ctx context.Context, interrupts <-chan os.Signal) error {
	events, stop := r.chat.Subscribe()
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r.printConversation(r.chat.Snapshot().Conversation)
	r.println(r.styles.info.Render("Type /help for commands. Ctrl+C cancels a reply, /quit exits."))

	for {
		fmt.Fprint(r.out, r.styles.prompt.Render("> "))

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			r.println("")
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		if strings.HasPrefix(strings.TrimSpace(line), "/") {
			quit, err := r.command(ctx, strings.Fields(line))
			if err != nil {
				r.println(r.styles.warning.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		streamID, err := r.chat.Send(line)
		switch {
		case errors.Is(err, app_errors.ErrEmptyMessage):
			continue
		case errors.Is(err, app_errors.ErrAlreadyGenerating):
			r.println(r.styles.warning.Render("A reply is already being generated."))
			continue
		case err != nil:
			r.println(r.styles.warning.Render(err.Error()))
			continue
		}

		if err := r.awaitReply(ctx, streamID, events, interrupts); err != nil {
			return err
		}
	}
}

// awaitReply prints the reply for streamID as it arrives and returns once the
// engine is idle again. Draft updates may arrive folded together, so it
// prints whatever part of the draft has not been shown yet.
func (r *REPL) awaitReply(ctx context.Context, streamID uuid.UUID, events <-chan service.ChatEvent, interrupts <-chan os.Signal) error {
	fmt.Fprint(r.out, r.styles.assistant.Render("assistant: "))
	shown, cancelled := "", false

	for {
		select {
		case <-ctx.Done():
			r.chat.Cancel()
			r.println("")
			return nil
		case <-interrupts:
			if cancelled {
				continue
			}
			if r.chat.Cancel() {
				cancelled = true
				r.println(r.styles.warning.Render(" [cancelled]"))
				continue
			}
			if r.chat.Snapshot().State == service.StateIdle {
				r.println("")
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				return errors.New("chat engine stopped")
			}
			switch {
			case ev.Kind == service.EventDraftUpdated && ev.StreamID == streamID && !cancelled:
				shown = r.printRest(shown, ev.Draft)
			case ev.Kind == service.EventMessageAppended && ev.StreamID == streamID && !cancelled:
				// One-shot replies and error turns arrive without a draft.
				if !strings.HasPrefix(ev.Message.Content, shown) {
					shown = ""
				}
				shown = r.printRest(shown, ev.Message.Content)
			case ev.Kind == service.EventStateChanged && ev.State == service.StateIdle:
				if !cancelled {
					r.println("")
				}
				return nil
			}
		}
	}
}

// printRest writes the part of full that follows shown and returns full.
func (r *REPL) printRest(shown, full string) string {
	if strings.HasPrefix(full, shown) {
		fmt.Fprint(r.out, full[len(shown):])
		return full
	}
	return shown
}

func (r *REPL) command(ctx context.Context, args []string) (quit bool, err error) {
	switch args[0] {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/h":
		r.println(r.styles.info.Render(strings.Join([]string{
			"/new            start a new conversation",
			"/history        list saved conversations",
			"/load <n|id>    open a saved conversation",
			"/status         show the Ollama server status",
			"/quit           exit",
		}, "\n")))
	case "/new":
		if err := r.chat.NewConversation(); err != nil {
			return false, err
		}
		r.printConversation(r.chat.Snapshot().Conversation)
	case "/history":
		r.printHistory(r.history.LoadAll(ctx))
	case "/load":
		if len(args) < 2 {
			return false, errors.New("usage: /load <n|id>")
		}
		id, err := r.resolveConversation(ctx, args[1])
		if err != nil {
			return false, err
		}
		if err := r.chat.LoadConversation(ctx, id); err != nil {
			return false, err
		}
		r.printConversation(r.chat.Snapshot().Conversation)
	case "/status":
		r.printStatus(r.status.CheckStatus(ctx))
	default:
		return false, fmt.Errorf("unknown command %s, try /help", args[0])
	}
	return false, nil
}

// resolveConversation accepts a 1-based position from /history or a full ID.
func (r *REPL) resolveConversation(ctx context.Context, arg string) (uuid.UUID, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		saved := r.history.LoadAll(ctx)
		if n < 1 || n > len(saved) {
			return uuid.Nil, fmt.Errorf("no saved conversation #%d", n)
		}
		return saved[n-1].ID, nil
	}
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is neither a number nor a conversation ID", arg)
	}
	return id, nil
}

func (r *REPL) printConversation(conv model.Conversation) {
	for _, m := range conv.Messages {
		if m.Role == model.RoleUser {
			r.println(r.styles.prompt.Render("you: ") + m.Content)
		} else {
			r.println(r.styles.assistant.Render("assistant: ") + m.Content)
		}
	}
}

func (r *REPL) printHistory(saved []model.Conversation) {
	if len(saved) == 0 {
		r.println(r.styles.info.Render("No saved conversations."))
		return
	}
	writeHistory(r.out, saved)
}

func (r *REPL) printStatus(st model.ServerStatus) {
	if !st.Reachable {
		r.println(r.styles.warning.Render(st.StatusText))
		return
	}
	writeStatus(r.out, st)
}

func (r *REPL) println(s string) {
	fmt.Fprintln(r.out, s)
}

func writeHistory(w io.Writer, saved []model.Conversation) {
	for i, c := range saved {
		fmt.Fprintf(w, "%2d. %s (%d messages, %s)\n", i+1, c.Title, len(c.Messages), c.LastModified.Local().Format("2006-01-02 15:04"))
	}
}

func writeStatus(w io.Writer, st model.ServerStatus) {
	fmt.Fprintln(w, st.StatusText)
	if st.Version != "" {
		fmt.Fprintf(w, "Version: %s\n", st.Version)
	}
	fmt.Fprintf(w, "Models: %d\n", len(st.Models))
	for _, m := range st.Models {
		fmt.Fprintf(w, "  - %s\n", m)
	}
}
