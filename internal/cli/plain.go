// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ui/components"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// errAborted is returned by a lineReader when the user presses ctrl+c at
// the prompt.
var errAborted = errors.New("input aborted")

// lineReader reads one line of input. io.EOF ends the session.
type lineReader interface {
	ReadLine(prompt string) (string, error)
}

// scanReader reads lines from a non-terminal input.
type scanReader struct {
	sc *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &scanReader{sc: sc}
}

func (r *scanReader) ReadLine(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// newMarkdownRenderer renders finished answers for a terminal of the given
// width.
func newMarkdownRenderer(theme string, width int) func(string) string {
	md := components.NewMarkdown(styles.NewTheme(theme).MarkdownStyle(), ColorProfile())
	return func(s string) string { return md.Render(s, width) }
}

// =============================================================================
// PLAIN CHAT
// =============================================================================

// plainChat is the line-oriented chat loop.
type plainChat struct {
	session *client.Session
	out     io.Writer

	// markdown renders finished answers. When nil, answers stream to out
	// as they arrive.
	markdown func(string) string

	// interrupt derives the context of one turn; ctrl+c stops the turn
	// instead of the process.
	interrupt func(context.Context) (context.Context, context.CancelFunc)

	printer *streamPrinter
}

func newPlainChat(session *client.Session, out io.Writer) *plainChat {
	return &plainChat{
		session: session,
		out:     out,
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run reads lines from in until EOF, ctrl+c at the prompt, /quit, or ctx
// is done.
func (p *plainChat) Run(ctx context.Context, in lineReader) error {
	p.printer = &streamPrinter{out: p.out, streamText: p.markdown == nil}
	unsubscribe := p.session.View().Subscribe(p.printer.update)
	defer unsubscribe()

	p.hydrate(ctx)
	fmt.Fprintln(p.out, DimStyle.Render("chat "+p.session.ChatID()+" - /help for commands, ctrl+d to quit"))

	for ctx.Err() == nil {
		line, err := in.ReadLine("> ")
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, errAborted):
			fmt.Fprintln(p.out)
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := p.command(ctx, line); quit {
				return nil
			}
			continue
		}
		p.turn(ctx, func(ctx context.Context) error {
			return p.session.Send(ctx, line)
		})
	}
	return nil
}

func (p *plainChat) hydrate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ok, err := p.session.Hydrate(ctx)
	if err != nil {
		fmt.Fprintln(p.out, WarningStyle.Render("[!] could not load history: "+client.Describe(err)))
		return
	}
	if ok {
		p.printHistory()
	}
}

// turn runs one Send, Edit or Retry and prints how it ended. An interrupt
// while it runs stops the turn.
func (p *plainChat) turn(ctx context.Context, run func(context.Context) error) {
	tctx, cancel := p.interrupt(ctx)
	defer cancel()

	var stopped atomic.Bool
	done := make(chan struct{})
	go func() {
		select {
		case <-tctx.Done():
			if ctx.Err() == nil {
				stopped.Store(true)
				p.session.Stop()
			}
		case <-done:
		}
	}()

	p.printer.begin()
	err := run(ctx)
	close(done)
	p.finish(err, stopped.Load())
}

func (p *plainChat) finish(err error, stopped bool) {
	midLine := p.printer.end()
	if midLine {
		fmt.Fprintln(p.out)
	}
	if stopped {
		fmt.Fprintln(p.out, DimStyle.Render("[stopped]"))
		return
	}

	snap := p.session.View().Snapshot()
	var last model.Message
	if n := len(snap.Messages); n > 0 {
		last = snap.Messages[n-1]
	}
	switch {
	case last.Role == model.RoleAssistant && last.IsErrorPlaceholder():
		p.printError(last)
	case err != nil:
		fmt.Fprintln(p.out, ErrorStyle.Render("[X] "+client.Describe(err)))
	case last.Role == model.RoleAssistant:
		if d, ok := snap.ReasoningDurations[last.ID]; ok {
			fmt.Fprintln(p.out, DimStyle.Render("thought for "+components.FormatSeconds(d)))
		}
		if p.markdown != nil {
			fmt.Fprintln(p.out, p.markdown(last.Text()))
		}
	}
}

func (p *plainChat) printError(msg model.Message) {
	line := "[X] " + msg.Text()
	if msg.Metadata.ErrorCode != "" {
		line += " (" + msg.Metadata.ErrorCode + ")"
	}
	fmt.Fprintln(p.out, ErrorStyle.Render(line))
	if msg.Metadata.Retryable {
		fmt.Fprintln(p.out, DimStyle.Render("/retry to try again"))
	}
}

func (p *plainChat) printHistory() {
	for _, msg := range p.session.View().Messages() {
		switch {
		case msg.Role == model.RoleUser:
			fmt.Fprintln(p.out, TitleStyle.Render("you: ")+msg.Text())
		case msg.IsErrorPlaceholder():
			p.printError(msg)
		default:
			for _, part := range msg.Parts {
				if line, ok := toolLine(part); ok {
					fmt.Fprintln(p.out, DimStyle.Render(line))
				}
			}
			text := msg.Text()
			if p.markdown != nil {
				text = p.markdown(text)
			}
			fmt.Fprintln(p.out, text)
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const plainHelp = `/retry            regenerate the last reply
/edit <text>      replace your last message and resend
/model [name]     show or set the model
/reasoning [lvl]  show or set reasoning: low, medium, high, off
/tools [on|off]   show or toggle tool use
/history          print the conversation
/chat             show the chat id
/quit             leave`

// command runs a slash command and reports whether to quit.
func (p *plainChat) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit", "q":
		return true
	case "help":
		fmt.Fprintln(p.out, plainHelp)
	case "chat":
		fmt.Fprintln(p.out, "chat "+p.session.ChatID())
	case "history":
		p.printHistory()
	case "model":
		if arg != "" {
			p.session.SetModel(arg)
		}
		m := p.session.Model()
		if m == "" {
			m = "server default"
		}
		fmt.Fprintln(p.out, "model: "+m)
	case "reasoning":
		if arg != "" {
			level := arg
			if level == "off" || level == "default" {
				level = ""
			}
			if err := p.session.SetReasoningLevel(level); err != nil {
				fmt.Fprintln(p.out, ErrorStyle.Render("[X] "+err.Error()))
				return false
			}
		}
		level := p.session.ReasoningLevel()
		if level == "" {
			level = "model default"
		}
		fmt.Fprintln(p.out, "reasoning: "+level)
	case "tools":
		switch arg {
		case "on":
			p.session.SetTools(true)
		case "off":
			p.session.SetTools(false)
		case "":
		default:
			fmt.Fprintln(p.out, ErrorStyle.Render("[X] usage: /tools on|off"))
			return false
		}
		state := "off"
		if p.session.Tools() {
			state = "on"
		}
		fmt.Fprintln(p.out, "tools: "+state)
	case "retry":
		msgs := p.session.View().Messages()
		if len(msgs) == 0 {
			fmt.Fprintln(p.out, DimStyle.Render("nothing to retry"))
			return false
		}
		id := msgs[len(msgs)-1].ID
		p.turn(ctx, func(ctx context.Context) error {
			return p.session.Retry(ctx, id, "")
		})
	case "edit":
		if arg == "" {
			fmt.Fprintln(p.out, ErrorStyle.Render("[X] usage: /edit <new text>"))
			return false
		}
		id := lastUserMessage(p.session.View().Messages())
		if id == "" {
			fmt.Fprintln(p.out, DimStyle.Render("no message to edit"))
			return false
		}
		p.turn(ctx, func(ctx context.Context) error {
			return p.session.Edit(ctx, id, arg)
		})
	default:
		fmt.Fprintln(p.out, ErrorStyle.Render("[X] unknown command /"+name+" (try /help)"))
	}
	return false
}

func lastUserMessage(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].ID
		}
	}
	return ""
}

func toolLine(part model.Part) (string, bool) {
	switch part.Type {
	case model.PartToolCall:
		return components.ToolCallLine(part), true
	case model.PartToolResult:
		name := part.ToolName
		if name == "" {
			name = "tool"
		}
		if part.Error != "" {
			return styles.StatusIndicators.Error + " " + name + ": " + part.Error, true
		}
		return styles.StatusIndicators.Success + " " + name, true
	}
	return "", false
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the streaming message to out as display snapshots
// arrive: a thinking marker, one line per tool event and, when streamText
// is set, the answer text as it grows.
type streamPrinter struct {
	out        io.Writer
	streamText bool

	mu       sync.Mutex
	id       string
	thinking bool
	parts    int
	printed  string
	midLine  bool
}

// begin resets the printer for a new turn.
func (sp *streamPrinter) begin() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.reset("")
}

// end reports whether the cursor was left mid-line.
func (sp *streamPrinter) end() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	mid := sp.midLine
	sp.midLine = false
	return mid
}

func (sp *streamPrinter) reset(id string) {
	sp.id = id
	sp.thinking = false
	sp.parts = 0
	sp.printed = ""
}

func (sp *streamPrinter) update(snap display.Snapshot) {
	if snap.StreamingMessageID == "" {
		return
	}
	var msg model.Message
	found := false
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if snap.Messages[i].ID == snap.StreamingMessageID {
			msg, found = snap.Messages[i], true
			break
		}
	}
	if !found {
		return
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if msg.ID != sp.id {
		sp.reset(msg.ID)
	}
	if snap.StreamPhase == display.PhaseReasoning && !sp.thinking {
		sp.thinking = true
		sp.line(DimStyle.Render("thinking..."))
	}
	for ; sp.parts < len(msg.Parts); sp.parts++ {
		if line, ok := toolLine(msg.Parts[sp.parts]); ok {
			sp.line(DimStyle.Render(line))
		}
	}
	if !sp.streamText {
		return
	}
	text := msg.Text()
	if len(text) > len(sp.printed) && strings.HasPrefix(text, sp.printed) {
		delta := text[len(sp.printed):]
		fmt.Fprint(sp.out, delta)
		sp.printed = text
		sp.midLine = !strings.HasSuffix(delta, "\n")
	}
}

// line prints s on a line of its own.
func (sp *streamPrinter) line(s string) {
	if sp.midLine {
		fmt.Fprintln(sp.out)
		sp.midLine = false
	}
	fmt.Fprintln(sp.out, s)
}
