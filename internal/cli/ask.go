// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/relay-tui/internal/config"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/nav"
	"github.com/jeranaias/relay-tui/internal/reconcile"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/stream"
	"github.com/jeranaias/relay-tui/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	modelLabelStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Italic(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

const historyFileName = "ask_history"

// lineReader wraps liner with persistent history in the config directory.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}

	r := &lineReader{
		line:        line,
		historyFile: filepath.Join(dir, historyFileName),
	}
	r.loadHistory()
	return r
}

func (r *lineReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

func (r *lineReader) read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *lineReader) close() {
	// History may hold prompts the user considers private. 0600 like the
	// config file.
	if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
	r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one interactive ask loop over a conversation.
type Session struct {
	cfg       *config.Config
	store     *model.Store
	manager   *stream.Manager
	navigator *nav.Navigator
	engine    *reconcile.Engine

	selection []model.Slot
	out       io.Writer
	reader    *lineReader
}

// NewSession creates an interactive session. The selection starts from the
// configured models and follows the reconciliation engine's derivation
// after each sync.
func NewSession(cfg *config.Config, store *model.Store, mgr *stream.Manager, navigator *nav.Navigator, engine *reconcile.Engine) *Session {
	return &Session{
		cfg:       cfg,
		store:     store,
		manager:   mgr,
		navigator: navigator,
		engine:    engine,
		selection: cfg.Slots(),
		out:       os.Stdout,
	}
}

// Run drives the read-eval-print loop until the user quits or input ends.
func (s *Session) Run(ctx context.Context) error {
	s.reader = newLineReader()
	defer s.reader.close()

	s.engine.Prime(s.store.ConversationID())
	if err := s.sync(ctx, false); err != nil {
		fmt.Fprintln(s.out, warningStyle.Render("sync failed: "+err.Error()))
	}

	s.printBanner()

	for {
		input, err := s.reader.read(promptStyle.Render("> "))
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil { // io.EOF on Ctrl+D
			fmt.Fprintln(s.out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := s.handleCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		if err := s.ask(ctx, input); err != nil {
			fmt.Fprintln(s.out, warningStyle.Render("error: "+err.Error()))
		}
	}
}

func (s *Session) printBanner() {
	labels := make([]string, len(s.selection))
	for i, slot := range s.selection {
		labels[i] = slot.Label()
	}
	fmt.Fprintln(s.out, infoStyle.Render(fmt.Sprintf(
		"relay: %s. /help for commands, Ctrl+D to exit.",
		strings.Join(labels, ", "))))
}

// =============================================================================
// COMMANDS
// =============================================================================

// handleCommand runs a slash command. Returns true when the loop should
// exit.
func (s *Session) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h":
		s.printHelp()

	case "/models", "/m":
		for i, slot := range s.selection {
			fmt.Fprintf(s.out, "  [%d] %s\n", i, modelLabelStyle.Render(slot.Label()))
		}

	case "/usage", "/u":
		in, out := s.store.UsageTotals()
		fmt.Fprintln(s.out, infoStyle.Render(fmt.Sprintf("tokens: %d in, %d out", in, out)))

	case "/sync":
		if err := s.sync(ctx, true); err != nil {
			fmt.Fprintln(s.out, warningStyle.Render("sync failed: "+err.Error()))
		} else {
			fmt.Fprintln(s.out, infoStyle.Render(fmt.Sprintf("synced, %d messages", s.store.Len())))
		}

	case "/export":
		format := storage.ExportFormatMarkdown
		if len(args) > 0 && args[0] == "json" {
			format = storage.ExportFormatJSON
		}
		if err := s.export(format); err != nil {
			fmt.Fprintln(s.out, warningStyle.Render("export failed: "+err.Error()))
		}

	case "/retry", "/r":
		idx := 0
		if len(args) > 0 {
			fmt.Sscanf(args[0], "%d", &idx)
		}
		if err := s.retry(ctx, idx); err != nil {
			fmt.Fprintln(s.out, warningStyle.Render("retry failed: "+err.Error()))
		}

	default:
		fmt.Fprintln(s.out, warningStyle.Render("unknown command "+cmd))
	}
	return false
}

func (s *Session) printHelp() {
	help := [][2]string{
		{"/models", "list the selected model slots"},
		{"/retry [n]", "re-stream slot n against the last question"},
		{"/usage", "show cumulative token usage"},
		{"/sync", "force an authoritative reload"},
		{"/export [json]", "write the transcript to the export directory"},
		{"/quit", "exit"},
	}
	for _, h := range help {
		fmt.Fprintf(s.out, "  %-16s %s\n", h[0], infoStyle.Render(h[1]))
	}
}

// =============================================================================
// ASK / RETRY
// =============================================================================

// ask fans the prompt out to every selected slot and prints the answers
// once all sub-sessions converge. A single-slot selection streams its
// answer progressively instead.
func (s *Session) ask(ctx context.Context, prompt string) error {
	session, err := s.manager.StartSession(ctx, s.store.ConversationID(), prompt, s.selection, stream.Options{})
	if err != nil {
		return err
	}

	tailed := len(s.selection) == 1
	if tailed {
		s.tailSingle(ctx, session, s.selection[0])
	} else {
		s.awaitFanout(ctx, session)
	}

	for _, subErr := range session.Errors() {
		fmt.Fprintln(s.out, warningStyle.Render(subErr.Error()))
	}
	if err := s.sync(ctx, false); err != nil {
		fmt.Fprintln(s.out, warningStyle.Render("sync failed: "+err.Error()))
	}
	if !tailed {
		s.printLatestTurn()
	}
	return nil
}

// retry re-streams one slot of the latest question as a new generation.
func (s *Session) retry(ctx context.Context, paneIndex int) error {
	groups := model.GroupByQuestionAndModel(s.store.Messages())
	if len(groups) == 0 {
		return errors.New("nothing to retry")
	}
	if paneIndex < 0 || paneIndex >= len(s.selection) {
		return fmt.Errorf("no slot %d", paneIndex)
	}
	latest := groups[len(groups)-1]
	slot := s.selection[paneIndex]

	opts := stream.Options{
		SkipUserMessage: true,
		ParentMessageID: latest.Question.ID,
		IsRetry:         true,
	}
	// Re-stream an unsaved generation in place rather than adding a new
	// one beside it.
	if gens := latest.FindSlot(slot); gens != nil {
		if current := s.navigator.Current(gens); current != nil && current.IsLocal() {
			opts.PlaceholderID = current.ID
		}
	}
	session, err := s.manager.StartSession(ctx, s.store.ConversationID(), latest.Question.Content, []model.Slot{slot}, opts)
	if err != nil {
		return err
	}
	s.tailSingle(ctx, session, slot)
	for _, subErr := range session.Errors() {
		fmt.Fprintln(s.out, warningStyle.Render(subErr.Error()))
	}
	return nil
}

// tailSingle streams one slot's answer to the terminal as it arrives.
func (s *Session) tailSingle(ctx context.Context, session *stream.Session, slot model.Slot) {
	fmt.Fprintln(s.out, modelLabelStyle.Render(slot.Label()))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	printed := 0
	flush := func() {
		st, ok := session.States()[slot.InstanceIndex]
		if !ok {
			return
		}
		content := st.Content()
		if len(content) > printed {
			fmt.Fprint(s.out, content[printed:])
			printed = len(content)
		}
	}

	for {
		select {
		case <-session.Done():
			flush()
			fmt.Fprintln(s.out)
			return
		case <-ctx.Done():
			s.manager.CancelConversation(s.store.ConversationID())
			<-session.Done()
			fmt.Fprintln(s.out)
			return
		case <-ticker.C:
			flush()
		}
	}
}

// awaitFanout waits for a multi-slot session, showing a coarse progress
// line instead of interleaving concurrent streams.
func (s *Session) awaitFanout(ctx context.Context, session *stream.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	fmt.Fprint(s.out, infoStyle.Render(fmt.Sprintf("streaming %d models", len(s.selection))))
	for {
		select {
		case <-session.Done():
			fmt.Fprintln(s.out)
			return
		case <-ctx.Done():
			s.manager.CancelConversation(s.store.ConversationID())
			<-session.Done()
			fmt.Fprintln(s.out)
			return
		case <-ticker.C:
			fmt.Fprint(s.out, infoStyle.Render("."))
		}
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

// printLatestTurn prints the displayed generation of every slot of the
// most recent question.
func (s *Session) printLatestTurn() {
	groups := model.GroupByQuestionAndModel(s.store.Messages())
	if len(groups) == 0 {
		return
	}
	latest := groups[len(groups)-1]

	for _, gens := range latest.Slots {
		current := s.navigator.Current(gens)
		if current == nil || current.IsStreaming {
			continue
		}
		pos, total := s.navigator.Position(gens)
		label := modelLabelStyle.Render(gens.Key.Slot.Label())
		if total > 1 {
			label += infoStyle.Render(fmt.Sprintf(" (%d/%d)", pos, total))
		}
		fmt.Fprintln(s.out, label)
		if current.Thinking != "" && s.cfg.UI.ShowThinking {
			fmt.Fprintln(s.out, thinkingStyle.Render(current.Thinking))
		}
		fmt.Fprintln(s.out, current.Content)
		fmt.Fprintln(s.out)
	}
}

func (s *Session) sync(ctx context.Context, force bool) error {
	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	slots, err := s.engine.Sync(syncCtx, s.store.ConversationID(), force)
	if err != nil {
		return err
	}
	if len(slots) > 0 {
		s.selection = slots
	}
	return nil
}

func (s *Session) export(format storage.ExportFormat) error {
	ext := "md"
	if format == storage.ExportFormatJSON {
		ext = "json"
	}
	name := fmt.Sprintf("%s-%s.%s", s.store.ConversationID(), time.Now().Format("20060102-150405"), ext)
	path := filepath.Join(s.cfg.Storage.ExportDir, name)

	if err := storage.ExportConversation(path, format, s.store.ConversationID(), s.store.Messages()); err != nil {
		return err
	}
	fmt.Fprintln(s.out, infoStyle.Render("exported to "+path))
	return nil
}
