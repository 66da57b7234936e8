// relay - side-by-side multi-model chat for an LLM gateway.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/jeranaias/relay-tui/internal/cli"
	"github.com/jeranaias/relay-tui/internal/config"
	"github.com/jeranaias/relay-tui/internal/gateway"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/nav"
	"github.com/jeranaias/relay-tui/internal/reconcile"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/stream"
	"github.com/jeranaias/relay-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// lastConversationKey remembers the conversation to reopen on the next
// start.
const lastConversationKey = "relay:lastconv"

func main() {
	var (
		conversationID = flag.String("conversation", "", "conversation id to open (default: last used)")
		askMode        = flag.Bool("ask", false, "line-oriented mode instead of the full-screen UI")
		showVersion    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("relay %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*conversationID, *askMode); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run(conversationID string, askMode bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kv, err := storage.OpenKV(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer kv.Close()

	if conversationID == "" {
		conversationID, _ = kv.Get(lastConversationKey)
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if err := kv.Set(lastConversationKey, conversationID); err != nil {
		log.Printf("persist conversation id: %v", err)
	}

	client := gateway.NewClient(cfg.Gateway.APIKey).
		WithBaseURL(cfg.Gateway.URL).
		WithMaxRetries(cfg.Gateway.MaxRetries).
		WithRateLimit(cfg.Gateway.RequestsPerSecond, 2*int(cfg.Gateway.RequestsPerSecond))

	store := model.NewStore(conversationID)

	navigator, err := nav.Load(kv, conversationID)
	if err != nil {
		return fmt.Errorf("load navigation state: %w", err)
	}

	manager := stream.NewManager(stream.Config{
		Transport: client,
		API:       client,
		Store:     store,
		Pinner:    navigator,
		Preflight: client.Preflight,
	})

	engine := reconcile.NewEngine(client, manager, store).WithCache(kv)
	if slots := cfg.Slots(); len(slots) > 1 {
		// More than one configured model is an explicit fan-out choice;
		// a single model lets reconciliation derive the selection from
		// history.
		engine.SetSelection(slots)
	}

	// Config edits take effect on the next start. The watcher only flags
	// them so long-running sessions know a restart is pending.
	if path, err := config.ConfigPath(); err == nil {
		watcher, werr := config.NewWatcher(path, func(*config.Config) {
			log.Printf("config changed on disk, restart to apply")
		})
		if werr == nil {
			if werr = watcher.Watch(); werr != nil {
				log.Printf("config watch: %v", werr)
			}
			defer watcher.Close()
		}
	}

	if askMode || !term.IsTerminal(int(os.Stdout.Fd())) {
		session := cli.NewSession(cfg, store, manager, navigator, engine)
		return session.Run(context.Background())
	}

	ui := chat.New(chat.Deps{
		Config:      cfg,
		Store:       store,
		Manager:     manager,
		Navigator:   navigator,
		Engine:      engine,
		Fingerprint: client.KeyFingerprint(),
	})
	program := tea.NewProgram(ui, tea.WithAltScreen())
	_, err = program.Run()
	return err
}
