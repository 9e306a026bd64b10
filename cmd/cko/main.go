package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
	"github.com/jayusctrojan/Empire-sub012/internal/chat"
	"github.com/jayusctrojan/Empire-sub012/internal/config"
	"github.com/jayusctrojan/Empire-sub012/internal/export"
	"github.com/jayusctrojan/Empire-sub012/internal/history"
	"github.com/jayusctrojan/Empire-sub012/internal/logging"
	"github.com/jayusctrojan/Empire-sub012/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cko:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}

	log := logging.Setup(cfg.LogLevel, cfg.LogFile)

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("cko is an interactive terminal app; run it in a terminal")
	}

	client := api.New(cfg.ServerURL, cfg.AuthToken, log)

	var archive chat.Archiver
	cache, err := history.Open(cfg.DBPath, cfg.Rebuild)
	if err != nil {
		log.WithError(err).Warn("local cache unavailable, running without it")
		cache = nil
	} else {
		defer cache.Close()
		archive = cache
	}

	ctrl := chat.NewController(client, archive, log)

	exporter, err := export.New(cfg.ExportDir)
	if err != nil {
		return fmt.Errorf("export dir: %w", err)
	}

	m := ui.NewModel(cfg, ctrl, cache, exporter, log)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
