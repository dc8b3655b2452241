package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"pagelink/internal/cache"
	"pagelink/internal/config"
	"pagelink/internal/crypto"
	"pagelink/internal/identity"
	"pagelink/internal/logging"
	"pagelink/internal/session"
	boltstore "pagelink/internal/store/bolt"
	"pagelink/internal/transport"
	"pagelink/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	listen := flag.String("listen", "", "link listen address (overrides config)")
	trust := flag.String("trust", "", "comma-separated hex link keys of trusted companions (overrides config)")
	headless := flag.Bool("headless", false, "run without the terminal UI; inputs are read from stdin, one per line")
	listCacheFlag := flag.Bool("list-cache", false, "print the cached catalog and pages, then exit")
	cachedPage := flag.String("cached-page", "", "print a preview of the cached page ENTRY#N, then exit")
	showKey := flag.Bool("show-key", false, "print this reader's link key, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// CLI flags override config file values
	if *dataDir != "" {
		cfg.Device.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.Link.Listen = *listen
	}
	if *trust != "" {
		cfg.Link.Trusted = strings.Split(*trust, ",")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if *listCacheFlag {
		if err := listCache(cfg.CachePath(), os.Stdout); err != nil {
			log.Fatalf("cache: %v", err)
		}
		return
	}
	if *cachedPage != "" {
		if err := showCachedPage(cfg.CachePath(), *cachedPage, cfg.Display.Width, cfg.Display.Height, os.Stdout); err != nil {
			log.Fatalf("cache: %v", err)
		}
		return
	}

	if err := os.MkdirAll(cfg.DataDir(), 0700); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	id, err := identity.Load(cfg.IdentityDir())
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	key, err := crypto.LinkKey(id)
	if err != nil {
		log.Fatalf("link key: %v", err)
	}
	if *showKey {
		fmt.Println(crypto.FormatLinkKey(key.Public))
		return
	}
	trusted, err := crypto.ParseLinkKeys(cfg.Link.Trusted)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tui := !*headless && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	if tui {
		// The terminal belongs to the UI; logs go to a file next to the data.
		logPath := filepath.Join(cfg.DataDir(), "pagelink.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Fatalf("log file: %v", err)
		}
		defer f.Close()
		logging.InitWriter(f, cfg.Logging.Level, cfg.Logging.Format)
	} else {
		logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	}
	logger := logging.For("main")
	logger.Info("device identity", "name", cfg.Device.Name, "fingerprint", id.Fingerprint, "link_key", crypto.FormatLinkKey(key.Public))

	var opts []session.Option
	if cfg.Cache.Enabled {
		st, err := boltstore.Open(cfg.CachePath(), false)
		if err != nil {
			log.Fatalf("cache: %v", err)
		}
		defer st.Close()
		// Disk writes stay off the polling loop.
		w := cache.NewWriter(cache.New(st, cache.WithMaxPages(cfg.Cache.MaxPages)), cache.DefaultQueueSize)
		defer func() {
			w.Close()
			written, dropped, failed := w.Counts()
			logging.For("main").Info("cache closed", "written", written, "dropped", dropped, "failed", failed)
		}()
		opts = append(opts, session.WithCatalogSink(w), session.WithPageSink(w))
	}

	srv := transport.NewServer(cfg.ServerConfig(trusted), key, nil)
	engine := session.New(srv, cfg.EngineConfig(), opts...)
	srv.SetHandler(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Listen(); err != nil {
		log.Fatalf("link: %v", err)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			logger.Error("link stopped", "err", err)
		}
	}()
	logger.Info("link listening", "addr", srv.Addr(), "trusted", len(trusted))

	engine.Enter()
	interval := cfg.Session.TickInterval.Duration
	if tui {
		model := ui.NewModel(engine, ui.Options{
			TickInterval:  interval,
			DisplayWidth:  cfg.Display.Width,
			DisplayHeight: cfg.Display.Height,
			DeviceName:    cfg.Device.Name,
		})
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Error("ui", "err", err)
		}
		// Covers a signal that stopped the program before the engine exited.
		engine.Exit()
	} else {
		err = runHeadless(ctx, engine, interval, os.Stdin, os.Stdout)
		if err != nil {
			logger.Error("headless loop", "err", err)
		}
	}

	stats := engine.Stats()
	logger.Info("shutting down", "frames", stats.Frames, "malformed", stats.Malformed, "pages", stats.Pages)
	srv.Stop()
}
