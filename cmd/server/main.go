package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/astromechza/scoreboard/pkg/api"
	"github.com/astromechza/scoreboard/pkg/broadcast"
	"github.com/astromechza/scoreboard/pkg/carddb"
	"github.com/astromechza/scoreboard/pkg/config"
	"github.com/astromechza/scoreboard/pkg/engine"
	"github.com/astromechza/scoreboard/pkg/game"
	"github.com/astromechza/scoreboard/pkg/journal"
	"github.com/astromechza/scoreboard/pkg/store"
	"github.com/astromechza/scoreboard/pkg/timer"
	"github.com/astromechza/scoreboard/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "", "the address to listen on, overrides SCOREBOARD_ADDR")
	envFileVar := flag.String("env-file", ".env", "optional .env file to read configuration from")
	flag.Parse()

	cfg, err := config.Load(*envFileVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}
	cfg.SetupLogging()

	slog.Info("Loading card database", "path", cfg.Database)
	cards := new(carddb.Database)
	if err := cards.Load(cfg.Database); err != nil {
		return fmt.Errorf("failed to load card database: %w", err)
	}

	st := store.New(cfg.SavesDir())
	if name, err := st.Resume(); err != nil {
		return fmt.Errorf("failed to resume saved game: %w", err)
	} else if name != "" {
		slog.Info("Resumed saved game", "snapshot", name)
	} else {
		doc, err := game.Default()
		if err != nil {
			return err
		}
		st.Replace(doc, "")
		slog.Info("Started from default template")
	}

	tm := timer.New(st, cfg.PersistInterval)
	if doc, ok := st.Current(); ok {
		tm.SetElapsed(doc.Settings.ElapsedSeconds)
		if st.Active() != "" && !doc.Settings.GameEnded {
			tm.Start()
			if doc.Settings.TimePause != nil {
				tm.Pause()
			}
		}
	}
	defer tm.Stop()

	var mirror broadcast.Mirror
	if cfg.NatsURL != "" {
		nm, err := broadcast.ConnectNats(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			return err
		}
		defer func() {
			if err := nm.Close(); err != nil {
				slog.Error("failed to close nats", "err", err)
			}
		}()
		mirror = nm
		slog.Info("Mirroring events to nats", "subject", cfg.NatsSubject)
	}
	gw := broadcast.NewGateway(cfg.SubscriberBuffer, mirror)

	slog.Info("Opening journal", "path", cfg.Journal)
	j, err := journal.Open(cfg.Journal, journal.DefaultBuffer)
	if err != nil {
		return err
	}
	defer j.Close()

	eng := engine.New(st, tm, cards, gw, engine.Options{Journal: j})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)
	for _, run := range []func(context.Context){eng.Run, st.Run, j.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	s := &api.Server{
		Store:     st,
		Timer:     tm,
		Cards:     cards,
		Gateway:   gw,
		Engine:    eng,
		Journal:   j,
		PublicDir: cfg.PublicDir,
		Addr:      cfg.Addr,
	}
	httpServer := &http.Server{Addr: cfg.Addr, Handler: s.Handler(ctx)}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", cfg.Addr, "join", api.JoinURL(cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	tm.Stop()

	if err := st.Flush(); err != nil {
		slog.Error("failed to flush game", "err", err)
	} else if name := st.Active(); name != "" {
		slog.Info("flushed", "snapshot", name)
	}
	if doc, ok := st.Current(); ok {
		categories := doc.Settings.ObjectiveCategories
		if svgPath, err := viz.RenderToTemp(doc, func(id string) int { return cards.PointValue(id, categories...) }); err != nil {
			slog.Error("failed to render", "err", err)
		} else {
			slog.Info("rendered", "path", "file://"+svgPath)
		}
	}
	return nil
}
