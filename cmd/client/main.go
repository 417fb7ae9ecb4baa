package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/scoreboard/pkg/broadcast"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the address to connect to")
	timeoutVar := flag.Duration("timeout", 5*time.Second, "how long send waits for the echo")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] watch | send <event> [json data]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	baseUrl, err := url.Parse("http://" + *addrVar)
	if err != nil {
		return err
	}
	c := &client{baseUrl: baseUrl}

	switch flag.Arg(0) {
	case "", "watch":
		return c.watch()
	case "send":
		if flag.NArg() < 2 {
			flag.Usage()
			return fmt.Errorf("send needs an event name")
		}
		m := broadcast.Message{Event: flag.Arg(1)}
		if flag.NArg() > 2 {
			if !json.Valid([]byte(flag.Arg(2))) {
				return fmt.Errorf("data is not valid json: %s", flag.Arg(2))
			}
			m.Data = json.RawMessage(flag.Arg(2))
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeoutVar)
		defer cancel()
		return c.send(ctx, m)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", flag.Arg(0))
	}
}

type client struct {
	baseUrl *url.URL
}

func (c *client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.baseUrl.JoinPath("ws")
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// send writes one event and waits until the server echoes it back.
func (c *client) send(ctx context.Context, m broadcast.Message) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(m); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	for {
		var got broadcast.Message
		if err := conn.ReadJSON(&got); err != nil {
			return fmt.Errorf("no echo for %s: %w", m.Event, err)
		}
		if got.Event == m.Event {
			slog.Info("sent", "event", got.Event, "data", string(got.Data))
			return nil
		}
	}
}

func (c *client) watch() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchContinuously(ctx)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	return nil
}

func (c *client) watchContinuously(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := c.watchOnce(ctx); err != nil {
			slog.Error("connection lost", "err", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			slog.Info("stopping watch")
			return
		}
	}
}

func (c *client) watchOnce(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("connected", "url", c.baseUrl.String())

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var m broadcast.Message
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		fmt.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), m.Event, string(m.Data))
	}
}
