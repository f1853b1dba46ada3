package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lirancohen/adminpulse/internal/adminapi"
	"github.com/lirancohen/adminpulse/internal/config"
	"github.com/lirancohen/adminpulse/internal/logging"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

const version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "adminpulse.yaml", "Path to the console config file")
	feedList := flag.String("feeds", "", "Comma separated feeds to run (default: every enabled feed)")
	loginEmail := flag.String("login", "", "Log in to a dev backend as this admin when no session cookie is configured")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("adminpulse v%s\n", version)
		os.Exit(0)
	}

	if err := run(*configPath, *feedList, *loginEmail); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, feedList, loginEmail string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := adminapi.New(adminapi.Config{
		URL:           cfg.API.URL,
		SessionCookie: cfg.API.SessionCookie,
		CookieName:    cfg.API.CookieName,
		Timeout:       cfg.API.Timeout.Std(),
		Logger:        log,
	})
	if err != nil {
		return err
	}
	if api.Session() == "" {
		if loginEmail == "" {
			return errors.New("no session cookie configured; set api.session_cookie or pass -login against a dev backend")
		}
		if err := api.Login(ctx, loginEmail); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", loginEmail)
	}

	conn, err := realtime.NewManager(realtime.Config{
		URL:            cfg.API.URL,
		ReconnectDelay: cfg.Realtime.ReconnectDelay.Std(),
		ConnectTimeout: cfg.Realtime.ConnectTimeout.Std(),
		IdleTimeout:    cfg.Realtime.IdleTimeout.Std(),
		Logger:         log,
	}, api)
	if err != nil {
		return err
	}

	selected, err := selectFeeds(cfg, feedList, conn, api, log)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return errors.New("no feeds selected")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchState(gctx, conn)
		return nil
	})
	for _, f := range selected {
		g.Go(func() error { return f.run(gctx) })
		g.Go(func() error {
			f.print(gctx)
			return nil
		})
	}

	names := make([]string, len(selected))
	for i, f := range selected {
		names[i] = f.name
	}
	fmt.Printf("Connecting to %s (feeds: %s)\n", cfg.API.URL, strings.Join(names, ", "))
	conn.Connect(ctx)

	<-gctx.Done()
	fmt.Println("\nShutting down...")
	conn.Disconnect()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchState prints every connection state transition
func watchState(ctx context.Context, conn *realtime.Manager) {
	states, stop := conn.Watch()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			fmt.Printf("[connection] %s\n", s)
		}
	}
}
