package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lirancohen/adminpulse/internal/config"
	"github.com/lirancohen/adminpulse/internal/devserver"
	"github.com/lirancohen/adminpulse/internal/logging"
	"github.com/lirancohen/adminpulse/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to the dev backend config file (optional)")
	addr := flag.String("addr", "", "Listen address, overrides the config")
	dbPath := flag.String("db", "", "Path to SQLite database file, overrides the config")
	simulate := flag.Bool("simulate", false, "Emit synthetic events")
	flag.Parse()

	cfg := &config.Server{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadServer(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *simulate {
		cfg.Simulator.Enabled = true
	}
	cfg.ApplyDefaults()

	log, err := logging.New(cfg.Log, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}

	database, err := store.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	if err := database.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
		os.Exit(1)
	}

	server, err := devserver.New(cfg, database, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("adminpulse dev backend on http://%s (simulator: %t)\n", cfg.Listen, cfg.Simulator.Enabled)
	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Server stopped gracefully")
}
