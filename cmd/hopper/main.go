package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hopper/internal/app"
	"hopper/internal/config"
)

func main() {
	var configPath = flag.String("config", "", "path to config file (.toml or .yaml); defaults to HOPPER_CONFIG, then hopper.toml/hopper.yaml/hopper.yml in the working directory, then the OS user config directory")
	flag.Parse()

	resolved, err := config.ResolveConfigPath(*configPath)
	if err != nil {
		log.Fatalf("resolve config path: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, resolved.Path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
