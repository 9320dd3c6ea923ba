package main

import (
	"flag"
	"log"
	"os"

	"GammaScalp/internal/di"
	"GammaScalp/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("env=%s mode=%s feed=%s symbols=%v", cfg.Environment, cfg.Trading.Mode, cfg.Feed.Source, cfg.Trading.Symbols)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Blocks until SIGINT/SIGTERM, then drains.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
