package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/aussiebroadwan/workspace/internal/workspace/app"
	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
)

func main() {
	cfg, err := app.LoadConfig(context.Background())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		if errors.Is(err, domain.ErrConfig) {
			log.Printf("invalid configuration: %v", err)
			os.Exit(2)
		}
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
