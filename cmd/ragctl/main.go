package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aimerfeng/docagent/internal/app"
	"github.com/aimerfeng/docagent/internal/auth"
	"github.com/aimerfeng/docagent/internal/cli"
	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Keep command output readable; component logs only surface on warnings
	logCfg := cfg.Logging
	if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "warn"
	}
	logging.Setup(&logCfg, cfg.Server.Env)

	cli.SetIssuer(auth.NewIssuer(&cfg.Auth))
	cli.SetCatalog(llm.NewClient(&cfg.Model), cfg.Model.LLMModel)
	cli.SetConnector(func(ctx context.Context) (*cli.Services, func(), error) {
		a, err := app.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return &cli.Services{
			Documents:   a.Ingestion,
			Searcher:    a.Retriever,
			ActiveModel: a.Active.Snapshot().ID,
		}, a.Close, nil
	})

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
