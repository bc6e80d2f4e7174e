package main

import (
	"context"
	"log"
	"os"

	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server"
	"github.com/ajuno-labs/codex-api/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	app, err := server.NewApp(ctx, cfg, logging.NewJSON(os.Stdout, cfg.LogLevel))
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	app.Run(ctx)

}
