package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/keyserv/internal/server"
	"github.com/dmitrijs2005/keyserv/internal/server/config"
)

func main() {

	ctx := context.Background()

	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("initialization error: %v", err)
	}

	app.Run(ctx)
}
