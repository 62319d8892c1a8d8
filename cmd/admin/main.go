package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/polls/internal/flagx"
	"github.com/dmitrijs2005/polls/internal/server"
	"github.com/dmitrijs2005/polls/internal/server/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	err = app.Run(ctx, flagx.Positional(os.Args[1:], config.ServerFlags()))
	if cerr := app.Close(); cerr != nil {
		log.Printf("close: %v", cerr)
	}

	if errors.Is(err, server.ErrUsage) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}
