package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/otpkeeper/internal/app"
	"github.com/dmitrijs2005/otpkeeper/internal/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("%v", err)
		return
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := a.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
