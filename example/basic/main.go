package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/aegis-poller"
)

func main() {
	rt, err := aegispoll.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("poller runtime exited: %v", err)
	}
}
