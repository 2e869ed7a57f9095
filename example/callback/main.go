package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/aegis-poller/pkg/aegispoll"
)

func main() {
	callback := func(_ context.Context, rec aegispoll.Record) error {
		fmt.Printf("%s metric=%s type=%s value=%g\n",
			rec.Time.Format(time.RFC3339Nano),
			rec.Metric,
			rec.Type,
			rec.Value,
		)
		return nil
	}

	rt, err := aegispoll.Conf("../../data/config.yaml",
		aegispoll.WithRecorder(aegispoll.NewCallbackRecorder("stdout", callback)))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
