package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/aegis-poller"
)

func main() {
	rec, records, closeRecords := aegispoll.NewChannelRecorder("fanout", 32)
	defer closeRecords()

	rt, err := aegispoll.Conf("../../data/config.yaml", aegispoll.WithRecorder(rec))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go fanoutWorker("archive", records)
	go dumpStore(ctx, rt.Store(), 30*time.Second)

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, records <-chan aegispoll.Record) {
	for rec := range records {
		fmt.Printf("[%s] %s=%g (%s)\n", name, rec.Metric, rec.Value, rec.Time.Format(time.RFC3339))
	}
}

func dumpStore(ctx context.Context, st aegispoll.MetricStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range st.Names() {
				if s, ok := st.Get(name); ok {
					fmt.Printf("[store] %s=%g at %s\n", name, s.Value, s.Timestamp.Format(time.RFC3339))
				}
			}
		}
	}
}
