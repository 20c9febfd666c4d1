package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisSpark"
)

func main() {
	cfg, err := aegisspark.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, messages, closeMessages := aegisspark.NewChannelTransport("fanout", 32)
	defer closeMessages()

	gw, err := aegisspark.NewGateway(cfg, aegisspark.WithTransport(tr))
	if err != nil {
		log.Fatalf("build gateway: %v", err)
	}

	go fanoutWorker("uplink", messages)

	// push-based producers share the deadband filter and sequence with sampled tags
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if err := gw.Publish(ctx, cfg.Tags[0].ID, aegisspark.NumberValue(float64(t.Second())), t); err != nil {
					log.Printf("publish: %v", err)
				}
			}
		}
	}()

	if err := gw.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("gateway error: %v", err)
	}
}

func fanoutWorker(name string, messages <-chan aegisspark.OutboundMessage) {
	for msg := range messages {
		fmt.Printf("[%s] %s seq=%d %d bytes at %s\n", name, msg.Topic, msg.Seq, len(msg.Payload), time.Now().Format(time.RFC3339))
	}
}
